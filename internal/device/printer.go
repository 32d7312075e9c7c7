package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/shift"
)

// Printer renders receipts into a spool directory as PDFs sized for 80mm
// thermal paper. The spooler that feeds the physical printer watches that
// directory.
type Printer struct {
	spoolDir string
	business string
	now      func() time.Time
}

func NewPrinter(spoolDir, business string) *Printer {
	return &Printer{spoolDir: spoolDir, business: business, now: time.Now}
}

const (
	paperWidth = 80.0
	margin     = 4.0
)

func (p *Printer) newDoc(height float64) (*fpdf.Fpdf, float64) {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: paperWidth, Ht: height},
	})
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()
	return pdf, paperWidth - 2*margin
}

func (p *Printer) header(pdf *fpdf.Fpdf, w float64, title string) {
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(w, 6, tr(p.business), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(w, 5, tr(title), "", 1, "C", false, 0, "")
	pdf.CellFormat(w, 4, p.now().Format("02/01/2006 15:04"), "", 1, "C", false, 0, "")
	separator(pdf)
}

func separator(pdf *fpdf.Fpdf) {
	pdf.Ln(1)
	pdf.Line(margin, pdf.GetY(), paperWidth-margin, pdf.GetY())
	pdf.Ln(2)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(0)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "."
}

func (p *Printer) write(pdf *fpdf.Fpdf, name string) (string, error) {
	if err := os.MkdirAll(p.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("printer: create spool dir: %w", err)
	}
	path := filepath.Join(p.spoolDir, name)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("printer: write %s: %w", name, err)
	}
	logger.L().Info("Document spooled", zap.String("file", path))
	return path, nil
}

// PrintTicket renders the customer receipt for a sale.
func (p *Printer) PrintTicket(sale *model.Sale) (string, error) {
	pdf, w := p.newDoc(120 + float64(len(sale.Items))*5)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	p.header(pdf, w, "Venta "+shortID(sale.ID))

	c1, c2, c3 := w*0.55, w*0.15, w*0.30
	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(c1, 5, "Producto", "B", 0, "L", false, 0, "")
	pdf.CellFormat(c2, 5, "Cant", "B", 0, "C", false, 0, "")
	pdf.CellFormat(c3, 5, "Subtotal", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	for _, it := range sale.Items {
		name := it.ProductName
		if name == "" {
			name = it.ProductID
		}
		pdf.CellFormat(c1, 5, tr(truncate(name, 26)), "", 0, "L", false, 0, "")
		pdf.CellFormat(c2, 5, fmt.Sprintf("x%d", it.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(c3, 5, money(it.TotalPrice), "", 1, "R", false, 0, "")
	}
	separator(pdf)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(c1+c2, 6, "TOTAL", "", 0, "L", false, 0, "")
	pdf.CellFormat(c3, 6, money(sale.TotalAmount), "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(c1+c2, 4, tr("Pago ("+string(sale.PaymentMethod)+")"), "", 0, "L", false, 0, "")
	pdf.CellFormat(c3, 4, money(sale.TotalAmount), "", 1, "R", false, 0, "")
	if sale.Notes != "" {
		pdf.Ln(1)
		pdf.MultiCell(w, 4, tr(sale.Notes), "", "L", false)
	}

	pdf.Ln(3)
	pdf.SetFont("Helvetica", "I", 7)
	pdf.CellFormat(w, 4, tr("Gracias por su compra"), "", 1, "C", false, 0, "")

	return p.write(pdf, fmt.Sprintf("ticket_%s.pdf", sale.ID))
}

// PrintKitchenTicket renders the preparation slip for an order: items and
// quantities only, in large type.
func (p *Printer) PrintKitchenTicket(order *model.Order) (string, error) {
	pdf, w := p.newDoc(80 + float64(len(order.Items))*8)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	p.header(pdf, w, "Comanda "+shortID(order.ID))

	pdf.SetFont("Helvetica", "B", 9)
	if order.TableID != "" {
		pdf.CellFormat(w, 6, tr("Mesa "+order.TableID), "", 1, "L", false, 0, "")
	}
	if order.CustomerName != "" {
		pdf.CellFormat(w, 6, tr(order.CustomerName), "", 1, "L", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 11)
	for _, it := range order.Items {
		name := it.ProductName
		if name == "" {
			name = it.ProductID
		}
		pdf.CellFormat(w*0.2, 8, fmt.Sprintf("%d x", it.Quantity), "", 0, "L", false, 0, "")
		pdf.CellFormat(w*0.8, 8, tr(truncate(name, 22)), "", 1, "L", false, 0, "")
	}

	return p.write(pdf, fmt.Sprintf("kitchen_%s_%d.pdf", order.ID, p.now().Unix()))
}

// PrintClosingReport renders the till reconciliation for a shift.
func (p *Printer) PrintClosingReport(sum *shift.Summary) (string, error) {
	if sum == nil || sum.Shift == nil {
		return "", fmt.Errorf("printer: summary without shift")
	}
	pdf, w := p.newDoc(160)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	p.header(pdf, w, "Cierre de caja "+shortID(sum.Shift.ID))

	line := func(label string, v decimal.Decimal) {
		pdf.CellFormat(w*0.6, 5, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(w*0.4, 5, money(v), "", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(w, 5, tr("Apertura "+sum.Shift.StartedAt.Local().Format("02/01 15:04")), "", 1, "L", false, 0, "")
	if sum.Shift.EndedAt != nil {
		pdf.CellFormat(w, 5, tr("Cierre "+sum.Shift.EndedAt.Local().Format("02/01 15:04")), "", 1, "L", false, 0, "")
	}
	separator(pdf)

	line("Base inicial", sum.Shift.InitialCash)
	line(fmt.Sprintf("Ventas (%d)", sum.SalesCount), sum.SalesTotal)

	methods := make([]string, 0, len(sum.SalesByMethod))
	for m := range sum.SalesByMethod {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)
	for _, m := range methods {
		line("  "+m, sum.SalesByMethod[model.PaymentMethod(m)])
	}
	line("Gastos en efectivo", sum.CashExpenses)
	line("Propinas", sum.TipsTotal)
	separator(pdf)

	pdf.SetFont("Helvetica", "B", 9)
	line("Efectivo esperado", sum.ExpectedCash)
	if sum.Shift.FinalCash != nil {
		line("Efectivo contado", *sum.Shift.FinalCash)
	}
	if sum.Difference != nil {
		line("Diferencia", *sum.Difference)
	}

	return p.write(pdf, fmt.Sprintf("closing_%s.pdf", sum.Shift.ID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
