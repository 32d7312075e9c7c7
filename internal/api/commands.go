package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pos-sync-terminal/internal/delivery"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/store"
)

type itemsRequest struct {
	Items []model.ReservationItem `json:"items" validate:"required,min=1,dive"`
}

type printResult struct {
	Path string `json:"path"`
}

type deliveredResult struct {
	Sale    *model.Sale `json:"sale"`
	Created bool        `json:"created"`
}

func (h *Handler) printerReady(w http.ResponseWriter) bool {
	if h.Printer == nil {
		writeError(w, &requestError{status: http.StatusServiceUnavailable, code: "printer_unavailable", detail: "no printer configured"})
		return false
	}
	return true
}

// shiftParam returns the shift_id query parameter, falling back to the
// terminal's open shift.
func (h *Handler) shiftParam(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("shift_id"); id != "" {
		return id, nil
	}
	sc, err := h.currentShift(r)
	if err != nil {
		return "", err
	}
	return sc.ShiftID, nil
}

// Orders

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in store.OrderInput
	if !bindAndValidate(w, r, &in) {
		return
	}
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := h.Store.CreateOrder(r.Context(), sc, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, o)
}

func (h *Handler) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	shiftID, err := h.shiftParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	orders, err := h.Store.ListOpenOrders(r.Context(), shiftID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) AddOrderItems(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if !bindAndValidate(w, r, &req) {
		return
	}
	o, err := h.Store.AddOrderItems(r.Context(), chi.URLParam(r, "id"), req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) RemoveOrderItem(w http.ResponseWriter, r *http.Request) {
	o, err := h.Store.RemoveOrderItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var pay store.Payment
	if !bindAndValidate(w, r, &pay) {
		return
	}
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sale, err := h.Store.CompleteOrder(r.Context(), sc, chi.URLParam(r, "id"), pay)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sale)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.CancelOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": string(model.OrderCancelled)})
}

func (h *Handler) PrintKitchenTicket(w http.ResponseWriter, r *http.Request) {
	if !h.printerReady(w) {
		return
	}
	o, err := h.Store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := h.Printer.PrintKitchenTicket(o)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, printResult{Path: path})
}

// Sales

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var in store.SaleInput
	if !bindAndValidate(w, r, &in) {
		return
	}
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sale, err := h.Store.CreateSale(r.Context(), sc, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sale)
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	shiftID, err := h.shiftParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sales, err := h.Store.ListSalesByShift(r.Context(), shiftID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sales)
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Store.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sale)
}

func (h *Handler) PrintTicket(w http.ResponseWriter, r *http.Request) {
	if !h.printerReady(w) {
		return
	}
	sale, err := h.Store.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := h.Printer.PrintTicket(sale)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, printResult{Path: path})
}

// Expenses and tips

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var in store.ExpenseInput
	if !bindAndValidate(w, r, &in) {
		return
	}
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := h.Store.CreateExpense(r.Context(), sc, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, e)
}

func (h *Handler) CreateTip(w http.ResponseWriter, r *http.Request) {
	var in store.TipInput
	if !bindAndValidate(w, r, &in) {
		return
	}
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tip, err := h.Store.CreateTipDistribution(r.Context(), sc, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, tip)
}

// Deliveries

func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var in delivery.CreateInput
	if !bindAndValidate(w, r, &in) {
		return
	}
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := h.Deliveries.Create(r.Context(), sc, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, d)
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.Deliveries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (h *Handler) DispatchDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.Deliveries.Dispatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	var pay store.Payment
	if !bindAndValidate(w, r, &pay) {
		return
	}
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sale, created, err := h.Deliveries.MarkDelivered(r.Context(), sc, chi.URLParam(r, "id"), pay)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, deliveredResult{Sale: sale, Created: created})
}

func (h *Handler) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	released, err := h.Deliveries.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"released": released})
}

// Catalog and reservations

func (h *Handler) GetReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src := model.SourceRef{Type: model.SourceType(q.Get("source_type")), ID: q.Get("source_id")}
	if !src.Type.Valid() || src.ID == "" {
		writeError(w, badRequest("source_type and source_id are required"))
		return
	}
	res, err := h.Ledger.GetReservations(r.Context(), src)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, badRequest("active must be a boolean"))
			return
		}
		activeOnly = b
	}
	products, err := h.Store.ListProducts(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, products)
}

func (h *Handler) GetMigrationReport(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.Migration)
}
