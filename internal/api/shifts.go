package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/shift"
)

type openShiftRequest struct {
	OperatorID  string          `json:"operator_id" validate:"required"`
	BranchID    string          `json:"branch_id,omitempty"`
	InitialCash decimal.Decimal `json:"initial_cash" validate:"gte=0"`
}

type closeShiftRequest struct {
	FinalCash decimal.Decimal     `json:"final_cash" validate:"gte=0"`
	Closing   *model.ClosingInput `json:"closing,omitempty"`
}

// currentShift resolves the shift context a write runs against.
func (h *Handler) currentShift(r *http.Request) (shift.Context, error) {
	return h.Shifts.Current(r.Context(), h.TerminalID)
}

func (h *Handler) OpenShift(w http.ResponseWriter, r *http.Request) {
	var req openShiftRequest
	if !bindAndValidate(w, r, &req) {
		return
	}
	branch := req.BranchID
	if branch == "" {
		branch = h.BranchID
	}
	s, err := h.Shifts.Open(r.Context(), shift.OpenRequest{
		BranchID:    branch,
		OperatorID:  req.OperatorID,
		TerminalID:  h.TerminalID,
		InitialCash: req.InitialCash,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, s)
}

func (h *Handler) CurrentShift(w http.ResponseWriter, r *http.Request) {
	sc, err := h.currentShift(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sc)
}

func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	s, err := h.Shifts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, s)
}

func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	var req closeShiftRequest
	if !bindAndValidate(w, r, &req) {
		return
	}
	meta, err := req.Closing.Metadata()
	if err != nil {
		writeError(w, badRequest("closing metadata: %v", err))
		return
	}
	res, err := h.Shifts.Close(r.Context(), chi.URLParam(r, "id"), req.FinalCash, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) ShiftSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Shifts.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sum)
}

func (h *Handler) PrintClosingReport(w http.ResponseWriter, r *http.Request) {
	if !h.printerReady(w) {
		return
	}
	sum, err := h.Shifts.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := h.Printer.PrintClosingReport(sum)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, printResult{Path: path})
}
