package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/delivery"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
	"pos-sync-terminal/internal/reservation"
	"pos-sync-terminal/internal/shift"
	"pos-sync-terminal/internal/store"
	"pos-sync-terminal/internal/sync"
)

var validate = validator.New()

func init() {
	// Lets tags such as gt=0 apply to decimal fields.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

type envelope struct {
	OK    bool      `json:"ok"`
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code      string            `json:"code"`
	Detail    string            `json:"detail"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// requestError is an error the handler already knows how to present.
type requestError struct {
	status    int
	code      string
	detail    string
	retryable bool
	fields    map[string]string
}

func (e *requestError) Error() string { return e.code + ": " + e.detail }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, code: "invalid_input", detail: fmt.Sprintf(format, args...)}
}

type errorClass struct {
	target error
	status int
	code   string
}

// errorClasses is checked in order; the first match wins.
var errorClasses = []errorClass{
	{shift.ErrNoOpenShift, http.StatusConflict, "no_open_shift"},
	{shift.ErrShiftNotOpen, http.StatusConflict, "shift_not_open"},
	{shift.ErrShiftAlreadyOpen, http.StatusConflict, "shift_already_open"},
	{shift.ErrShiftNotFound, http.StatusNotFound, "shift_not_found"},
	{shift.ErrInvalidCash, http.StatusBadRequest, "invalid_cash"},
	{delivery.ErrNotFound, http.StatusNotFound, "delivery_not_found"},
	{delivery.ErrCancelled, http.StatusConflict, "delivery_cancelled"},
	{delivery.ErrAlreadyDelivered, http.StatusConflict, "delivery_already_delivered"},
	{delivery.ErrInvalidChannel, http.StatusBadRequest, "invalid_channel"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{store.ErrOrderNotPending, http.StatusConflict, "order_not_pending"},
	{store.ErrEmptySale, http.StatusBadRequest, "empty_sale"},
	{store.ErrProductInactive, http.StatusUnprocessableEntity, "product_inactive"},
	{store.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{reservation.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{reservation.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{reservation.ErrInvalidSource, http.StatusBadRequest, "invalid_source"},
	{model.ErrUnknownClosingKind, http.StatusBadRequest, "unknown_closing_kind"},
	{queue.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
	{sync.ErrAlreadyRunning, http.StatusConflict, "sync_running"},
}

func classify(err error) *apiError {
	var re *requestError
	if errors.As(err, &re) {
		return &apiError{Code: re.code, Detail: re.detail, Retryable: re.retryable, Fields: re.fields}
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return &apiError{Code: c.code, Detail: err.Error(), Retryable: shift.IsRetryable(err)}
		}
	}
	if remote.IsTransient(err) {
		return &apiError{Code: "remote_unavailable", Detail: err.Error(), Retryable: true}
	}
	return &apiError{Code: "internal", Detail: err.Error()}
}

func statusFor(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status
		}
	}
	if remote.IsTransient(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Warn("failed to write response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, envelope{Error: classify(err)})
}

// bindAndValidate decodes the JSON body into req and runs its validate tags.
// It writes the error response itself and reports false on failure.
func bindAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		writeError(w, &requestError{status: http.StatusBadRequest, code: "bad_request", detail: "invalid JSON: " + err.Error()})
		return false
	}
	if err := validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			writeError(w, err)
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Namespace()] = fe.Tag()
		}
		writeError(w, &requestError{
			status: http.StatusUnprocessableEntity,
			code:   "validation_failed",
			detail: "request failed validation",
			fields: fields,
		})
		return false
	}
	return true
}
