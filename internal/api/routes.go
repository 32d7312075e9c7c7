// Package api exposes the terminal's typed command surface to the local UI
// over a loopback HTTP server. Every response is an envelope carrying either
// data or a coded error the UI can act on.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/delivery"
	"pos-sync-terminal/internal/device"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/reservation"
	"pos-sync-terminal/internal/shift"
	"pos-sync-terminal/internal/store"
	"pos-sync-terminal/internal/sync"
)

// Deps are the services the handlers drive. Printer may be nil on terminals
// without a spool directory.
type Deps struct {
	TerminalID string
	BranchID   string
	AuthToken  string

	Shifts     *shift.Manager
	Store      *store.Store
	Deliveries *delivery.Service
	Ledger     *reservation.Ledger
	Queue      *queue.Queue
	Engine     *sync.Engine
	Printer    *device.Printer
	Migration  database.MigrationReport

	// BaseContext outlives requests; the sync engine is started under it.
	BaseContext context.Context
}

type Handler struct {
	Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	return &Handler{Deps: deps}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.AuthToken))

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", h.GetSyncStatus)
			r.Post("/trigger", h.TriggerSync)
			r.Post("/start", h.StartSync)
			r.Post("/stop", h.StopSync)
			r.Get("/history", h.GetSyncHistory)
			r.Get("/tables", h.GetSyncTables)
			r.Get("/dead-letters", h.GetDeadLetters)
		})

		r.Route("/shifts", func(r chi.Router) {
			r.Post("/", h.OpenShift)
			r.Get("/current", h.CurrentShift)
			r.Get("/{id}", h.GetShift)
			r.Post("/{id}/close", h.CloseShift)
			r.Get("/{id}/summary", h.ShiftSummary)
			r.Post("/{id}/report", h.PrintClosingReport)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOpenOrders)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/items", h.AddOrderItems)
			r.Delete("/{id}/items/{itemID}", h.RemoveOrderItem)
			r.Post("/{id}/complete", h.CompleteOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/kitchen-ticket", h.PrintKitchenTicket)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateSale)
			r.Get("/", h.ListSales)
			r.Get("/{id}", h.GetSale)
			r.Post("/{id}/ticket", h.PrintTicket)
		})

		r.Post("/expenses", h.CreateExpense)
		r.Post("/tips", h.CreateTip)

		r.Route("/deliveries", func(r chi.Router) {
			r.Post("/", h.CreateDelivery)
			r.Get("/{id}", h.GetDelivery)
			r.Post("/{id}/dispatch", h.DispatchDelivery)
			r.Post("/{id}/delivered", h.MarkDelivered)
			r.Post("/{id}/cancel", h.CancelDelivery)
		})

		r.Get("/reservations", h.GetReservations)
		r.Get("/products", h.ListProducts)
		r.Get("/system/migrations", h.GetMigrationReport)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"terminal_id": h.TerminalID,
		"degraded":    h.Migration.Degraded(),
	})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware checks the bearer token shared with the local UI. An empty
// token disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, &requestError{status: http.StatusUnauthorized, code: "unauthorized", detail: "missing or invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request through the global zap logger.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
