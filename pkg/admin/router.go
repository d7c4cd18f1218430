// Package admin serves health, metrics and operator endpoints of a sagad
// process.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/order"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

type OrderService interface {
	Start(ctx context.Context, o events.Order) (*events.Event, error)
	Retry(ctx context.Context, orderID string) (*events.Event, error)
	Events(ctx context.Context, orderID string) ([]*events.Event, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (saga.SweepResult, error)
}

// Deps are the capabilities of the hosting process. Operator routes whose
// dependency is nil answer 501.
type Deps struct {
	Role    string
	JWT     JWTConfig
	Orders  OrderService
	Sweeper Sweeper
	Metrics http.Handler
}

type handler struct {
	deps Deps
}

func NewRouter(deps Deps) chi.Router {
	if deps.Metrics == nil {
		deps.Metrics = obs.MetricsHandler()
	}
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", deps.Metrics)

	r.Route("/admin", func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(deps.JWT))
		r.Post("/orders", h.startOrder)
		r.Get("/orders/{orderID}/events", h.orderEvents)
		r.Post("/orders/{orderID}/retry", h.retryOrder)
		r.Post("/sweep", h.sweep)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		obs.EventWithLatency(r.Context(), "admin.request", statusOf(ww.Status()), time.Since(start),
			"method", r.Method,
			"path", r.URL.Path,
			"http_status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func statusOf(code int) string {
	if code >= 500 {
		return obs.StatusError
	}
	return obs.StatusOK
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "role": h.deps.Role})
}

type orderResponse struct {
	OrderID       string            `json:"orderId"`
	TransactionID string            `json:"transactionId"`
	Status        events.SagaStatus `json:"status"`
}

func newOrderResponse(e *events.Event) orderResponse {
	return orderResponse{OrderID: e.OrderID, TransactionID: e.TransactionID, Status: e.Status}
}

func (h *handler) startOrder(w http.ResponseWriter, r *http.Request) {
	if h.deps.Orders == nil {
		writeError(w, http.StatusNotImplemented, "orders are not served by the "+h.deps.Role+" process")
		return
	}
	var o events.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.deps.Orders.Start(r.Context(), o)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newOrderResponse(e))
}

func (h *handler) orderEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Orders == nil {
		writeError(w, http.StatusNotImplemented, "orders are not served by the "+h.deps.Role+" process")
		return
	}
	list, err := h.deps.Orders.Events(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(list) == 0 {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) retryOrder(w http.ResponseWriter, r *http.Request) {
	if h.deps.Orders == nil {
		writeError(w, http.StatusNotImplemented, "orders are not served by the "+h.deps.Role+" process")
		return
	}
	e, err := h.deps.Orders.Retry(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if claims, ok := OperatorFromContext(r.Context()); ok {
		obs.Info(r.Context(), "order retried", "operator", claims.Operator, "order_id", e.OrderID, "transaction_id", e.TransactionID)
	}
	writeJSON(w, http.StatusAccepted, newOrderResponse(e))
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sweeper == nil {
		writeError(w, http.StatusNotImplemented, "deadlines are not tracked by the "+h.deps.Role+" process")
		return
	}
	res, err := h.deps.Sweeper.Sweep(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		obs.Error(r.Context(), "admin request failed", err, "path", r.URL.Path, "error_kind", obs.ErrKindInternal)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
