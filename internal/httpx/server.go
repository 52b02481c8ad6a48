package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ariefcatur/go-realtime-checkout/internal/cart"
	"github.com/ariefcatur/go-realtime-checkout/internal/checkout"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/metrics"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
	"github.com/ariefcatur/go-realtime-checkout/internal/redisx"
	"github.com/ariefcatur/go-realtime-checkout/internal/shipping"
)

const headerOwner = "X-Owner-ID"

// NewRouter builds the base router. timeout caps every request and must cover
// the slowest handler, gateway retries included.
func NewRouter(m *metrics.Metrics, g prometheus.Gatherer, timeout time.Duration) *chi.Mux {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(instrument(m))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if g != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(g))
	}
	return r
}

// instrument records count and latency per route pattern.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Request(route, status, start)
		})
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

// writeError maps domain errors to a status and a stable error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cie *checkout.CartInvalidError
		ise *inventory.InsufficientStockError
		ge  *payment.GatewayError
	)
	switch {
	case errors.As(err, &cie):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "cart_invalid", Message: err.Error(), Details: cie.Problems})
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, errorBody{Error: "insufficient_stock", Message: err.Error(), Details: ise})
	case errors.Is(err, shipping.ErrInvalidAddress):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_address", Message: err.Error()})
	case errors.Is(err, checkout.ErrShippingUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "shipping_unavailable", Message: err.Error()})
	case errors.Is(err, checkout.ErrPaymentMethodUnavailable):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "payment_method_unavailable", Message: err.Error()})
	case errors.Is(err, checkout.ErrInvalidPayer):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_payer", Message: err.Error()})
	case errors.Is(err, checkout.ErrCancelAfterPayment):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_paid", Message: err.Error()})
	case errors.Is(err, checkout.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_state", Message: err.Error()})
	case errors.Is(err, checkout.ErrCheckoutNotFound), errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_quantity", Message: err.Error()})
	case errors.Is(err, cart.ErrLineNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "line_not_found"})
	case errors.As(err, &ge):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "gateway_error", Message: err.Error()})
	case errors.Is(err, redisx.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "busy", Message: "order is being updated, retry"})
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

// owner is the opaque customer id set by the auth proxy.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(headerOwner)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing " + headerOwner})
		return "", false
	}
	return id, true
}
