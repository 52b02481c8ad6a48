package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-realtime-checkout/internal/checkout"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
)

// Checkout is the part of the orchestrator the HTTP layer drives.
type Checkout interface {
	StartCheckout(ctx context.Context, req checkout.StartRequest) (checkout.Session, error)
	ChoosePaymentMethod(ctx context.Context, checkoutID string, req checkout.PaymentRequest) (checkout.PaymentResult, error)
	Cancel(ctx context.Context, owner, checkoutID, reason string) (checkout.StatusView, error)
	GetOrderStatus(ctx context.Context, owner, id string) (checkout.StatusView, error)
	ListOrders(ctx context.Context, owner string) ([]orders.Order, error)
}

type Catalog interface {
	ListVariants(ctx context.Context) ([]inventory.Variant, error)
}

type OrdersHandler struct {
	Checkout Checkout
	Catalog  Catalog
	// Timeout bounds one checkout call, gateway retries included.
	Timeout time.Duration
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/checkouts", h.startCheckout)
	r.Post("/checkouts/{id}/payment", h.choosePayment)
	r.Post("/checkouts/{id}/cancel", h.cancel)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	vs, err := h.Catalog.ListVariants(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	type product struct {
		inventory.Variant
		EffectivePriceCents int64 `json:"effective_price_cents"`
	}
	out := make([]product, 0, len(vs))
	for _, v := range vs {
		out = append(out, product{Variant: v, EffectivePriceCents: v.EffectivePrice()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) startCheckout(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	var req checkout.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	req.OwnerID = ownerID
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Checkout.StartCheckout(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if s.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, s)
}

func (h *OrdersHandler) choosePayment(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	var req checkout.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if !req.Method.Valid() {
		badRequest(w, "unknown payment method")
		return
	}
	req.OwnerID = ownerID

	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Checkout.ChoosePaymentMethod(ctx, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	var req cancelReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Checkout.Cancel(ctx, ownerID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Checkout.GetOrderStatus(ctx, ownerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Checkout.ListOrders(ctx, ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}
