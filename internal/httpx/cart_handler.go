package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-realtime-checkout/internal/cart"
)

type Carts interface {
	AddItem(ctx context.Context, owner, productID, size, color string, qty int) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, owner string, k cart.LineKey, qty int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, owner string, k cart.LineKey) (*cart.Cart, error)
	Snapshot(ctx context.Context, owner string) (*cart.Cart, error)
}

type CartHandler struct {
	Carts Carts
}

type cartItemReq struct {
	cart.LineKey
	Qty int `json:"qty"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/cart", h.get)
	r.Post("/cart/items", h.add)
	r.Patch("/cart/items", h.update)
	r.Delete("/cart/items", h.remove)
}

func decodeItem(w http.ResponseWriter, r *http.Request) (cartItemReq, bool) {
	var req cartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return req, false
	}
	if req.ProductID == "" {
		badRequest(w, "product_id is required")
		return req, false
	}
	return req, true
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.Snapshot(ctx, ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.AddItem(ctx, ownerID, req.ProductID, req.Size, req.Color, req.Qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) update(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.UpdateQuantity(ctx, ownerID, req.LineKey, req.Qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// remove takes the line from the query string: ?product_id=&size=&color=
func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	k := cart.LineKey{ProductID: q.Get("product_id"), Size: q.Get("size"), Color: q.Get("color")}
	if k.ProductID == "" {
		badRequest(w, "product_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.RemoveItem(ctx, ownerID, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
