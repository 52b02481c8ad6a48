package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-realtime-checkout/internal/checkout"
	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
)

type Confirmer interface {
	HandleConfirmation(ctx context.Context, conf payment.Confirmation) (checkout.Outcome, error)
}

// WebhookHandler receives gateway notifications. Once a delivery is
// authenticated and decoded it is acknowledged with 200, even when it turned
// out to be a duplicate or a reconciliation conflict, so the gateway stops
// redelivering.
type WebhookHandler struct {
	Confirm Confirmer
	Token   string
	// Sandbox, kalau diisi, membuka route settle untuk dev.
	Sandbox *payment.Sandbox
	Log     *slog.Logger
	// Timeout bounds one confirmation. A decline may charge again.
	Timeout time.Duration
}

type sandboxSettleReq struct {
	TransactionRef string               `json:"transaction_ref"`
	Status         payment.ChargeStatus `json:"status"`
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payments", h.asaas)
	if h.Sandbox != nil {
		r.Post("/webhooks/sandbox", h.sandbox)
	}
}

// authorized menolak semua request kalau token belum di-set.
func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.Token == "" {
		return false
	}
	got := r.Header.Get("asaas-access-token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) == 1
}

func (h *WebhookHandler) asaas(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return
	}
	conf, err := payment.ParseAsaasWebhook(r.Body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h.apply(w, r, conf)
}

func (h *WebhookHandler) sandbox(w http.ResponseWriter, r *http.Request) {
	var req sandboxSettleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Status != payment.ChargePaid && req.Status != payment.ChargeFailed {
		badRequest(w, "status must be PAID or FAILED")
		return
	}
	conf, err := h.Sandbox.Settle(req.TransactionRef, req.Status)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
		return
	}
	h.apply(w, r, conf)
}

func (h *WebhookHandler) apply(w http.ResponseWriter, r *http.Request, conf payment.Confirmation) {
	d := h.Timeout
	if d <= 0 {
		d = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), d)
	defer cancel()

	out, err := h.Confirm.HandleConfirmation(ctx, conf)
	switch {
	case err == nil:
	case errors.Is(err, checkout.ErrReconciliationConflict), errors.Is(err, checkout.ErrUnknownTransaction):
		// sudah dicatat, gateway tidak perlu kirim ulang
		h.Log.WarnContext(ctx, "webhook acknowledged with problem", "transaction_ref", conf.TransactionRef, "err", err)
	default:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": out})
}
