package orders

import (
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
	"github.com/ariefcatur/go-realtime-checkout/internal/shipping"
)

// LineItem is the frozen price snapshot taken when the order is created.
type LineItem struct {
	VariantID      string `json:"variant_id"`
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Size           string `json:"size,omitempty"`
	Color          string `json:"color,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (l LineItem) SubtotalCents() int64 { return l.UnitPriceCents * int64(l.Qty) }

type StatusChange struct {
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "PENDING"
	AttemptPaid       AttemptStatus = "PAID"
	AttemptFailed     AttemptStatus = "FAILED"
	AttemptSuperseded AttemptStatus = "SUPERSEDED"
)

type PaymentAttempt struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	TransactionRef string         `json:"transaction_ref,omitempty"`
	Method         payment.Method `json:"method"`
	AmountCents    int64          `json:"amount_cents"`
	Installments   int            `json:"installments"`
	ReservationID  string         `json:"reservation_id"`
	Status         AttemptStatus  `json:"status"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Order struct {
	ID                   string           `json:"id"`
	OwnerID              string           `json:"owner_id"`
	Status               Status           `json:"status"`
	Items                []LineItem       `json:"items"`
	ShippingMethod       string           `json:"shipping_method"`
	ShippingCents        int64            `json:"shipping_cents"`
	SubtotalCents        int64            `json:"subtotal_cents"`
	TotalCents           int64            `json:"total_cents"`
	PaymentMethod        payment.Method   `json:"payment_method"`
	Installments         int              `json:"installments"`
	InstallmentCents     int64            `json:"installment_cents"`
	Payer                payment.Payer    `json:"payer"`
	Destination          shipping.Address `json:"destination"`
	ReservationID        string           `json:"reservation_id"`
	ReservationExpiresAt time.Time        `json:"reservation_expires_at"`
	NeedsReconciliation  bool             `json:"needs_reconciliation"`
	History              []StatusChange   `json:"history"`
	Attempts             []PaymentAttempt `json:"attempts"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// ActiveAttempt returns the attempt still waiting for the gateway, if any.
func (o Order) ActiveAttempt() (PaymentAttempt, bool) {
	for _, a := range o.Attempts {
		if a.Status == AttemptPending {
			return a, true
		}
	}
	return PaymentAttempt{}, false
}

func (o Order) Attempt(transactionRef string) (PaymentAttempt, bool) {
	for _, a := range o.Attempts {
		if a.TransactionRef != "" && a.TransactionRef == transactionRef {
			return a, true
		}
	}
	return PaymentAttempt{}, false
}

// Reached reports whether the order has ever been in status s.
func (o Order) Reached(s Status) bool {
	for _, h := range o.History {
		if h.Status == s {
			return true
		}
	}
	return false
}

// LastReason is the reason recorded with the latest status change.
func (o Order) LastReason() string {
	if len(o.History) == 0 {
		return ""
	}
	return o.History[len(o.History)-1].Reason
}

// Conflict is a payment that arrived for an order that can no longer accept
// it. It is kept for manual reconciliation.
type Conflict struct {
	OrderID        string    `json:"order_id"`
	TransactionRef string    `json:"transaction_ref"`
	AmountCents    int64     `json:"amount_cents"`
	OrderStatus    Status    `json:"order_status"`
	Reason         string    `json:"reason"`
	DetectedAt     time.Time `json:"detected_at"`
}
