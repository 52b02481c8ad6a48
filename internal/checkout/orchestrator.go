// Package checkout drives a cart through pricing, shipping, reservation and
// payment into a durable order, and applies gateway confirmations to it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-realtime-checkout/internal/cart"
	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/logx"
	"github.com/ariefcatur/go-realtime-checkout/internal/metrics"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
	"github.com/ariefcatur/go-realtime-checkout/internal/shipping"
)

type Carts interface {
	Snapshot(ctx context.Context, owner string) (*cart.Cart, error)
	Clear(ctx context.Context, owner string) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, topic string, ev orders.Envelope) error
}

type Deps struct {
	Carts    Carts
	Ledger   inventory.Ledger
	Shipping shipping.Quoter
	Gateway  payment.Gateway
	Orders   orders.Store
	Sessions SessionStore
	Locks    Locker
	Events   Publisher
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

type Orchestrator struct {
	Deps
	cfg      config.Checkout
	pay      config.Payment
	ship     config.Shipping
	rules    payment.PlanRules
	producer string
}

func New(cfg config.Config, d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Locks == nil {
		d.Locks = NewKeyedMutex()
	}
	return &Orchestrator{
		Deps:     d,
		cfg:      cfg.Checkout,
		pay:      cfg.Payment,
		ship:     cfg.Shipping,
		rules:    payment.PlanRules{MaxInstallments: cfg.Payment.MaxInstallments, MinInstallmentCents: cfg.Payment.MinInstallmentValueCts},
		producer: cfg.ServiceName,
	}
}

type StartRequest struct {
	OwnerID         string           `json:"-"`
	Destination     shipping.Address `json:"destination"`
	PreferredMethod string           `json:"shipping_method"`
	IdempotencyKey  string           `json:"-"`
}

// StartCheckout prices the owner's cart against the ledger and quotes
// shipping. The result is a QUOTED session; nothing is reserved yet.
func (o *Orchestrator) StartCheckout(ctx context.Context, req StartRequest) (Session, error) {
	if err := req.Destination.Validate(); err != nil {
		return Session{}, err
	}

	id := uuid.NewString()
	if req.IdempotencyKey != "" {
		got, fresh, err := o.Sessions.ClaimKey(ctx, req.OwnerID, req.IdempotencyKey, id)
		if err != nil {
			return Session{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		if !fresh {
			s, err := o.Sessions.Get(ctx, got)
			if errors.Is(err, ErrCheckoutNotFound) {
				// request pertama masih jalan
				return Session{ID: got, OwnerID: req.OwnerID, Status: orders.StatusInitiated, Replayed: true}, nil
			}
			if err != nil {
				return Session{}, err
			}
			s.Replayed = true
			return s, nil
		}
	}

	s, err := o.quote(ctx, id, req)
	if err != nil {
		if req.IdempotencyKey != "" {
			_ = o.Sessions.ReleaseKey(context.WithoutCancel(ctx), req.OwnerID, req.IdempotencyKey)
		}
		return Session{}, err
	}
	return s, nil
}

func (o *Orchestrator) quote(ctx context.Context, id string, req StartRequest) (Session, error) {
	now := o.Now().UTC()
	c, err := o.Carts.Snapshot(ctx, req.OwnerID)
	if err != nil {
		return Session{}, fmt.Errorf("cart snapshot: %w", err)
	}
	if c.Empty() {
		return Session{}, &CartInvalidError{}
	}

	var (
		items    []orders.LineItem
		problems []LineProblem
		subtotal int64
		weight   int
		units    int
	)
	for _, l := range c.Lines {
		v, err := o.Ledger.GetVariant(ctx, l.ProductID, l.Size, l.Color)
		if errors.Is(err, inventory.ErrNotFound) {
			problems = append(problems, LineProblem{Line: l.LineKey, Reason: ProblemNotFound, Requested: l.Qty})
			continue
		}
		if err != nil {
			return Session{}, fmt.Errorf("get variant: %w", err)
		}
		if v.Available < l.Qty {
			problems = append(problems, LineProblem{Line: l.LineKey, Reason: ProblemInsufficientStock, Requested: l.Qty, Available: v.Available})
			continue
		}
		it := orders.LineItem{
			VariantID:      v.ID,
			ProductID:      v.ProductID,
			Name:           v.Name,
			Size:           v.Size,
			Color:          v.Color,
			Qty:            l.Qty,
			UnitPriceCents: v.EffectivePrice(),
		}
		items = append(items, it)
		subtotal += it.SubtotalCents()
		weight += v.WeightGrams * l.Qty
		units += l.Qty
	}
	if len(problems) > 0 {
		return Session{}, &CartInvalidError{Problems: problems}
	}

	opts, err := o.quoteShipping(ctx, req.Destination, shipping.Parcel{WeightGrams: weight, Items: units, ValueCents: subtotal})
	if err != nil {
		return Session{}, err
	}
	selected, _ := shipping.Select(opts, req.PreferredMethod, o.ship.DefaultMethod)

	s := Session{
		ID:            id,
		OwnerID:       req.OwnerID,
		Status:        orders.StatusQuoted,
		Items:         items,
		SubtotalCents: subtotal,
		Destination:   req.Destination,
		Options:       opts,
		Selected:      selected,
		History: []orders.StatusChange{
			{Status: orders.StatusInitiated, At: now},
			{Status: orders.StatusQuoted, At: now},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(o.cfg.SessionTTL),
	}
	if err := o.Sessions.Save(ctx, s); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	o.Metrics.Transition(string(orders.StatusQuoted))
	o.Log.InfoContext(ctx, "checkout quoted", "checkout_id", id, "owner_id", req.OwnerID,
		"subtotal_cents", subtotal, "shipping", selected.Method, "shipping_cents", selected.CostCents)
	return s, nil
}

func (o *Orchestrator) quoteShipping(ctx context.Context, dest shipping.Address, parcel shipping.Parcel) ([]shipping.Option, error) {
	var opts []shipping.Option
	err := retry(ctx, o.cfg.ShippingMaxAttempts, o.cfg.ShippingBackoff, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, o.cfg.ShippingTimeout)
		defer cancel()

		start := time.Now()
		got, err := o.Shipping.Quote(qctx, o.ship.OriginZIP, dest, parcel)
		o.Metrics.Shipping(start)
		if errors.Is(err, shipping.ErrInvalidAddress) {
			return permanent(err)
		}
		if err != nil {
			o.Log.WarnContext(ctx, "shipping quote failed", "err", err)
			return err
		}
		if len(got) == 0 {
			return permanent(errors.New("no shipping options for destination"))
		}
		opts = got
		return nil
	})
	if errors.Is(err, shipping.ErrInvalidAddress) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
	}
	return opts, nil
}

type PaymentRequest struct {
	// OwnerID must match the checkout owner when set.
	OwnerID      string         `json:"-"`
	Method       payment.Method `json:"method"`
	Installments int            `json:"installments"`
	Payer        payment.Payer  `json:"payer"`
}

type PaymentResult struct {
	Order      orders.Order `json:"order"`
	Plan       payment.Plan `json:"plan"`
	InvoiceURL string       `json:"invoice_url,omitempty"`
}

func (o *Orchestrator) methodEnabled(m payment.Method) bool {
	switch m {
	case payment.MethodPix:
		return o.pay.PixEnabled
	case payment.MethodCreditCard:
		return o.pay.CreditCardEnabled
	case payment.MethodDebitCard:
		return o.pay.DebitCardEnabled
	case payment.MethodBoleto:
		return o.pay.BoletoEnabled
	}
	return false
}

// ChoosePaymentMethod reserves stock for a quoted checkout, records the order
// as PAYMENT_PENDING and asks the gateway for a charge.
func (o *Orchestrator) ChoosePaymentMethod(ctx context.Context, checkoutID string, req PaymentRequest) (PaymentResult, error) {
	if !o.methodEnabled(req.Method) {
		return PaymentResult{}, fmt.Errorf("%w: %s", ErrPaymentMethodUnavailable, req.Method)
	}
	if req.Payer.Name == "" || req.Payer.Email == "" {
		return PaymentResult{}, fmt.Errorf("%w: name and email are required", ErrInvalidPayer)
	}
	ctx = logx.With(ctx, slog.String("order_id", checkoutID))

	unlock, err := o.lock(ctx, checkoutID)
	if err != nil {
		return PaymentResult{}, err
	}
	defer unlock()

	if existing, err := o.Orders.Get(ctx, checkoutID); err == nil {
		if !ownedBy(req.OwnerID, existing.OwnerID) {
			return PaymentResult{}, ErrCheckoutNotFound
		}
		if existing.Reached(orders.StatusPaid) {
			return PaymentResult{}, ErrCancelAfterPayment
		}
		return PaymentResult{}, invalidState("checkout %s already has an order in %s", checkoutID, existing.Status)
	} else if !errors.Is(err, orders.ErrNotFound) {
		return PaymentResult{}, err
	}

	s, err := o.Sessions.Get(ctx, checkoutID)
	if err != nil {
		return PaymentResult{}, err
	}
	if !ownedBy(req.OwnerID, s.OwnerID) {
		return PaymentResult{}, ErrCheckoutNotFound
	}
	if s.Status != orders.StatusQuoted {
		return PaymentResult{}, invalidState("checkout %s is %s", checkoutID, s.Status)
	}

	res, err := o.Ledger.Reserve(ctx, reservationItems(s.Items))
	if err != nil {
		// InsufficientStockError dikembalikan apa adanya, session tetap QUOTED
		return PaymentResult{}, err
	}

	now := o.Now().UTC()
	total := s.TotalCents()
	plan := o.rules.Plan(req.Method, total, req.Installments)
	ord := orders.Order{
		ID:                   s.ID,
		OwnerID:              s.OwnerID,
		Items:                s.Items,
		ShippingMethod:       s.Selected.Method,
		ShippingCents:        s.Selected.CostCents,
		SubtotalCents:        s.SubtotalCents,
		TotalCents:           total,
		PaymentMethod:        req.Method,
		Installments:         plan.Installments,
		InstallmentCents:     plan.InstallmentCents,
		Payer:                req.Payer,
		Destination:          s.Destination,
		ReservationID:        res.ID,
		ReservationExpiresAt: res.ExpiresAt,
		History: append(append([]orders.StatusChange(nil), s.History...),
			orders.StatusChange{Status: orders.StatusReserved, At: now},
			orders.StatusChange{Status: orders.StatusPaymentPending, At: now},
		),
		CreatedAt: now,
		UpdatedAt: now,
	}
	attempt := o.newAttempt(ord, res.ID)
	ord.Attempts = []orders.PaymentAttempt{attempt}
	if err := o.Orders.Create(ctx, ord); err != nil {
		_ = o.Ledger.Release(context.WithoutCancel(ctx), res.ID)
		return PaymentResult{}, fmt.Errorf("create order: %w", err)
	}
	ord.Status = orders.StatusPaymentPending
	o.Metrics.Transition(string(orders.StatusReserved))
	o.Metrics.Transition(string(orders.StatusPaymentPending))
	o.publishStatus(ctx, ord.ID, orders.StatusQuoted, orders.StatusPaymentPending, "")
	o.Log.InfoContext(ctx, "order created", "total_cents", total, "method", req.Method,
		"installments", plan.Installments, "installments_adjusted", plan.Adjusted, "reservation_id", res.ID)

	s.OrderCreated = true
	if err := o.Sessions.Save(ctx, s); err != nil {
		o.Log.WarnContext(ctx, "session update failed", "err", err)
	}
	if err := o.Carts.Clear(ctx, s.OwnerID); err != nil {
		o.Log.WarnContext(ctx, "cart clear failed", "err", err)
	}

	ch, err := o.charge(ctx, &ord, attempt)
	if err != nil {
		return PaymentResult{Order: ord, Plan: plan}, err
	}
	if ch.Status != payment.ChargePending {
		// kartu bisa langsung CONFIRMED tanpa nunggu webhook
		if _, err := o.applyConfirmation(ctx, ord.ID, payment.Confirmation{
			TransactionRef: ch.TransactionRef, Status: ch.Status, AmountCents: total,
		}); err != nil && !errors.Is(err, ErrReconciliationConflict) {
			return PaymentResult{}, err
		}
	}
	latest, err := o.Orders.Get(ctx, ord.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Order: latest, Plan: plan, InvoiceURL: ch.InvoiceURL}, nil
}

func reservationItems(items []orders.LineItem) []inventory.ItemQty {
	out := make([]inventory.ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, inventory.ItemQty{VariantID: it.VariantID, Qty: it.Qty})
	}
	return out
}

func (o *Orchestrator) newAttempt(ord orders.Order, reservationID string) orders.PaymentAttempt {
	now := o.Now().UTC()
	return orders.PaymentAttempt{
		ID:            uuid.NewString(),
		OrderID:       ord.ID,
		Method:        ord.PaymentMethod,
		AmountCents:   ord.TotalCents,
		Installments:  ord.Installments,
		ReservationID: reservationID,
		Status:        orders.AttemptPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// charge asks the gateway for a charge on attempt. Transient gateway errors
// are retried with a fresh attempt each time; when they run out the order
// becomes PAYMENT_FAILED and its stock is released.
func (o *Orchestrator) charge(ctx context.Context, ord *orders.Order, attempt orders.PaymentAttempt) (payment.Charge, error) {
	var lastErr error
	for try := 0; try <= o.cfg.GatewayMaxRetries; try++ {
		if try > 0 {
			attempt = o.newAttempt(*ord, ord.ReservationID)
			if err := o.Orders.SavePaymentAttempt(ctx, attempt); err != nil {
				return payment.Charge{}, err
			}
		}

		gctx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
		start := time.Now()
		ch, err := o.Gateway.CreateCharge(gctx, payment.ChargeRequest{
			OrderID:          ord.ID,
			AmountCents:      ord.TotalCents,
			Method:           ord.PaymentMethod,
			Installments:     ord.Installments,
			InstallmentCents: ord.InstallmentCents,
			Payer:            ord.Payer,
			Description:      "Pedido " + ord.ID,
			DueDate:          o.Now().Add(24 * time.Hour),
		})
		cancel()
		o.Metrics.Gateway("create_charge", start, err)

		if err == nil {
			attempt.TransactionRef = ch.TransactionRef
			attempt.UpdatedAt = o.Now().UTC()
			if err := o.Orders.SavePaymentAttempt(ctx, attempt); err != nil {
				return payment.Charge{}, err
			}
			return ch, nil
		}

		lastErr = err
		o.Log.WarnContext(ctx, "create charge failed", "attempt_id", attempt.ID, "try", try+1, "err", err)
		attempt.Status = orders.AttemptFailed
		attempt.FailureReason = err.Error()
		attempt.UpdatedAt = o.Now().UTC()
		if err := o.Orders.SavePaymentAttempt(ctx, attempt); err != nil {
			return payment.Charge{}, err
		}
		if !transient(err) {
			break
		}
	}

	var ge *payment.GatewayError
	if !errors.As(lastErr, &ge) {
		lastErr = &payment.GatewayError{Op: "create charge", Err: lastErr}
	}
	bg := context.WithoutCancel(ctx)
	if err := o.Ledger.Release(bg, ord.ReservationID); err != nil {
		o.Log.ErrorContext(ctx, "release after gateway failure", "err", err)
	}
	if err := o.transition(bg, ord, orders.StatusPaymentFailed, "gateway_error: "+lastErr.Error()); err != nil {
		return payment.Charge{}, errors.Join(lastErr, err)
	}
	return payment.Charge{}, lastErr
}

// transient is true for network failures and 5xx answers.
func transient(err error) bool {
	var ge *payment.GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode == 0 || ge.StatusCode >= 500
	}
	return true
}

// Cancel stops a checkout that has not been paid. Canceling twice is a no-op.
// A non-empty owner must own the checkout.
func (o *Orchestrator) Cancel(ctx context.Context, owner, checkoutID, reason string) (StatusView, error) {
	ctx = logx.With(ctx, slog.String("order_id", checkoutID))
	unlock, err := o.lock(ctx, checkoutID)
	if err != nil {
		return StatusView{}, err
	}
	defer unlock()

	ord, err := o.Orders.Get(ctx, checkoutID)
	switch {
	case err == nil:
		if !ownedBy(owner, ord.OwnerID) {
			return StatusView{}, ErrCheckoutNotFound
		}
		if err := o.expireIfDue(ctx, &ord); err != nil {
			return StatusView{}, err
		}
		switch {
		case ord.Status == orders.StatusCanceled:
			return orderView(ord), nil
		case ord.Reached(orders.StatusPaid):
			return StatusView{}, ErrCancelAfterPayment
		case ord.Status != orders.StatusPaymentPending:
			return StatusView{}, invalidState("order %s is %s", ord.ID, ord.Status)
		}
		if a, ok := ord.ActiveAttempt(); ok {
			a.Status = orders.AttemptSuperseded
			a.FailureReason = "canceled"
			a.UpdatedAt = o.Now().UTC()
			if err := o.Orders.SavePaymentAttempt(ctx, a); err != nil {
				return StatusView{}, err
			}
		}
		if err := o.Ledger.Release(ctx, ord.ReservationID); err != nil {
			return StatusView{}, fmt.Errorf("release: %w", err)
		}
		if err := o.transition(ctx, &ord, orders.StatusCanceled, reason); err != nil {
			return StatusView{}, err
		}
		return orderView(ord), nil
	case !errors.Is(err, orders.ErrNotFound):
		return StatusView{}, err
	}

	s, err := o.Sessions.Get(ctx, checkoutID)
	if err != nil {
		return StatusView{}, err
	}
	if !ownedBy(owner, s.OwnerID) {
		return StatusView{}, ErrCheckoutNotFound
	}
	if s.Status == orders.StatusCanceled {
		return sessionView(s), nil
	}
	if !orders.CanTransition(s.Status, orders.StatusCanceled) {
		return StatusView{}, invalidState("checkout %s is %s", s.ID, s.Status)
	}
	s.Status = orders.StatusCanceled
	s.History = append(s.History, orders.StatusChange{Status: orders.StatusCanceled, Reason: reason, At: o.Now().UTC()})
	if err := o.Sessions.Save(ctx, s); err != nil {
		return StatusView{}, err
	}
	o.Metrics.Transition(string(orders.StatusCanceled))
	return sessionView(s), nil
}

type StatusView struct {
	ID                  string                `json:"id"`
	Status              orders.Status         `json:"status"`
	Terminal            bool                  `json:"terminal"`
	Processing          bool                  `json:"processing"`
	FailureReason       string                `json:"failure_reason,omitempty"`
	NeedsReconciliation bool                  `json:"needs_reconciliation"`
	History             []orders.StatusChange `json:"history"`
	Order               *orders.Order         `json:"order,omitempty"`
}

func orderView(o orders.Order) StatusView {
	v := StatusView{
		ID:                  o.ID,
		Status:              o.Status,
		Terminal:            o.Status.Terminal(),
		Processing:          o.Status.Processing(),
		NeedsReconciliation: o.NeedsReconciliation,
		History:             o.History,
		Order:               &o,
	}
	switch o.Status {
	case orders.StatusPaymentFailed, orders.StatusExpired, orders.StatusCanceled:
		v.FailureReason = o.LastReason()
	}
	return v
}

func sessionView(s Session) StatusView {
	v := StatusView{
		ID:         s.ID,
		Status:     s.Status,
		Terminal:   s.Status.Terminal(),
		Processing: s.Status.Processing(),
		History:    s.History,
	}
	if s.Status == orders.StatusCanceled && len(s.History) > 0 {
		v.FailureReason = s.History[len(s.History)-1].Reason
	}
	return v
}

// GetOrderStatus reports the current state. A PAYMENT_PENDING order past its
// reservation expiry is expired on the way. A non-empty owner must own it.
func (o *Orchestrator) GetOrderStatus(ctx context.Context, owner, id string) (StatusView, error) {
	ord, err := o.Orders.Get(ctx, id)
	if err == nil {
		if !ownedBy(owner, ord.OwnerID) {
			return StatusView{}, ErrCheckoutNotFound
		}
		if o.due(ord) {
			unlock, err := o.lock(ctx, id)
			if err != nil {
				return StatusView{}, err
			}
			defer unlock()
			if ord, err = o.Orders.Get(ctx, id); err != nil {
				return StatusView{}, err
			}
			if err := o.expireIfDue(ctx, &ord); err != nil {
				return StatusView{}, err
			}
		}
		return orderView(ord), nil
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return StatusView{}, err
	}
	s, err := o.Sessions.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	if !ownedBy(owner, s.OwnerID) {
		return StatusView{}, ErrCheckoutNotFound
	}
	return sessionView(s), nil
}

// ownedBy: owner kosong dipakai caller internal (worker, test).
func ownedBy(owner, actual string) bool {
	return owner == "" || owner == actual
}

func (o *Orchestrator) ListOrders(ctx context.Context, owner string) ([]orders.Order, error) {
	return o.Orders.ListByOwner(ctx, owner)
}

func (o *Orchestrator) due(ord orders.Order) bool {
	return ord.Status == orders.StatusPaymentPending &&
		!ord.ReservationExpiresAt.IsZero() &&
		o.Now().After(ord.ReservationExpiresAt)
}

// expireIfDue moves an overdue PAYMENT_PENDING order to EXPIRED and frees
// its stock. Caller holds the order lock.
func (o *Orchestrator) expireIfDue(ctx context.Context, ord *orders.Order) error {
	if !o.due(*ord) {
		return nil
	}
	if a, ok := ord.ActiveAttempt(); ok {
		a.Status = orders.AttemptFailed
		a.FailureReason = "reservation expired"
		a.UpdatedAt = o.Now().UTC()
		if err := o.Orders.SavePaymentAttempt(ctx, a); err != nil {
			return err
		}
		for i := range ord.Attempts {
			if ord.Attempts[i].ID == a.ID {
				ord.Attempts[i] = a
			}
		}
	}
	if err := o.Ledger.Release(ctx, ord.ReservationID); err != nil {
		return fmt.Errorf("release expired reservation: %w", err)
	}
	return o.transition(ctx, ord, orders.StatusExpired, "reservation expired")
}

// transition appends a status to the order and keeps ord in sync.
func (o *Orchestrator) transition(ctx context.Context, ord *orders.Order, to orders.Status, reason string) error {
	from := ord.Status
	ch := orders.StatusChange{Status: to, Reason: reason, At: o.Now().UTC()}
	if err := o.Orders.AppendStatus(ctx, ord.ID, ch); err != nil {
		return fmt.Errorf("order %s %s -> %s: %w", ord.ID, from, to, err)
	}
	ord.Status = to
	ord.History = append(ord.History, ch)
	ord.UpdatedAt = ch.At
	o.Metrics.Transition(string(to))
	o.Log.InfoContext(ctx, "order status changed", "from", from, "to", to, "reason", reason)
	o.publishStatus(ctx, ord.ID, from, to, reason)
	return nil
}

func (o *Orchestrator) publishStatus(ctx context.Context, orderID string, from, to orders.Status, reason string) {
	o.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, orderID,
		orders.StatusChangedPayload{OrderID: orderID, From: from, To: to, Reason: reason})
}

func (o *Orchestrator) publish(ctx context.Context, topic, eventType, orderID string, payload any) error {
	if o.Events == nil {
		return nil
	}
	ev, err := orders.NewEnvelope(eventType, o.producer, orderID, traceID(ctx), o.Now(), payload)
	if err == nil {
		err = o.Events.PublishEvent(ctx, topic, ev)
	}
	if err != nil {
		o.Log.ErrorContext(ctx, "publish failed", "topic", topic, "err", err)
	}
	return err
}

func (o *Orchestrator) lock(ctx context.Context, id string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, o.cfg.LockTimeout)
	defer cancel()
	unlock, err := o.Locks.Acquire(lctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", id, err)
	}
	return unlock, nil
}
