package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/logx"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
)

// Outcome says what a confirmation did to the order.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRetried   Outcome = "retried"
	OutcomeConflict  Outcome = "conflict"
	OutcomeIgnored   Outcome = "ignored"
)

// HandleConfirmation applies a gateway result, from a webhook or a poll, to
// the order that owns the transaction. Replaying a confirmation is a no-op.
func (o *Orchestrator) HandleConfirmation(ctx context.Context, conf payment.Confirmation) (Outcome, error) {
	ord, err := o.Orders.FindByTransactionRef(ctx, conf.TransactionRef)
	if errors.Is(err, orders.ErrNotFound) && conf.OrderID != "" {
		ord, err = o.Orders.Get(ctx, conf.OrderID)
	}
	if errors.Is(err, orders.ErrNotFound) {
		o.Metrics.Confirmation("unknown")
		return OutcomeIgnored, fmt.Errorf("%w: %s", ErrUnknownTransaction, conf.TransactionRef)
	}
	if err != nil {
		return "", err
	}

	ctx = logx.With(ctx, slog.String("order_id", ord.ID), slog.String("transaction_ref", conf.TransactionRef))
	unlock, err := o.lock(ctx, ord.ID)
	if err != nil {
		return "", err
	}
	defer unlock()

	out, err := o.applyConfirmation(ctx, ord.ID, conf)
	o.Metrics.Confirmation(string(out))
	return out, err
}

// applyConfirmation is HandleConfirmation with the order lock already held.
func (o *Orchestrator) applyConfirmation(ctx context.Context, orderID string, conf payment.Confirmation) (Outcome, error) {
	ord, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}

	if conf.Status == payment.ChargePending {
		return OutcomeIgnored, nil
	}
	if conf.Status == payment.ChargePaid {
		return o.applyPaid(ctx, &ord, conf)
	}
	return o.applyFailed(ctx, &ord, conf)
}

func (o *Orchestrator) applyPaid(ctx context.Context, ord *orders.Order, conf payment.Confirmation) (Outcome, error) {
	attempt, known := ord.Attempt(conf.TransactionRef)
	if known && attempt.Status == orders.AttemptPaid {
		return OutcomeDuplicate, nil
	}

	// pembayaran yang telat dicek dulu terhadap expiry
	if known && attempt.Status == orders.AttemptPending {
		if err := o.expireIfDue(ctx, ord); err != nil {
			return "", err
		}
		attempt, _ = ord.Attempt(conf.TransactionRef)
	}

	switch {
	case ord.Status != orders.StatusPaymentPending:
		return o.conflict(ctx, ord, attempt, known, conf, "payment for "+string(ord.Status)+" order")
	case !known || attempt.Status != orders.AttemptPending:
		return o.conflict(ctx, ord, attempt, known, conf, "payment on inactive attempt")
	}
	if want := minPaidCents(attempt); conf.AmountCents > 0 && conf.AmountCents < want {
		return o.conflict(ctx, ord, attempt, known, conf,
			fmt.Sprintf("amount mismatch: paid %d, expected %d", conf.AmountCents, want))
	}

	if err := o.Ledger.Commit(ctx, ord.ReservationID); err != nil {
		if !errors.Is(err, inventory.ErrReservationExpired) {
			return "", fmt.Errorf("commit reservation: %w", err)
		}
		if err := o.transition(ctx, ord, orders.StatusExpired, "reservation expired before payment"); err != nil {
			return "", err
		}
		return o.conflict(ctx, ord, attempt, known, conf, "reservation expired before payment")
	}

	attempt.Status = orders.AttemptPaid
	attempt.UpdatedAt = o.Now().UTC()
	if err := o.Orders.SavePaymentAttempt(ctx, attempt); err != nil {
		return "", err
	}
	if err := o.transition(ctx, ord, orders.StatusPaid, ""); err != nil {
		return "", err
	}
	o.enqueueFulfillment(ctx, ord, conf.TransactionRef)
	return OutcomeApplied, nil
}

// minPaidCents is the smallest amount a paid confirmation may carry. The
// gateway reports a split card charge per installment, and the installments
// may differ by a cent, so the floor of an even split is accepted.
func minPaidCents(a orders.PaymentAttempt) int64 {
	if a.Installments > 1 {
		return a.AmountCents / int64(a.Installments)
	}
	return a.AmountCents
}

// enqueueFulfillment publishes order.paid and moves the order to FULFILLING.
// If publishing fails the order stays PAID for ResumeFulfillment.
func (o *Orchestrator) enqueueFulfillment(ctx context.Context, ord *orders.Order, ref string) {
	err := o.publish(ctx, orders.TopicOrderPaid, orders.EventOrderPaid, ord.ID, orders.OrderPaidPayload{
		OrderID:        ord.ID,
		OwnerID:        ord.OwnerID,
		TransactionRef: ref,
		TotalCents:     ord.TotalCents,
		Items:          ord.Items,
	})
	if err != nil {
		return
	}
	if err := o.transition(ctx, ord, orders.StatusFulfilling, ""); err != nil {
		o.Log.ErrorContext(ctx, "fulfilling transition failed", "err", err)
	}
}

// conflict records a payment the order can no longer accept. The order status
// is left alone.
func (o *Orchestrator) conflict(ctx context.Context, ord *orders.Order, attempt orders.PaymentAttempt, known bool, conf payment.Confirmation, reason string) (Outcome, error) {
	now := o.Now().UTC()
	if !known {
		attempt = orders.PaymentAttempt{
			ID:             uuid.NewString(),
			OrderID:        ord.ID,
			TransactionRef: conf.TransactionRef,
			Method:         ord.PaymentMethod,
			AmountCents:    conf.AmountCents,
			Installments:   ord.Installments,
			CreatedAt:      now,
		}
	}
	attempt.Status = orders.AttemptPaid
	attempt.UpdatedAt = now
	if err := o.Orders.SavePaymentAttempt(ctx, attempt); err != nil {
		return "", err
	}

	amount := conf.AmountCents
	if amount == 0 {
		amount = attempt.AmountCents
	}
	c := orders.Conflict{
		OrderID:        ord.ID,
		TransactionRef: conf.TransactionRef,
		AmountCents:    amount,
		OrderStatus:    ord.Status,
		Reason:         reason,
		DetectedAt:     now,
	}
	if err := o.Orders.RecordConflict(ctx, c); err != nil {
		return "", err
	}
	ord.NeedsReconciliation = true
	o.Metrics.Conflict()
	o.Log.ErrorContext(ctx, "reconciliation conflict", "order_status", ord.Status, "amount_cents", amount, "reason", reason)
	_ = o.publish(ctx, orders.TopicReconciliationConflict, orders.EventReconciliationConflict, ord.ID, c)
	return OutcomeConflict, fmt.Errorf("%w: order %s: %s", ErrReconciliationConflict, ord.ID, reason)
}

func (o *Orchestrator) applyFailed(ctx context.Context, ord *orders.Order, conf payment.Confirmation) (Outcome, error) {
	attempt, known := ord.Attempt(conf.TransactionRef)
	if !known {
		return OutcomeIgnored, nil
	}
	if attempt.Status != orders.AttemptPending || ord.Status != orders.StatusPaymentPending {
		return OutcomeDuplicate, nil
	}

	reason := conf.Reason
	if reason == "" {
		reason = "payment declined"
	}
	attempt.Status = orders.AttemptFailed
	attempt.FailureReason = reason
	attempt.UpdatedAt = o.Now().UTC()
	if err := o.Orders.SavePaymentAttempt(ctx, attempt); err != nil {
		return "", err
	}
	if err := o.Ledger.Release(ctx, ord.ReservationID); err != nil {
		return "", fmt.Errorf("release: %w", err)
	}

	if o.autoRetriesUsed(*ord) >= o.cfg.PaymentAutoRetries {
		if err := o.transition(ctx, ord, orders.StatusPaymentFailed, reason); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}

	res, err := o.Ledger.Reserve(ctx, reservationItems(ord.Items))
	if err != nil {
		o.Log.WarnContext(ctx, "re-reserve after decline failed", "err", err)
		if err := o.transition(ctx, ord, orders.StatusPaymentFailed, reason+"; retry: "+err.Error()); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}
	if err := o.Orders.UpdateReservation(ctx, ord.ID, res.ID, res.ExpiresAt); err != nil {
		_ = o.Ledger.Release(ctx, res.ID)
		return "", err
	}
	ord.ReservationID, ord.ReservationExpiresAt = res.ID, res.ExpiresAt
	if err := o.transition(ctx, ord, orders.StatusReserved, "retry after: "+reason); err != nil {
		return "", err
	}
	next := o.newAttempt(*ord, res.ID)
	if err := o.Orders.SavePaymentAttempt(ctx, next); err != nil {
		return "", err
	}
	if err := o.transition(ctx, ord, orders.StatusPaymentPending, ""); err != nil {
		return "", err
	}
	ch, err := o.charge(ctx, ord, next)
	if err != nil {
		// charge sudah menandai PAYMENT_FAILED
		return OutcomeApplied, nil
	}
	if ch.Status != payment.ChargePending {
		if _, err := o.applyConfirmation(ctx, ord.ID, payment.Confirmation{
			TransactionRef: ch.TransactionRef, Status: ch.Status, AmountCents: ord.TotalCents,
		}); err != nil && !errors.Is(err, ErrReconciliationConflict) {
			return "", err
		}
	}
	return OutcomeRetried, nil
}

// autoRetriesUsed counts re-reservations after a decline: every RESERVED
// entry past the first.
func (o *Orchestrator) autoRetriesUsed(ord orders.Order) int {
	n := 0
	for _, h := range ord.History {
		if h.Status == orders.StatusReserved {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return n - 1
}

// CompleteFulfillment closes a FULFILLING order. Repeating it is a no-op.
func (o *Orchestrator) CompleteFulfillment(ctx context.Context, orderID string) error {
	unlock, err := o.lock(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	ord, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	switch ord.Status {
	case orders.StatusCompleted:
		return nil
	case orders.StatusFulfilling:
		return o.transition(ctx, &ord, orders.StatusCompleted, "")
	}
	return invalidState("order %s is %s", orderID, ord.Status)
}

// ResumeFulfillment re-publishes order.paid for orders left in PAID, e.g.
// after a crash between the payment and the enqueue.
func (o *Orchestrator) ResumeFulfillment(ctx context.Context) (int, error) {
	list, err := o.Orders.ListByStatus(ctx, orders.StatusPaid, o.Now().Add(-o.cfg.SweepInterval), 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ord := range list {
		err := o.withOrder(ctx, ord.ID, func(ctx context.Context, ord *orders.Order) error {
			if ord.Status != orders.StatusPaid {
				return nil
			}
			ref := ""
			for _, a := range ord.Attempts {
				if a.Status == orders.AttemptPaid {
					ref = a.TransactionRef
				}
			}
			o.enqueueFulfillment(ctx, ord, ref)
			if ord.Status == orders.StatusFulfilling {
				n++
			}
			return nil
		})
		if err != nil {
			o.Log.ErrorContext(ctx, "resume fulfillment", "order_id", ord.ID, "err", err)
		}
	}
	return n, nil
}

// ExpireStale expires PAYMENT_PENDING orders whose reservation ran out.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	list, err := o.Orders.ListByStatus(ctx, orders.StatusPaymentPending, o.Now(), 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ord := range list {
		if !o.due(ord) {
			continue
		}
		err := o.withOrder(ctx, ord.ID, func(ctx context.Context, ord *orders.Order) error {
			was := ord.Status
			if err := o.expireIfDue(ctx, ord); err != nil {
				return err
			}
			if was != ord.Status {
				n++
			}
			return nil
		})
		if err != nil {
			o.Log.ErrorContext(ctx, "expire order", "order_id", ord.ID, "err", err)
		}
	}
	return n, nil
}

// PollPending asks the gateway about orders that have waited longer than
// PollAfter and applies whatever it reports.
func (o *Orchestrator) PollPending(ctx context.Context) (int, error) {
	list, err := o.Orders.ListByStatus(ctx, orders.StatusPaymentPending, o.Now().Add(-o.cfg.PollAfter), 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ord := range list {
		a, ok := ord.ActiveAttempt()
		if !ok || a.TransactionRef == "" {
			continue
		}
		gctx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
		start := time.Now()
		conf, err := o.Gateway.GetCharge(gctx, a.TransactionRef)
		cancel()
		o.Metrics.Gateway("get_charge", start, err)
		if err != nil {
			o.Log.WarnContext(ctx, "poll charge failed", "order_id", ord.ID, "err", err)
			continue
		}
		if conf.Status == payment.ChargePending {
			continue
		}
		out, err := o.HandleConfirmation(ctx, conf)
		if err != nil && !errors.Is(err, ErrReconciliationConflict) {
			o.Log.ErrorContext(ctx, "apply polled confirmation", "order_id", ord.ID, "err", err)
			continue
		}
		if out != OutcomeDuplicate && out != OutcomeIgnored {
			n++
		}
	}
	return n, nil
}

func (o *Orchestrator) withOrder(ctx context.Context, id string, fn func(context.Context, *orders.Order) error) error {
	ctx = logx.With(ctx, slog.String("order_id", id))
	unlock, err := o.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	ord, err := o.Orders.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(ctx, &ord)
}

func traceID(ctx context.Context) string { return middleware.GetReqID(ctx) }
