package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
)

func TestHandleConfirmation_Idempotent(t *testing.T) {
	// Setup
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	conf := f.settle(t, o, payment.ChargePaid)

	// Execute
	first, err := f.o.HandleConfirmation(ctx, conf)
	require.NoError(t, err)
	second, err := f.o.HandleConfirmation(ctx, conf)
	require.NoError(t, err)

	// Verify
	assert.Equal(t, OutcomeApplied, first)
	assert.Equal(t, OutcomeDuplicate, second)
	got := f.order(t, o.ID)
	assert.Equal(t, 1, count(got.History, orders.StatusPaid))
	assert.Equal(t, 3, f.available(t, shirt))

	paid := 0
	for _, topic := range f.events.topics() {
		if topic == orders.TopicOrderPaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestHandleConfirmation_PendingIsIgnored(t *testing.T) {
	f := newFixture(t)
	o := f.pending(t, "u1")
	a, _ := o.ActiveAttempt()

	out, err := f.o.HandleConfirmation(context.Background(), payment.Confirmation{TransactionRef: a.TransactionRef, Status: payment.ChargePending})

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Equal(t, orders.StatusPaymentPending, f.order(t, o.ID).Status)
}

func TestHandleConfirmation_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.o.HandleConfirmation(context.Background(), payment.Confirmation{TransactionRef: "pay_x", Status: payment.ChargePaid})

	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestHandleConfirmation_PaidAfterExpiry(t *testing.T) {
	// Setup: the status poll expires the order before the gateway calls back
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	conf := f.settle(t, o, payment.ChargePaid)
	f.clock.Advance(16 * time.Minute)
	v, err := f.o.GetOrderStatus(ctx, "", o.ID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusExpired, v.Status)

	// Execute
	out, err := f.o.HandleConfirmation(ctx, conf)

	// Verify
	assert.ErrorIs(t, err, ErrReconciliationConflict)
	assert.Equal(t, OutcomeConflict, out)
	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusExpired, got.Status)
	assert.True(t, got.NeedsReconciliation)
	assert.Equal(t, orders.AttemptPaid, got.Attempts[0].Status)
	assert.Equal(t, 5, f.available(t, shirt), "expired stock is not taken back")

	conflicts, err := f.store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, conf.TransactionRef, conflicts[0].TransactionRef)
	assert.Equal(t, int64(21500), conflicts[0].AmountCents)
	assert.Equal(t, orders.StatusExpired, conflicts[0].OrderStatus)
	assert.Contains(t, f.events.topics(), orders.TopicReconciliationConflict)

	// redelivery is absorbed
	again, err := f.o.HandleConfirmation(ctx, conf)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, again)
}

func TestHandleConfirmation_ExpiryNoticedOnArrival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	conf := f.settle(t, o, payment.ChargePaid)
	f.clock.Advance(20 * time.Minute)

	out, err := f.o.HandleConfirmation(ctx, conf)

	assert.ErrorIs(t, err, ErrReconciliationConflict)
	assert.Equal(t, OutcomeConflict, out)
	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusExpired, got.Status)
	assert.True(t, got.NeedsReconciliation)
	assert.Zero(t, count(got.History, orders.StatusPaid))
}

func TestHandleConfirmation_PaidAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	conf := f.settle(t, o, payment.ChargePaid)
	_, err := f.o.Cancel(ctx, "", o.ID, "")
	require.NoError(t, err)

	out, err := f.o.HandleConfirmation(ctx, conf)

	assert.ErrorIs(t, err, ErrReconciliationConflict)
	assert.Equal(t, OutcomeConflict, out)
	assert.Equal(t, orders.StatusCanceled, f.order(t, o.ID).Status)
}

func TestHandleConfirmation_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	conf := f.settle(t, o, payment.ChargePaid)
	conf.AmountCents = 100

	out, err := f.o.HandleConfirmation(ctx, conf)

	assert.ErrorIs(t, err, ErrReconciliationConflict)
	assert.Equal(t, OutcomeConflict, out)
	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusPaymentPending, got.Status)
	assert.True(t, got.NeedsReconciliation)
}

func TestHandleConfirmation_InstallmentValue(t *testing.T) {
	// Setup: 215.00 split in 4 on the card
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "u1", shirt, 2)
	s := f.start(t, "u1")
	res, err := f.o.ChoosePaymentMethod(ctx, s.ID, PaymentRequest{Method: payment.MethodCreditCard, Installments: 4, Payer: payer})
	require.NoError(t, err)
	require.Equal(t, 4, res.Order.Installments)
	a, _ := res.Order.ActiveAttempt()

	// Execute: the gateway reports one installment of 53.75
	out, err := f.o.HandleConfirmation(ctx, payment.Confirmation{TransactionRef: a.TransactionRef, Status: payment.ChargePaid, AmountCents: 5375})

	// Verify
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	got := f.order(t, res.Order.ID)
	assert.Equal(t, orders.StatusFulfilling, got.Status)
	assert.False(t, got.NeedsReconciliation)
	assert.Equal(t, 3, f.available(t, shirt))
}

func TestHandleConfirmation_BelowOneInstallment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "u1", shirt, 2)
	s := f.start(t, "u1")
	res, err := f.o.ChoosePaymentMethod(ctx, s.ID, PaymentRequest{Method: payment.MethodCreditCard, Installments: 4, Payer: payer})
	require.NoError(t, err)
	a, _ := res.Order.ActiveAttempt()

	out, err := f.o.HandleConfirmation(ctx, payment.Confirmation{TransactionRef: a.TransactionRef, Status: payment.ChargePaid, AmountCents: 5000})

	assert.ErrorIs(t, err, ErrReconciliationConflict)
	assert.Equal(t, OutcomeConflict, out)
	assert.Equal(t, orders.StatusPaymentPending, f.order(t, res.Order.ID).Status)
}

func TestHandleConfirmation_RetryConfirmedAtOnce(t *testing.T) {
	// Setup: the retried card charge is approved on creation
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	declined := f.settle(t, o, payment.ChargeFailed)
	f.gateway.settleInstantly(payment.ChargePaid)

	// Execute
	out, err := f.o.HandleConfirmation(ctx, declined)

	// Verify
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, out)
	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusFulfilling, got.Status)
	assert.Equal(t, 1, count(got.History, orders.StatusPaid))
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, orders.AttemptFailed, got.Attempts[0].Status)
	assert.Equal(t, orders.AttemptPaid, got.Attempts[1].Status)
	assert.Equal(t, 3, f.available(t, shirt))
}

func TestHandleConfirmation_FallsBackToOrderID(t *testing.T) {
	f := newFixture(t)
	o := f.pending(t, "u1")

	out, err := f.o.HandleConfirmation(context.Background(), payment.Confirmation{
		TransactionRef: "pay_manual", OrderID: o.ID, Status: payment.ChargePaid, AmountCents: o.TotalCents,
	})

	assert.ErrorIs(t, err, ErrReconciliationConflict)
	assert.Equal(t, OutcomeConflict, out)
	got := f.order(t, o.ID)
	require.Len(t, got.Attempts, 2)
	a, ok := got.Attempt("pay_manual")
	require.True(t, ok)
	assert.Equal(t, orders.AttemptPaid, a.Status)
}

func TestHandleConfirmation_DeclineRetriesOnce(t *testing.T) {
	// Setup
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	firstRes := o.ReservationID

	// Execute: first decline
	out, err := f.o.HandleConfirmation(ctx, f.settle(t, o, payment.ChargeFailed))
	require.NoError(t, err)

	// Verify
	assert.Equal(t, OutcomeRetried, out)
	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusPaymentPending, got.Status)
	assert.Equal(t, 2, count(got.History, orders.StatusReserved))
	assert.NotEqual(t, firstRes, got.ReservationID)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, orders.AttemptFailed, got.Attempts[0].Status)
	assert.Equal(t, "payment declined", got.Attempts[0].FailureReason)
	assert.Equal(t, 3, f.available(t, shirt))

	// Execute: second decline
	out, err = f.o.HandleConfirmation(ctx, f.settle(t, got, payment.ChargeFailed))
	require.NoError(t, err)

	// Verify
	assert.Equal(t, OutcomeApplied, out)
	got = f.order(t, o.ID)
	assert.Equal(t, orders.StatusPaymentFailed, got.Status)
	assert.Equal(t, 5, f.available(t, shirt))

	v, err := f.o.GetOrderStatus(ctx, "", o.ID)
	require.NoError(t, err)
	assert.Equal(t, "payment declined", v.FailureReason)
}

func TestHandleConfirmation_DeclineWithoutRetry(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Checkout.PaymentAutoRetries = 0 })
	o := f.pending(t, "u1")
	conf := f.settle(t, o, payment.ChargeFailed)
	conf.Reason = "REPROVED_BY_RISK_ANALYSIS"

	out, err := f.o.HandleConfirmation(context.Background(), conf)

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusPaymentFailed, got.Status)
	assert.Equal(t, "REPROVED_BY_RISK_ANALYSIS", got.LastReason())
	assert.Equal(t, 5, f.available(t, shirt))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.pending(t, "u1")
	f.clock.Advance(5 * time.Minute)
	b := f.pending(t, "u2")
	f.clock.Advance(11 * time.Minute)

	n, err := f.o.ExpireStale(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, orders.StatusExpired, f.order(t, a.ID).Status)
	assert.Equal(t, orders.StatusPaymentPending, f.order(t, b.ID).Status)

	n, err = f.o.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPollPending(t *testing.T) {
	// Setup: the webhook never arrives
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	f.settle(t, o, payment.ChargePaid)

	// Execute
	early, err := f.o.PollPending(ctx)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)
	n, err := f.o.PollPending(ctx)
	require.NoError(t, err)

	// Verify
	assert.Zero(t, early)
	assert.Equal(t, 1, n)
	assert.Equal(t, orders.StatusFulfilling, f.order(t, o.ID).Status)
}

func TestResumeFulfillment(t *testing.T) {
	// Setup: the broker is down when the payment lands
	f := newFixture(t)
	ctx := context.Background()
	o := f.pending(t, "u1")
	f.events.setFail(orders.TopicOrderPaid, true)
	_, err := f.o.HandleConfirmation(ctx, f.settle(t, o, payment.ChargePaid))
	require.NoError(t, err)
	require.Equal(t, orders.StatusPaid, f.order(t, o.ID).Status)

	// Execute
	f.events.setFail(orders.TopicOrderPaid, false)
	f.clock.Advance(time.Minute)
	n, err := f.o.ResumeFulfillment(ctx)
	require.NoError(t, err)

	// Verify
	assert.Equal(t, 1, n)
	assert.Equal(t, orders.StatusFulfilling, f.order(t, o.ID).Status)
	assert.Contains(t, f.events.topics(), orders.TopicOrderPaid)
}

func TestCompleteFulfillment_RequiresFulfilling(t *testing.T) {
	f := newFixture(t)
	o := f.pending(t, "u1")

	err := f.o.CompleteFulfillment(context.Background(), o.ID)

	assert.ErrorIs(t, err, ErrInvalidState)
}
