package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-checkout/internal/cart"
	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/logx"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
	"github.com/ariefcatur/go-realtime-checkout/internal/shipping"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type published struct {
	topic string
	ev    orders.Envelope
}

type recorder struct {
	mu     sync.Mutex
	events []published
	fail   map[string]bool
}

func (r *recorder) PublishEvent(_ context.Context, topic string, ev orders.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[topic] {
		return errors.New("broker down")
	}
	r.events = append(r.events, published{topic: topic, ev: ev})
	return nil
}

func (r *recorder) setFail(topic string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = map[string]bool{}
	}
	r.fail[topic] = fail
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.topic)
	}
	return out
}

// flakyGateway fails CreateCharge with the queued errors before handing over
// to the sandbox. With instant set, new charges come back already settled.
type flakyGateway struct {
	*payment.Sandbox
	mu      sync.Mutex
	errs    []error
	calls   int
	instant payment.ChargeStatus
}

func (g *flakyGateway) CreateCharge(ctx context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	g.mu.Lock()
	g.calls++
	var err error
	if len(g.errs) > 0 {
		err, g.errs = g.errs[0], g.errs[1:]
	}
	instant := g.instant
	g.mu.Unlock()
	if err != nil {
		return payment.Charge{}, err
	}
	ch, err := g.Sandbox.CreateCharge(ctx, req)
	if err != nil || instant == "" {
		return ch, err
	}
	if _, err := g.Sandbox.Settle(ch.TransactionRef, instant); err != nil {
		return payment.Charge{}, err
	}
	ch.Status = instant
	return ch, nil
}

func (g *flakyGateway) settleInstantly(s payment.ChargeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instant = s
}

// countingQuoter fails the first n quotes.
type countingQuoter struct {
	mu    sync.Mutex
	inner shipping.Quoter
	fail  int
	calls int
}

func (q *countingQuoter) Quote(ctx context.Context, origin string, dest shipping.Address, p shipping.Parcel) ([]shipping.Option, error) {
	q.mu.Lock()
	q.calls++
	failing := q.calls <= q.fail
	q.mu.Unlock()
	if failing {
		return nil, shipping.ErrUnavailable
	}
	return q.inner.Quote(ctx, origin, dest, p)
}

func testConfig() config.Config {
	return config.Config{
		ServiceName: "checkout-test",
		Checkout: config.Checkout{
			ReservationTTL:      15 * time.Minute,
			SessionTTL:          time.Hour,
			ShippingTimeout:     time.Second,
			ShippingMaxAttempts: 3,
			ShippingBackoff:     time.Millisecond,
			GatewayTimeout:      time.Second,
			GatewayMaxRetries:   1,
			PaymentAutoRetries:  1,
			LockTimeout:         2 * time.Second,
			PollAfter:           2 * time.Minute,
			SweepInterval:       30 * time.Second,
		},
		Payment: config.Payment{
			PixEnabled:             true,
			CreditCardEnabled:      true,
			DebitCardEnabled:       true,
			MaxInstallments:        6,
			MinInstallmentValueCts: 5000,
		},
		Shipping: config.Shipping{OriginZIP: "01001-000", DefaultMethod: "ship-1"},
	}
}

type fixture struct {
	o        *Orchestrator
	clock    *clock
	ledger   *inventory.MemoryLedger
	carts    *cart.Service
	store    *orders.MemoryStore
	sessions *MemorySessionStore
	sandbox  *payment.Sandbox
	gateway  *flakyGateway
	quoter   *countingQuoter
	events   *recorder
}

var (
	shirt = cart.LineKey{ProductID: "camiseta-basica", Size: "M", Color: "preto"}
	dress = cart.LineKey{ProductID: "vestido-midi", Size: "P", Color: "vermelho"}
	home  = shipping.Address{ZIP: "20040-020", Street: "Rua da Assembleia", Number: "10", City: "Rio de Janeiro", State: "RJ"}
	payer = payment.Payer{Name: "Ana Souza", Email: "ana@example.com", Document: "12345678909"}
)

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	clk := &clock{t: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}
	ledger := inventory.NewMemoryLedger(cfg.Checkout.ReservationTTL)
	ledger.Now = clk.Now
	ctx := context.Background()
	require.NoError(t, ledger.UpsertVariant(ctx, inventory.Variant{
		ID: "v-shirt-m", ProductID: shirt.ProductID, Name: "Camiseta Básica", Size: shirt.Size, Color: shirt.Color,
		PriceCents: 10000, Stock: 5, WeightGrams: 300,
	}))
	promo := int64(12000)
	require.NoError(t, ledger.UpsertVariant(ctx, inventory.Variant{
		ID: "v-dress-p", ProductID: dress.ProductID, Name: "Vestido Midi", Size: dress.Size, Color: dress.Color,
		PriceCents: 15000, PromoCents: &promo, Stock: 1, WeightGrams: 450,
	}))

	carts := cart.NewService(cart.NewMemoryStore())
	carts.Now = clk.Now
	sessions := NewMemorySessionStore()
	sessions.Now = clk.Now
	sandbox := payment.NewSandbox()
	gw := &flakyGateway{Sandbox: sandbox}
	quoter := &countingQuoter{inner: &shipping.TableQuoter{Rates: []shipping.Rate{
		{Method: "ship-1", Name: "PAC", BaseCents: 1500, ETADays: 7},
		{Method: "ship-2", Name: "SEDEX", BaseCents: 3000, ETADays: 2},
	}}}
	events := &recorder{}
	store := orders.NewMemoryStore()

	o := New(cfg, Deps{
		Carts:    carts,
		Ledger:   ledger,
		Shipping: quoter,
		Gateway:  gw,
		Orders:   store,
		Sessions: sessions,
		Locks:    NewKeyedMutex(),
		Events:   events,
		Log:      logx.Discard(),
		Now:      clk.Now,
	})
	return &fixture{o: o, clock: clk, ledger: ledger, carts: carts, store: store, sessions: sessions,
		sandbox: sandbox, gateway: gw, quoter: quoter, events: events}
}

func (f *fixture) add(t *testing.T, owner string, k cart.LineKey, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), owner, k.ProductID, k.Size, k.Color, qty)
	require.NoError(t, err)
}

func (f *fixture) start(t *testing.T, owner string) Session {
	t.Helper()
	s, err := f.o.StartCheckout(context.Background(), StartRequest{OwnerID: owner, Destination: home})
	require.NoError(t, err)
	return s
}

// pending runs a two-shirt checkout up to PAYMENT_PENDING on PIX.
func (f *fixture) pending(t *testing.T, owner string) orders.Order {
	t.Helper()
	f.add(t, owner, shirt, 2)
	s := f.start(t, owner)
	res, err := f.o.ChoosePaymentMethod(context.Background(), s.ID, PaymentRequest{Method: payment.MethodPix, Payer: payer})
	require.NoError(t, err)
	require.Equal(t, orders.StatusPaymentPending, res.Order.Status)
	return res.Order
}

func (f *fixture) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) available(t *testing.T, k cart.LineKey) int {
	t.Helper()
	v, err := f.ledger.GetVariant(context.Background(), k.ProductID, k.Size, k.Color)
	require.NoError(t, err)
	return v.Available
}

func (f *fixture) settle(t *testing.T, o orders.Order, status payment.ChargeStatus) payment.Confirmation {
	t.Helper()
	a, ok := o.ActiveAttempt()
	require.True(t, ok, "order %s has no active attempt", o.ID)
	conf, err := f.sandbox.Settle(a.TransactionRef, status)
	require.NoError(t, err)
	return conf
}

func count(h []orders.StatusChange, s orders.Status) int {
	n := 0
	for _, c := range h {
		if c.Status == s {
			n++
		}
	}
	return n
}
