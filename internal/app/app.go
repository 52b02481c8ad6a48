// Package app wires the checkout components for cmd/api and cmd/worker from
// the loaded config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-checkout/internal/cart"
	"github.com/ariefcatur/go-realtime-checkout/internal/checkout"
	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/fulfillment"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
	"github.com/ariefcatur/go-realtime-checkout/internal/metrics"
	"github.com/ariefcatur/go-realtime-checkout/internal/notify"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/ariefcatur/go-realtime-checkout/internal/redisx"
	"github.com/ariefcatur/go-realtime-checkout/internal/shipping"
)

type App struct {
	Config   config.Config
	Log      *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Ledger   inventory.Ledger
	Orders   orders.Store
	Carts    *cart.Service
	Checkout *checkout.Orchestrator
	// Sandbox is set when GATEWAY_DRIVER=sandbox.
	Sandbox *payment.Sandbox

	DB       *pgxpool.Pool
	Redis    *redis.Client
	Producer *kafkax.Producer
	Loopback *kafkax.Loopback
}

// New connects to the backing services for cfg.Storage and builds the
// orchestrator. STORAGE=memory runs everything in-process, fulfillment
// included; STORAGE=postgres uses Postgres, Redis and Kafka.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if cfg.Gateway.Driver == "asaas" && cfg.Gateway.WebhookToken == "" {
		return nil, errors.New("ASAAS_WEBHOOK_TOKEN is required with GATEWAY_DRIVER=asaas")
	}
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry, metricsSubsystem(cfg.ServiceName))

	deps := checkout.Deps{
		Shipping: quoter(cfg.Shipping),
		Gateway:  a.gateway(),
		Metrics:  a.Metrics,
		Log:      log,
	}

	switch cfg.Storage {
	case "memory":
		ledger := inventory.NewMemoryLedger(cfg.Checkout.ReservationTTL)
		if err := Seed(ctx, ledger); err != nil {
			return nil, err
		}
		store := orders.NewMemoryStore()
		a.Ledger, a.Orders = ledger, store
		a.Carts = cart.NewService(cart.NewMemoryStore())
		a.Loopback = kafkax.NewLoopback(log)
		deps.Sessions = checkout.NewMemorySessionStore()
		deps.Locks = checkout.NewKeyedMutex()
		deps.Events = a.Loopback

	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.DB = db
		if err := postgres.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = redisx.New(cfg.RedisAddr)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Producer = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		a.Producer.Start()

		a.Ledger = &inventory.Repo{DB: db, TTL: cfg.Checkout.ReservationTTL}
		a.Orders = &orders.Repo{DB: db}
		a.Carts = cart.NewService(cart.NewRedisStore(a.Redis))
		deps.Sessions = &checkout.RedisSessionStore{RDB: a.Redis, TTL: cfg.Checkout.SessionTTL}
		deps.Locks = redisx.NewLock(a.Redis, lockLease(cfg.Checkout))
		deps.Events = a.Producer

	default:
		return nil, fmt.Errorf("unknown STORAGE %q", cfg.Storage)
	}

	deps.Carts = a.Carts
	deps.Ledger = a.Ledger
	deps.Orders = a.Orders
	a.Checkout = checkout.New(cfg, deps)

	if a.Loopback != nil {
		f := a.Fulfillment(fulfillment.NewMemoryDedup())
		a.Loopback.Subscribe(orders.TopicOrderPaid, f.HandleOrderPaid)
	}
	return a, nil
}

// Fulfillment builds the order.paid consumer.
func (a *App) Fulfillment(d fulfillment.Dedup) *fulfillment.Service {
	return &fulfillment.Service{
		Orders:   a.Orders,
		Checkout: a.Checkout,
		Mailer:   a.mailer(),
		Store:    notify.Store{Name: a.Config.Mail.StoreName, ContactEmail: a.Config.Mail.ContactEmail},
		Dedup:    d,
		Log:      a.Log,
	}
}

func (a *App) mailer() notify.Mailer {
	m := a.Config.Mail
	if m.SendGridKey == "" {
		return notify.LogMailer{Log: a.Log}
	}
	return notify.NewSendGridMailer(m.SendGridKey, m.FromAddress, m.StoreName, a.Log)
}

func (a *App) gateway() payment.Gateway {
	g := a.Config.Gateway
	if g.Driver == "asaas" {
		return payment.NewAsaasClient(g.BaseURL, g.APIKey, a.Config.Checkout.GatewayTimeout)
	}
	a.Sandbox = payment.NewSandbox()
	return a.Sandbox
}

func quoter(s config.Shipping) shipping.Quoter {
	if s.QuoteURL == "" {
		return shipping.DefaultTable()
	}
	return &shipping.HTTPQuoter{URL: s.QuoteURL, HTTP: &http.Client{}}
}

// CheckoutTimeout bounds one checkout call: waiting for the order lock and
// every gateway try.
func CheckoutTimeout(c config.Checkout) time.Duration {
	return c.LockTimeout + c.GatewayTimeout*time.Duration(c.GatewayMaxRetries+1)
}

// RequestTimeout is the router-wide cap. It sits above CheckoutTimeout so the
// handler gives up first and answers with its own error.
func RequestTimeout(c config.Checkout) time.Duration {
	return CheckoutTimeout(c) + 5*time.Second
}

// lockLease outlives the longest critical section.
func lockLease(c config.Checkout) time.Duration {
	return CheckoutTimeout(c) + 5*time.Second
}

func metricsSubsystem(service string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(service)
}

// Close releases what New opened. The producer is flushed first.
func (a *App) Close() {
	if a.Producer != nil {
		a.Producer.Close()
		a.Producer.WaitClosed()
	}
	if a.Loopback != nil {
		a.Loopback.Wait()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
