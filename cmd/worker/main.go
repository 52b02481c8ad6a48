package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-checkout/internal/app"
	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
	"github.com/ariefcatur/go-realtime-checkout/internal/logx"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logx.Init(cfg.ServiceName + "-worker")

	if cfg.Storage != "postgres" {
		// mode memory sudah menjalankan fulfillment di dalam proses api
		log.Error("worker needs STORAGE=postgres", "storage", cfg.Storage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	svc := a.Fulfillment(fulfillment.RedisDedup{RDB: a.Redis})
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Worker.Group, orders.TopicOrderPaid, cfg.Worker.Concurrency, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("fulfillment consumer started", "group", cfg.Worker.Group, "topic", orders.TopicOrderPaid, "workers", cfg.Worker.Concurrency)
		return cons.Start(ctx, svc.HandleOrderPaid)
	})

	every := cfg.Checkout.SweepInterval
	g.Go(func() error { return sweep(ctx, log, "expire_stale", every, a.Checkout.ExpireStale) })
	g.Go(func() error { return sweep(ctx, log, "poll_pending", every, a.Checkout.PollPending) })
	g.Go(func() error { return sweep(ctx, log, "resume_fulfillment", every, a.Checkout.ResumeFulfillment) })
	g.Go(func() error { return sweep(ctx, log, "release_expired_holds", every, a.Ledger.SweepExpired) })

	if err := g.Wait(); err != nil {
		log.Error("worker exit", "err", err)
		return
	}
	log.Info("shutting down worker...")
}

// sweep runs fn every interval until ctx is done. Errors are logged and the
// next tick tries again.
func sweep(ctx context.Context, log *slog.Logger, name string, every time.Duration, fn func(context.Context) (int, error)) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		n, err := fn(ctx)
		if err != nil {
			log.Warn("sweep failed", "job", name, "err", err)
			continue
		}
		if n > 0 {
			log.Info("sweep done", "job", name, "count", n)
		}
	}
}
