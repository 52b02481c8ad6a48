package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-realtime-checkout/internal/app"
	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/httpx"
	"github.com/ariefcatur/go-realtime-checkout/internal/logx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.Init(cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	router := httpx.NewRouter(a.Metrics, a.Registry, app.RequestTimeout(cfg.Checkout))
	(&httpx.CartHandler{Carts: a.Carts}).Register(router)
	(&httpx.OrdersHandler{
		Checkout: a.Checkout,
		Catalog:  a.Ledger,
		Timeout:  app.CheckoutTimeout(cfg.Checkout),
	}).Register(router)
	(&httpx.WebhookHandler{
		Confirm: a.Checkout,
		Token:   cfg.Gateway.WebhookToken,
		Sandbox: a.Sandbox,
		Log:     log,
		Timeout: app.CheckoutTimeout(cfg.Checkout),
	}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "storage", cfg.Storage, "gateway", cfg.Gateway.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	a.Close() // flush producer, tunggu loopback
}
