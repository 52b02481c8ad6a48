package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies the schema. Every statement is IF NOT EXISTS, so running it
// on each start is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS variants (
	id           TEXT PRIMARY KEY,
	product_id   TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	color        TEXT NOT NULL DEFAULT '',
	price_cents  BIGINT NOT NULL CHECK (price_cents > 0),
	promo_cents  BIGINT CHECK (promo_cents IS NULL OR promo_cents <= price_cents),
	stock        INTEGER NOT NULL CHECK (stock >= 0),
	weight_grams INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (product_id, size, color)
);

CREATE TABLE IF NOT EXISTS reservations (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservations_active ON reservations(status, expires_at);

CREATE TABLE IF NOT EXISTS reservation_items (
	reservation_id TEXT NOT NULL REFERENCES reservations(id),
	variant_id     TEXT NOT NULL REFERENCES variants(id),
	qty            INTEGER NOT NULL CHECK (qty > 0),
	PRIMARY KEY (reservation_id, variant_id)
);
CREATE INDEX IF NOT EXISTS idx_reservation_items_variant ON reservation_items(variant_id);

CREATE TABLE IF NOT EXISTS orders (
	id                     TEXT PRIMARY KEY,
	owner_id               TEXT NOT NULL,
	status                 TEXT NOT NULL,
	shipping_method        TEXT NOT NULL,
	shipping_cents         BIGINT NOT NULL,
	subtotal_cents         BIGINT NOT NULL,
	total_cents            BIGINT NOT NULL,
	payment_method         TEXT NOT NULL,
	installments           INTEGER NOT NULL,
	installment_cents      BIGINT NOT NULL,
	payer                  JSONB NOT NULL,
	destination            JSONB NOT NULL,
	reservation_id         TEXT NOT NULL DEFAULT '',
	reservation_expires_at TIMESTAMPTZ,
	needs_reconciliation   BOOLEAN NOT NULL DEFAULT false,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, updated_at);

CREATE TABLE IF NOT EXISTS order_items (
	order_id         TEXT NOT NULL REFERENCES orders(id),
	position         INTEGER NOT NULL,
	variant_id       TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	size             TEXT NOT NULL DEFAULT '',
	color            TEXT NOT NULL DEFAULT '',
	qty              INTEGER NOT NULL,
	unit_price_cents BIGINT NOT NULL,
	PRIMARY KEY (order_id, position)
);

CREATE TABLE IF NOT EXISTS order_status_history (
	id       BIGSERIAL PRIMARY KEY,
	order_id TEXT NOT NULL REFERENCES orders(id),
	status   TEXT NOT NULL,
	reason   TEXT NOT NULL DEFAULT '',
	at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_history_order ON order_status_history(order_id, id);

CREATE TABLE IF NOT EXISTS payment_attempts (
	id              TEXT PRIMARY KEY,
	order_id        TEXT NOT NULL REFERENCES orders(id),
	transaction_ref TEXT NOT NULL DEFAULT '',
	method          TEXT NOT NULL,
	amount_cents    BIGINT NOT NULL,
	installments    INTEGER NOT NULL,
	reservation_id  TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	failure_reason  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_attempts_ref ON payment_attempts(transaction_ref) WHERE transaction_ref <> '';

CREATE TABLE IF NOT EXISTS reconciliation_conflicts (
	id              BIGSERIAL PRIMARY KEY,
	order_id        TEXT NOT NULL REFERENCES orders(id),
	transaction_ref TEXT NOT NULL,
	amount_cents    BIGINT NOT NULL,
	order_status    TEXT NOT NULL,
	reason          TEXT NOT NULL,
	detected_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (order_id, transaction_ref)
);
`
