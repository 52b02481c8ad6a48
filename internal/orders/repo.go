package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-realtime-checkout/internal/payment"
)

// Repo is the Postgres Store. Every write runs in its own transaction.
type Repo struct{ DB *pgxpool.Pool }

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repo) Create(ctx context.Context, o Order) error {
	if n := len(o.History); n > 0 {
		o.Status = o.History[n-1].Status
	}
	payer, err := json.Marshal(o.Payer)
	if err != nil {
		return err
	}
	dest, err := json.Marshal(o.Destination)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, owner_id, status, shipping_method, shipping_cents, subtotal_cents, total_cents,
		                   payment_method, installments, installment_cents, payer, destination,
		                   reservation_id, reservation_expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.OwnerID, string(o.Status), o.ShippingMethod, o.ShippingCents, o.SubtotalCents, o.TotalCents,
		string(o.PaymentMethod), o.Installments, o.InstallmentCents, payer, dest,
		o.ReservationID, nullTime(o.ReservationExpiresAt), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, variant_id, product_id, name, size, color, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, i, it.VariantID, it.ProductID, it.Name, it.Size, it.Color, it.Qty, it.UnitPriceCents); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	for _, h := range o.History {
		if _, err := tx.Exec(ctx, `INSERT INTO order_status_history(order_id, status, reason, at) VALUES ($1,$2,$3,$4)`,
			o.ID, string(h.Status), h.Reason, h.At); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	for _, a := range o.Attempts {
		if err := upsertAttempt(ctx, tx, a); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) AppendStatus(ctx context.Context, orderID string, ch StatusChange) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := checkTransition(Status(cur), ch.Status); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		orderID, string(ch.Status), ch.At); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO order_status_history(order_id, status, reason, at) VALUES ($1,$2,$3,$4)`,
		orderID, string(ch.Status), ch.Reason, ch.At); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	return load(ctx, r.DB, orderID)
}

func (r *Repo) ListByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	return r.list(ctx, `SELECT id FROM orders WHERE owner_id=$1 ORDER BY created_at DESC`, ownerID)
}

func (r *Repo) ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `SELECT id FROM orders WHERE status=$1 AND updated_at <= $2 ORDER BY updated_at LIMIT $3`,
		string(status), updatedBefore, limit)
}

func (r *Repo) list(ctx context.Context, q string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := load(ctx, r.DB, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Repo) SavePaymentAttempt(ctx context.Context, a PaymentAttempt) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := upsertAttempt(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func upsertAttempt(ctx context.Context, tx pgx.Tx, a PaymentAttempt) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_attempts(id, order_id, transaction_ref, method, amount_cents, installments,
		                             reservation_id, status, failure_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			transaction_ref = EXCLUDED.transaction_ref,
			status          = EXCLUDED.status,
			failure_reason  = EXCLUDED.failure_reason,
			updated_at      = EXCLUDED.updated_at`,
		a.ID, a.OrderID, a.TransactionRef, string(a.Method), a.AmountCents, a.Installments,
		a.ReservationID, string(a.Status), a.FailureReason, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment attempt: %w", err)
	}
	return nil
}

func (r *Repo) FindByTransactionRef(ctx context.Context, ref string) (Order, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT order_id FROM payment_attempts WHERE transaction_ref=$1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return load(ctx, r.DB, id)
}

func (r *Repo) UpdateReservation(ctx context.Context, orderID, reservationID string, expiresAt time.Time) error {
	tag, err := r.DB.Exec(ctx, `UPDATE orders SET reservation_id=$2, reservation_expires_at=$3 WHERE id=$1`,
		orderID, reservationID, nullTime(expiresAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) RecordConflict(ctx context.Context, c Conflict) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE orders SET needs_reconciliation=true WHERE id=$1`, c.OrderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reconciliation_conflicts(order_id, transaction_ref, amount_cents, order_status, reason, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id, transaction_ref) DO NOTHING`,
		c.OrderID, c.TransactionRef, c.AmountCents, string(c.OrderStatus), c.Reason, c.DetectedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) ListConflicts(ctx context.Context) ([]Conflict, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, transaction_ref, amount_cents, order_status, reason, detected_at
		FROM reconciliation_conflicts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		var st string
		if err := rows.Scan(&c.OrderID, &c.TransactionRef, &c.AmountCents, &st, &c.Reason, &c.DetectedAt); err != nil {
			return nil, err
		}
		c.OrderStatus = Status(st)
		out = append(out, c)
	}
	return out, rows.Err()
}

func load(ctx context.Context, q querier, orderID string) (Order, error) {
	var (
		o                  Order
		status, method     string
		payer, dest        []byte
		reservationExpires *time.Time
	)
	err := q.QueryRow(ctx, `
		SELECT id, owner_id, status, shipping_method, shipping_cents, subtotal_cents, total_cents,
		       payment_method, installments, installment_cents, payer, destination,
		       reservation_id, reservation_expires_at, needs_reconciliation, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).Scan(
		&o.ID, &o.OwnerID, &status, &o.ShippingMethod, &o.ShippingCents, &o.SubtotalCents, &o.TotalCents,
		&method, &o.Installments, &o.InstallmentCents, &payer, &dest,
		&o.ReservationID, &reservationExpires, &o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.PaymentMethod = payment.Method(method)
	if reservationExpires != nil {
		o.ReservationExpiresAt = *reservationExpires
	}
	if err := json.Unmarshal(payer, &o.Payer); err != nil {
		return Order{}, fmt.Errorf("decode payer: %w", err)
	}
	if err := json.Unmarshal(dest, &o.Destination); err != nil {
		return Order{}, fmt.Errorf("decode destination: %w", err)
	}

	// items
	rows, err := q.Query(ctx, `
		SELECT variant_id, product_id, name, size, color, qty, unit_price_cents
		FROM order_items WHERE order_id=$1 ORDER BY position`, orderID)
	if err != nil {
		return Order{}, err
	}
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.VariantID, &it.ProductID, &it.Name, &it.Size, &it.Color, &it.Qty, &it.UnitPriceCents); err != nil {
			rows.Close()
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	// history
	rows, err = q.Query(ctx, `SELECT status, reason, at FROM order_status_history WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, err
	}
	for rows.Next() {
		var h StatusChange
		var s string
		if err := rows.Scan(&s, &h.Reason, &h.At); err != nil {
			rows.Close()
			return Order{}, err
		}
		h.Status = Status(s)
		o.History = append(o.History, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	// attempts
	rows, err = q.Query(ctx, `
		SELECT id, order_id, transaction_ref, method, amount_cents, installments, reservation_id,
		       status, failure_reason, created_at, updated_at
		FROM payment_attempts WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var a PaymentAttempt
		var m, s string
		if err := rows.Scan(&a.ID, &a.OrderID, &a.TransactionRef, &m, &a.AmountCents, &a.Installments, &a.ReservationID,
			&s, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return Order{}, err
		}
		a.Method = payment.Method(m)
		a.Status = AttemptStatus(s)
		o.Attempts = append(o.Attempts, a)
	}
	return o, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
