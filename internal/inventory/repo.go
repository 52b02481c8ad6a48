package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres ledger. Holds are rows in reservations; a hold counts
// against stock only while ACTIVE and not past expires_at.
type Repo struct {
	DB  *pgxpool.Pool
	TTL time.Duration
}

const heldQuery = `
	SELECT COALESCE(SUM(ri.qty), 0)
	FROM reservation_items ri
	JOIN reservations r ON r.id = ri.reservation_id
	WHERE ri.variant_id = $1 AND r.status = 'ACTIVE' AND r.expires_at > now()`

func (r *Repo) GetVariant(ctx context.Context, productID, size, color string) (Variant, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, product_id, name, size, color, price_cents, promo_cents, stock, weight_grams
		FROM variants WHERE product_id=$1 AND size=$2 AND color=$3`, productID, size, color)
	v, err := scanVariant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, fmt.Errorf("%w: product=%s size=%s color=%s", ErrNotFound, productID, size, color)
	}
	if err != nil {
		return Variant{}, err
	}
	var held int
	if err := r.DB.QueryRow(ctx, heldQuery, v.ID).Scan(&held); err != nil {
		return Variant{}, err
	}
	v.Available = v.Stock - held
	return v, nil
}

func (r *Repo) ListVariants(ctx context.Context) ([]Variant, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT v.id, v.product_id, v.name, v.size, v.color, v.price_cents, v.promo_cents, v.stock, v.weight_grams,
		       v.stock - COALESCE((
		           SELECT SUM(ri.qty) FROM reservation_items ri
		           JOIN reservations r ON r.id = ri.reservation_id
		           WHERE ri.variant_id = v.id AND r.status = 'ACTIVE' AND r.expires_at > now()), 0)
		FROM variants v ORDER BY v.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Size, &v.Color, &v.PriceCents, &v.PromoCents,
			&v.Stock, &v.WeightGrams, &v.Available); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertVariant(ctx context.Context, v Variant) error {
	if err := v.Validate(); err != nil {
		return err
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO variants(id, product_id, name, size, color, price_cents, promo_cents, stock, weight_grams)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			product_id=EXCLUDED.product_id, name=EXCLUDED.name, size=EXCLUDED.size, color=EXCLUDED.color,
			price_cents=EXCLUDED.price_cents, promo_cents=EXCLUDED.promo_cents, stock=EXCLUDED.stock,
			weight_grams=EXCLUDED.weight_grams, updated_at=now()`,
		v.ID, v.ProductID, v.Name, v.Size, v.Color, v.PriceCents, v.PromoCents, v.Stock, v.WeightGrams)
	return err
}

// Reserve: lock stok per variant (FOR UPDATE, urut id biar tidak deadlock) ->
// cek available -> catat reservation. Kalau satu item kurang, rollback semua.
func (r *Repo) Reserve(ctx context.Context, items []ItemQty) (Reservation, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return Reservation{}, err
	}
	locked := append([]ItemQty(nil), merged...)
	sort.Slice(locked, func(i, j int) bool { return locked[i].VariantID < locked[j].VariantID })

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range locked {
		var stock int
		err := tx.QueryRow(ctx, `SELECT stock FROM variants WHERE id=$1 FOR UPDATE`, it.VariantID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, fmt.Errorf("%w: %s", ErrNotFound, it.VariantID)
		}
		if err != nil {
			return Reservation{}, err
		}
		var held int
		if err := tx.QueryRow(ctx, heldQuery, it.VariantID).Scan(&held); err != nil {
			return Reservation{}, err
		}
		if avail := stock - held; avail < it.Qty {
			return Reservation{}, &InsufficientStockError{VariantID: it.VariantID, Requested: it.Qty, Available: avail}
		}
	}

	res := Reservation{ID: uuid.NewString(), Items: merged, Status: ReservationActive}
	if err := tx.QueryRow(ctx, `
		INSERT INTO reservations(id, status, expires_at)
		VALUES ($1, 'ACTIVE', now() + make_interval(secs => $2))
		RETURNING created_at, expires_at`, res.ID, r.TTL.Seconds()).Scan(&res.CreatedAt, &res.ExpiresAt); err != nil {
		return Reservation{}, err
	}
	for _, it := range merged {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservation_items(reservation_id, variant_id, qty) VALUES ($1,$2,$3)`,
			res.ID, it.VariantID, it.Qty); err != nil {
			return Reservation{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (r *Repo) Release(ctx context.Context, reservationID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE reservations SET status='RELEASED' WHERE id=$1 AND status='ACTIVE'`, reservationID)
	return err
}

// Commit mengubah hold jadi pengurangan stok permanen.
func (r *Repo) Commit(ctx context.Context, reservationID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	var expired bool
	err = tx.QueryRow(ctx, `
		SELECT status, expires_at <= now() FROM reservations WHERE id=$1 FOR UPDATE`, reservationID).Scan(&status, &expired)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, reservationID)
	}
	if err != nil {
		return err
	}

	switch ReservationStatus(status) {
	case ReservationCommitted:
		return nil
	case ReservationReleased, ReservationExpired:
		return ErrReservationExpired
	}
	if expired {
		if _, err := tx.Exec(ctx, `UPDATE reservations SET status='EXPIRED' WHERE id=$1`, reservationID); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		return ErrReservationExpired
	}

	if _, err := tx.Exec(ctx, `
		UPDATE variants v SET stock = v.stock - ri.qty, updated_at = now()
		FROM reservation_items ri
		WHERE ri.reservation_id = $1 AND ri.variant_id = v.id`, reservationID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE reservations SET status='COMMITTED' WHERE id=$1`, reservationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) SweepExpired(ctx context.Context) (int, error) {
	ct, err := r.DB.Exec(ctx, `UPDATE reservations SET status='EXPIRED' WHERE status='ACTIVE' AND expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.Size, &v.Color, &v.PriceCents, &v.PromoCents, &v.Stock, &v.WeightGrams)
	return v, err
}
