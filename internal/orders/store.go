package orders

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrAlreadyExists = errors.New("order already exists")
)

// TransitionError is returned by AppendStatus when the move is not allowed
// from the stored status.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Store persists orders. History is append-only and orders are never deleted.
// Callers serialise writes per order; the store does no locking of its own.
type Store interface {
	Create(ctx context.Context, o Order) error
	AppendStatus(ctx context.Context, orderID string, change StatusChange) error
	Get(ctx context.Context, orderID string) (Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// SavePaymentAttempt inserts or updates the attempt by id.
	SavePaymentAttempt(ctx context.Context, a PaymentAttempt) error
	FindByTransactionRef(ctx context.Context, ref string) (Order, error)
	ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Order, error)
	UpdateReservation(ctx context.Context, orderID, reservationID string, expiresAt time.Time) error
	// RecordConflict is idempotent per (order, transaction ref) and flags the
	// order for reconciliation.
	RecordConflict(ctx context.Context, c Conflict) error
	ListConflicts(ctx context.Context) ([]Conflict, error)
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
