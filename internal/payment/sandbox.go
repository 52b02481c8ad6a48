package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-process gateway for local runs. Charges stay PENDING until
// Settle is called (the dev webhook route does that).
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]*Confirmation
}

func NewSandbox() *Sandbox {
	return &Sandbox{charges: map[string]*Confirmation{}}
}

func (s *Sandbox) CreateCharge(_ context.Context, req ChargeRequest) (Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := "sbx_" + uuid.NewString()
	s.charges[ref] = &Confirmation{TransactionRef: ref, OrderID: req.OrderID, Status: ChargePending, AmountCents: req.AmountCents}
	return Charge{TransactionRef: ref, Status: ChargePending}, nil
}

func (s *Sandbox) GetCharge(_ context.Context, ref string) (Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[ref]
	if !ok {
		return Confirmation{}, &GatewayError{Op: "get payment", Err: ErrUnknownCharge}
	}
	return *c, nil
}

// Settle moves a sandbox charge to its final status and returns the
// confirmation the gateway would have delivered.
func (s *Sandbox) Settle(ref string, status ChargeStatus) (Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[ref]
	if !ok {
		return Confirmation{}, &GatewayError{Op: "settle", Err: ErrUnknownCharge}
	}
	c.Status = status
	return *c, nil
}
