package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-realtime-checkout/internal/cart"
)

var (
	ErrCheckoutNotFound         = errors.New("checkout not found")
	ErrShippingUnavailable      = errors.New("shipping unavailable")
	ErrPaymentMethodUnavailable = errors.New("payment method unavailable")
	ErrInvalidPayer             = errors.New("invalid payer")
	ErrCancelAfterPayment       = errors.New("order already paid")
	ErrInvalidState             = errors.New("invalid checkout state")
	ErrReconciliationConflict   = errors.New("payment needs reconciliation")
	ErrUnknownTransaction       = errors.New("unknown transaction")
)

const (
	ProblemNotFound          = "not_found"
	ProblemInsufficientStock = "insufficient_stock"
)

type LineProblem struct {
	Line      cart.LineKey `json:"line"`
	Reason    string       `json:"reason"`
	Requested int          `json:"requested"`
	Available int          `json:"available"`
}

// CartInvalidError lists every cart line that cannot be checked out. An empty
// cart has no problems but is still invalid.
type CartInvalidError struct {
	Problems []LineProblem
}

func (e *CartInvalidError) Error() string {
	if len(e.Problems) == 0 {
		return "cart is empty"
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s/%s/%s: %s", p.Line.ProductID, p.Line.Size, p.Line.Color, p.Reason))
	}
	return "cart invalid: " + strings.Join(parts, "; ")
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
