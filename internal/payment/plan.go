package payment

import "github.com/shopspring/decimal"

type PlanRules struct {
	MaxInstallments     int
	MinInstallmentCents int64
}

type Plan struct {
	Requested        int   `json:"requested"`
	Installments     int   `json:"installments"`
	InstallmentCents int64 `json:"installment_cents"`
	Adjusted         bool  `json:"adjusted"`
}

// InstallmentValue is the per-installment amount in currency units.
func (p Plan) InstallmentValue() decimal.Decimal {
	return decimal.New(p.InstallmentCents, -2)
}

// Plan picks the installment count for a total. Only credit card can be split.
// A request that would put an installment under the minimum is clamped to
// the largest count that still satisfies it, never below one.
func (r PlanRules) Plan(method Method, totalCents int64, requested int) Plan {
	if requested < 1 {
		requested = 1
	}
	n := requested
	if method != MethodCreditCard {
		n = 1
	}
	if r.MaxInstallments > 0 && n > r.MaxInstallments {
		n = r.MaxInstallments
	}
	for n > 1 && totalCents < r.MinInstallmentCents*int64(n) {
		n--
	}

	value := decimal.NewFromInt(totalCents).DivRound(decimal.NewFromInt(int64(n)), 0)
	return Plan{
		Requested:        requested,
		Installments:     n,
		InstallmentCents: value.IntPart(),
		Adjusted:         n != requested,
	}
}
