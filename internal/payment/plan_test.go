package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPlanRules_Plan(t *testing.T) {
	rules := PlanRules{MaxInstallments: 6, MinInstallmentCents: 5000}

	tests := []struct {
		name      string
		method    Method
		total     int64
		requested int
		want      Plan
	}{
		{
			name: "clamps to largest count above minimum", method: MethodCreditCard, total: 21500, requested: 6,
			want: Plan{Requested: 6, Installments: 4, InstallmentCents: 5375, Adjusted: true},
		},
		{
			name: "request within rules is kept", method: MethodCreditCard, total: 60000, requested: 3,
			want: Plan{Requested: 3, Installments: 3, InstallmentCents: 20000},
		},
		{
			name: "above max count", method: MethodCreditCard, total: 100000, requested: 10,
			want: Plan{Requested: 10, Installments: 6, InstallmentCents: 16667, Adjusted: true},
		},
		{
			name: "total below minimum still allows one installment", method: MethodCreditCard, total: 3000, requested: 2,
			want: Plan{Requested: 2, Installments: 1, InstallmentCents: 3000, Adjusted: true},
		},
		{
			name: "pix is single installment", method: MethodPix, total: 60000, requested: 3,
			want: Plan{Requested: 3, Installments: 1, InstallmentCents: 60000, Adjusted: true},
		},
		{
			name: "zero request means one", method: MethodBoleto, total: 1000, requested: 0,
			want: Plan{Requested: 1, Installments: 1, InstallmentCents: 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Plan(tt.method, tt.total, tt.requested))
		})
	}
}

func TestPlan_InstallmentValue(t *testing.T) {
	p := Plan{InstallmentCents: 5375}
	assert.True(t, decimal.RequireFromString("53.75").Equal(p.InstallmentValue()))
}
