// Package shipping quotes delivery options for a destination and parcel.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var (
	ErrUnavailable    = errors.New("shipping unavailable")
	ErrInvalidAddress = errors.New("invalid address")
)

var zipRe = regexp.MustCompile(`^\d{5}-?\d{3}$`)

type Address struct {
	ZIP          string `json:"zip"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
}

func (a Address) Validate() error {
	if !zipRe.MatchString(a.ZIP) {
		return fmt.Errorf("%w: zip %q", ErrInvalidAddress, a.ZIP)
	}
	if a.Street == "" || a.City == "" || a.State == "" {
		return fmt.Errorf("%w: street, city and state are required", ErrInvalidAddress)
	}
	return nil
}

type Parcel struct {
	WeightGrams int   `json:"weight_grams"`
	Items       int   `json:"items"`
	ValueCents  int64 `json:"value_cents"`
}

type Option struct {
	Method    string `json:"method"`
	Name      string `json:"name"`
	CostCents int64  `json:"cost_cents"`
	ETADays   int    `json:"eta_days"`
}

type Quoter interface {
	Quote(ctx context.Context, originZIP string, dest Address, parcel Parcel) ([]Option, error)
}

// Select returns the preferred method if offered, then the fallback method,
// then the cheapest option.
func Select(opts []Option, preferred, fallback string) (Option, bool) {
	if len(opts) == 0 {
		return Option{}, false
	}
	for _, m := range []string{preferred, fallback} {
		if m == "" {
			continue
		}
		for _, o := range opts {
			if o.Method == m {
				return o, true
			}
		}
	}
	sorted := append([]Option(nil), opts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CostCents < sorted[j].CostCents })
	return sorted[0], true
}
