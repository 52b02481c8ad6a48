package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPQuoter posts the parcel to an external rate service.
type HTTPQuoter struct {
	URL  string
	HTTP *http.Client
}

type quoteReq struct {
	Origin      string  `json:"origin"`
	Destination Address `json:"destination"`
	Parcel      Parcel  `json:"parcel"`
}

func (q *HTTPQuoter) Quote(ctx context.Context, originZIP string, dest Address, parcel Parcel) ([]Option, error) {
	b, err := json.Marshal(quoteReq{Origin: originZIP, Destination: dest, Parcel: parcel})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.URL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := q.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shipping quote: status %d", resp.StatusCode)
	}

	var out struct {
		Options []Option `json:"options"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("shipping quote: decode: %w", err)
	}
	return out.Options, nil
}

// TableQuoter is a flat-rate table: base cost plus a per-kilo step.
type TableQuoter struct {
	Rates []Rate
}

type Rate struct {
	Method         string
	Name           string
	BaseCents      int64
	PerKgCents     int64
	ETADays        int
	FreeAboveCents int64 // 0 = tanpa gratis ongkir
}

func DefaultTable() *TableQuoter {
	return &TableQuoter{Rates: []Rate{
		{Method: "ship-1", Name: "PAC", BaseCents: 1990, PerKgCents: 500, ETADays: 7, FreeAboveCents: 29900},
		{Method: "ship-2", Name: "SEDEX", BaseCents: 3490, PerKgCents: 900, ETADays: 2},
	}}
}

func (q *TableQuoter) Quote(ctx context.Context, _ string, dest Address, parcel Parcel) ([]Option, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	kilos := int64((parcel.WeightGrams + 999) / 1000)
	out := make([]Option, 0, len(q.Rates))
	for _, r := range q.Rates {
		cost := r.BaseCents + r.PerKgCents*kilos
		if r.FreeAboveCents > 0 && parcel.ValueCents >= r.FreeAboveCents {
			cost = 0
		}
		out = append(out, Option{Method: r.Method, Name: r.Name, CostCents: cost, ETADays: r.ETADays})
	}
	return out, nil
}
