package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sp = Address{ZIP: "04538-133", Street: "Av. Faria Lima", Number: "3477", City: "São Paulo", State: "SP"}

func TestAddress_Validate(t *testing.T) {
	assert.NoError(t, sp.Validate())

	bad := sp
	bad.ZIP = "1234"
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidAddress))

	bad = sp
	bad.City = ""
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidAddress))
}

func TestSelect(t *testing.T) {
	opts := []Option{
		{Method: "ship-2", CostCents: 4390},
		{Method: "ship-1", CostCents: 2490},
		{Method: "ship-3", CostCents: 1500},
	}

	o, ok := Select(opts, "ship-2", "ship-1")
	require.True(t, ok)
	assert.Equal(t, "ship-2", o.Method)

	o, _ = Select(opts, "ship-9", "ship-1")
	assert.Equal(t, "ship-1", o.Method)

	o, _ = Select(opts, "", "ship-9")
	assert.Equal(t, "ship-3", o.Method)

	_, ok = Select(nil, "ship-1", "")
	assert.False(t, ok)
}

func TestTableQuoter(t *testing.T) {
	q := DefaultTable()

	opts, err := q.Quote(context.Background(), "01001-000", sp, Parcel{WeightGrams: 1200, ValueCents: 10000})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, int64(1990+2*500), opts[0].CostCents)
	assert.Equal(t, int64(3490+2*900), opts[1].CostCents)

	opts, err = q.Quote(context.Background(), "01001-000", sp, Parcel{WeightGrams: 500, ValueCents: 30000})
	require.NoError(t, err)
	assert.Equal(t, int64(0), opts[0].CostCents)

	_, err = q.Quote(context.Background(), "01001-000", Address{ZIP: "x"}, Parcel{})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestHTTPQuoter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req quoteReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "01001-000", req.Origin)
		assert.Equal(t, 800, req.Parcel.WeightGrams)
		_, _ = w.Write([]byte(`{"options":[{"method":"ship-1","name":"PAC","cost_cents":2190,"eta_days":6}]}`))
	}))
	defer srv.Close()

	q := &HTTPQuoter{URL: srv.URL}
	opts, err := q.Quote(context.Background(), "01001-000", sp, Parcel{WeightGrams: 800})
	require.NoError(t, err)
	assert.Equal(t, []Option{{Method: "ship-1", Name: "PAC", CostCents: 2190, ETADays: 6}}, opts)
}

func TestHTTPQuoter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := (&HTTPQuoter{URL: srv.URL}).Quote(context.Background(), "01001-000", sp, Parcel{})
	assert.Error(t, err)
}
