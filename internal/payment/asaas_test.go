package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsaasClient_CreateCharge(t *testing.T) {
	// Setup
	var gotPayment map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.Header.Get("access_token"))
		switch r.URL.Path {
		case "/customers":
			_, _ = w.Write([]byte(`{"id":"cus_1"}`))
		case "/payments":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayment))
			_, _ = w.Write([]byte(`{"id":"pay_1","status":"PENDING","value":215.00,"invoiceUrl":"https://inv/1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewAsaasClient(srv.URL+"/", "key-123", time.Second)

	// Execute
	ch, err := c.CreateCharge(context.Background(), ChargeRequest{
		OrderID:          "ord-1",
		AmountCents:      21500,
		Method:           MethodCreditCard,
		Installments:     4,
		InstallmentCents: 5375,
		Payer:            Payer{Name: "Ana", Document: "12345678909"},
		DueDate:          time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})

	// Verify
	require.NoError(t, err)
	assert.Equal(t, "pay_1", ch.TransactionRef)
	assert.Equal(t, ChargePending, ch.Status)
	assert.Equal(t, "https://inv/1", ch.InvoiceURL)
	assert.Equal(t, "cus_1", gotPayment["customer"])
	assert.Equal(t, "CREDIT_CARD", gotPayment["billingType"])
	assert.Equal(t, 215.0, gotPayment["value"])
	assert.Equal(t, 53.75, gotPayment["installmentValue"])
	assert.Equal(t, 4.0, gotPayment["installmentCount"])
	assert.Equal(t, "2026-01-02", gotPayment["dueDate"])
	assert.Equal(t, "ord-1", gotPayment["externalReference"])
}

func TestAsaasClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":"invalid_cpfCnpj","description":"CPF inválido"}]}`))
	}))
	defer srv.Close()
	c := NewAsaasClient(srv.URL, "k", time.Second)

	_, err := c.CreateCharge(context.Background(), ChargeRequest{Method: MethodPix, AmountCents: 100})

	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusBadRequest, ge.StatusCode)
	assert.Contains(t, ge.Error(), "invalid_cpfCnpj")
}

func TestAsaasClient_GetCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/payments/pay_9" {
			_, _ = w.Write([]byte(`{"id":"pay_9","status":"RECEIVED","value":99.90}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	c := NewAsaasClient(srv.URL, "k", time.Second)

	conf, err := c.GetCharge(context.Background(), "pay_9")
	require.NoError(t, err)
	assert.Equal(t, Confirmation{TransactionRef: "pay_9", Status: ChargePaid, AmountCents: 9990}, conf)

	_, err = c.GetCharge(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownCharge))
}

func TestParseAsaasWebhook(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ChargeStatus
	}{
		{"confirmed", `{"event":"PAYMENT_CONFIRMED","payment":{"id":"p1","status":"CONFIRMED","value":10}}`, ChargePaid},
		{"capture refused", `{"event":"PAYMENT_CREDIT_CARD_CAPTURE_REFUSED","payment":{"id":"p1","status":"PENDING","value":10}}`, ChargeFailed},
		{"overdue", `{"event":"PAYMENT_OVERDUE","payment":{"id":"p1","status":"OVERDUE","value":10}}`, ChargeFailed},
		{"created", `{"event":"PAYMENT_CREATED","payment":{"id":"p1","status":"PENDING","value":10}}`, ChargePending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseAsaasWebhook(strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Status)
			assert.Equal(t, int64(1000), c.AmountCents)
			assert.Equal(t, "p1", c.TransactionRef)
		})
	}

	_, err := ParseAsaasWebhook(strings.NewReader(`{"event":"X","payment":{}}`))
	assert.Error(t, err)
}

func TestSandbox(t *testing.T) {
	s := NewSandbox()
	ch, err := s.CreateCharge(context.Background(), ChargeRequest{AmountCents: 500})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ch.TransactionRef, "sbx_"))

	conf, err := s.Settle(ch.TransactionRef, ChargePaid)
	require.NoError(t, err)
	assert.Equal(t, ChargePaid, conf.Status)

	got, err := s.GetCharge(context.Background(), ch.TransactionRef)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.AmountCents)

	_, err = s.Settle("missing", ChargePaid)
	assert.ErrorIs(t, err, ErrUnknownCharge)
}
