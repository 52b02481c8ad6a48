package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AsaasClient talks to the Asaas v3 REST API.
type AsaasClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewAsaasClient(baseURL, apiKey string, timeout time.Duration) *AsaasClient {
	return &AsaasClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type asaasCustomerReq struct {
	Name        string `json:"name"`
	CpfCnpj     string `json:"cpfCnpj"`
	Email       string `json:"email,omitempty"`
	MobilePhone string `json:"mobilePhone,omitempty"`
}

type asaasPaymentReq struct {
	Customer          string   `json:"customer"`
	BillingType       string   `json:"billingType"`
	Value             float64  `json:"value"`
	DueDate           string   `json:"dueDate"`
	Description       string   `json:"description,omitempty"`
	ExternalReference string   `json:"externalReference"`
	InstallmentCount  int      `json:"installmentCount,omitempty"`
	InstallmentValue  *float64 `json:"installmentValue,omitempty"`
}

type asaasPayment struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Value             decimal.Decimal `json:"value"`
	InvoiceURL        string          `json:"invoiceUrl"`
	ExternalReference string          `json:"externalReference"`
}

type asaasErrors struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (c *AsaasClient) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	var cust struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create customer", http.MethodPost, "/customers", asaasCustomerReq{
		Name:        req.Payer.Name,
		CpfCnpj:     req.Payer.Document,
		Email:       req.Payer.Email,
		MobilePhone: req.Payer.Phone,
	}, &cust); err != nil {
		return Charge{}, err
	}

	body := asaasPaymentReq{
		Customer:          cust.ID,
		BillingType:       billingType(req.Method),
		Value:             decimal.New(req.AmountCents, -2).InexactFloat64(),
		DueDate:           req.DueDate.Format("2006-01-02"),
		Description:       req.Description,
		ExternalReference: req.OrderID,
	}
	if req.Installments > 1 {
		v := decimal.New(req.InstallmentCents, -2).InexactFloat64()
		body.InstallmentCount = req.Installments
		body.InstallmentValue = &v
	}

	var p asaasPayment
	if err := c.do(ctx, "create payment", http.MethodPost, "/payments", body, &p); err != nil {
		return Charge{}, err
	}
	return Charge{TransactionRef: p.ID, Status: mapAsaasStatus(p.Status), InvoiceURL: p.InvoiceURL}, nil
}

func (c *AsaasClient) GetCharge(ctx context.Context, transactionRef string) (Confirmation, error) {
	var p asaasPayment
	if err := c.do(ctx, "get payment", http.MethodGet, "/payments/"+transactionRef, nil, &p); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		TransactionRef: p.ID,
		OrderID:        p.ExternalReference,
		Status:         mapAsaasStatus(p.Status),
		AmountCents:    p.Value.Shift(2).Round(0).IntPart(),
	}, nil
}

func (c *AsaasClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &GatewayError{Op: op, Err: err}
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("access_token", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: ErrUnknownCharge}
	}
	if resp.StatusCode >= 300 {
		var ae asaasErrors
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		msg := "unexpected response"
		if len(ae.Errors) > 0 {
			msg = ae.Errors[0].Code + ": " + ae.Errors[0].Description
		}
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func billingType(m Method) string {
	switch m {
	case MethodPix:
		return "PIX"
	case MethodBoleto:
		return "BOLETO"
	case MethodDebitCard:
		return "DEBIT_CARD"
	}
	return "CREDIT_CARD"
}

func mapAsaasStatus(s string) ChargeStatus {
	switch s {
	case "CONFIRMED", "RECEIVED", "RECEIVED_IN_CASH":
		return ChargePaid
	case "OVERDUE", "REFUNDED", "REFUND_REQUESTED", "CHARGEBACK_REQUESTED", "CHARGEBACK_DISPUTE", "DUNNING_REQUESTED":
		return ChargeFailed
	}
	return ChargePending
}

// AsaasWebhook is the notification body Asaas posts for payment events.
type AsaasWebhook struct {
	Event   string       `json:"event"`
	Payment asaasPayment `json:"payment"`
}

// ParseAsaasWebhook decodes a notification into a Confirmation.
func ParseAsaasWebhook(r io.Reader) (Confirmation, error) {
	var wh AsaasWebhook
	if err := json.NewDecoder(r).Decode(&wh); err != nil {
		return Confirmation{}, fmt.Errorf("decode webhook: %w", err)
	}
	if wh.Payment.ID == "" {
		return Confirmation{}, errors.New("webhook without payment id")
	}
	status := mapAsaasStatus(wh.Payment.Status)
	switch wh.Event {
	case "PAYMENT_CREDIT_CARD_CAPTURE_REFUSED", "PAYMENT_REPROVED_BY_RISK_ANALYSIS", "PAYMENT_DELETED":
		status = ChargeFailed
	}
	return Confirmation{
		TransactionRef: wh.Payment.ID,
		OrderID:        wh.Payment.ExternalReference,
		Status:         status,
		AmountCents:    wh.Payment.Value.Shift(2).Round(0).IntPart(),
		Reason:         wh.Event,
	}, nil
}
