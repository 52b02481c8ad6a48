// Package payment is the boundary to the payment gateway: charge creation,
// charge lookup for polling, webhook decoding and installment rules.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Method string

const (
	MethodPix        Method = "PIX"
	MethodCreditCard Method = "CREDIT_CARD"
	MethodDebitCard  Method = "DEBIT_CARD"
	MethodBoleto     Method = "BOLETO"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPix, MethodCreditCard, MethodDebitCard, MethodBoleto:
		return true
	}
	return false
}

type ChargeStatus string

const (
	ChargePending ChargeStatus = "PENDING"
	ChargePaid    ChargeStatus = "PAID"
	ChargeFailed  ChargeStatus = "FAILED"
)

type Payer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"` // CPF/CNPJ
	Phone    string `json:"phone,omitempty"`
}

type ChargeRequest struct {
	OrderID          string
	AmountCents      int64
	Method           Method
	Installments     int
	InstallmentCents int64
	Payer            Payer
	Description      string
	DueDate          time.Time
}

type Charge struct {
	TransactionRef string
	Status         ChargeStatus
	InvoiceURL     string
}

// Confirmation is the single internal shape for webhook deliveries and poll
// results.
type Confirmation struct {
	TransactionRef string       `json:"transaction_ref"`
	OrderID        string       `json:"order_id,omitempty"` // externalReference, kalau gateway kirim
	Status         ChargeStatus `json:"status"`
	AmountCents    int64        `json:"amount_cents"`
	Reason         string       `json:"reason,omitempty"`
}

type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	GetCharge(ctx context.Context, transactionRef string) (Confirmation, error)
}

var ErrUnknownCharge = errors.New("unknown charge")

// GatewayError wraps any failure talking to the gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
