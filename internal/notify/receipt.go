// Package notify renders the order receipt and mails it to the payer.
package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
)

type Receipt struct {
	To      string
	Subject string
	Body    string
}

type Store struct {
	Name         string
	ContactEmail string
}

var receiptTmpl = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"brl":      BRL,
	"subtotal": func(l orders.LineItem) string { return BRL(l.SubtotalCents()) },
	"variant":  variantLabel,
}).Parse(`Olá {{.Order.Payer.Name}},

Recebemos o pagamento do seu pedido {{.Order.ID}}.

{{range .Order.Items}}- {{.Name}}{{variant .}} x{{.Qty}}  {{brl .UnitPriceCents}}  =  {{subtotal .}}
{{end}}
Subtotal: {{brl .Order.SubtotalCents}}
Frete ({{.Order.ShippingMethod}}): {{brl .Order.ShippingCents}}
Total: {{brl .Order.TotalCents}}{{if gt .Order.Installments 1}} em {{.Order.Installments}}x de {{brl .Order.InstallmentCents}}{{end}}

Entrega em: {{.Order.Destination.Street}}, {{.Order.Destination.Number}} - {{.Order.Destination.City}}/{{.Order.Destination.State}} {{.Order.Destination.ZIP}}

Dúvidas: {{.Store.ContactEmail}}
{{.Store.Name}}
`))

// Render builds the receipt for a paid order.
func Render(s Store, o orders.Order) (Receipt, error) {
	var buf bytes.Buffer
	if err := receiptTmpl.Execute(&buf, struct {
		Store Store
		Order orders.Order
	}{s, o}); err != nil {
		return Receipt{}, fmt.Errorf("render receipt %s: %w", o.ID, err)
	}
	return Receipt{
		To:      o.Payer.Email,
		Subject: fmt.Sprintf("%s - pedido %s confirmado", s.Name, o.ID),
		Body:    buf.String(),
	}, nil
}

// BRL formats cents as "R$ 1.234,56".
func BRL(cents int64) string {
	s := decimal.New(cents, -2).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := "R$ " + b.String() + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}

func variantLabel(l orders.LineItem) string {
	parts := make([]string, 0, 2)
	if l.Size != "" {
		parts = append(parts, l.Size)
	}
	if l.Color != "" {
		parts = append(parts, l.Color)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
