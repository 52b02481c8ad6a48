package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Mailer interface {
	Send(ctx context.Context, r Receipt) error
}

// SendGridMailer delivers receipts through SendGrid.
type SendGridMailer struct {
	client   *sendgrid.Client
	from     string
	fromName string
	log      *slog.Logger
}

func NewSendGridMailer(apiKey, from, fromName string, log *slog.Logger) *SendGridMailer {
	return &SendGridMailer{client: sendgrid.NewSendClient(apiKey), from: from, fromName: fromName, log: log}
}

func (m *SendGridMailer) Send(ctx context.Context, r Receipt) error {
	if r.To == "" {
		return fmt.Errorf("to address is empty")
	}
	msg := mail.NewSingleEmail(
		mail.NewEmail(m.fromName, m.from),
		r.Subject,
		mail.NewEmail("", r.To),
		r.Body,
		"<pre>"+html.EscapeString(r.Body)+"</pre>",
	)

	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", resp.StatusCode, resp.Body)
	}
	m.log.InfoContext(ctx, "receipt sent", "status", resp.StatusCode, "to", r.To)
	return nil
}

// LogMailer only logs. Used when no SendGrid key is configured.
type LogMailer struct{ Log *slog.Logger }

func (m LogMailer) Send(ctx context.Context, r Receipt) error {
	m.Log.InfoContext(ctx, "receipt (not sent)", "to", r.To, "subject", r.Subject)
	return nil
}
