package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendGridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	host       string
	log        *slog.Logger
}

var _ Mailer = (*SendGridMailer)(nil)

func NewSendGridMailer(key string, from mail.Address, logger *slog.Logger) *SendGridMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridMailer{
		key:        key,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[Jeoparty] ",
		host:       sendgridHost,
		log:        logger,
	}
}

func (m *SendGridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		v3.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return v3
}

func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Render(); err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	if msg.To.Address == "" || !msg.HasContent() {
		return nil
	}
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, m.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send email: sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	m.log.Info("email sent", "template", msg.TemplateName, "status", res.StatusCode)
	return nil
}
