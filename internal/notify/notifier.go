package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"jeoparty/internal/config"
)

// Notifier builds the account emails and sends them through a Mailer.
// Delivery failures are logged and never fail the calling operation.
type Notifier struct {
	mailer Mailer
	log    *slog.Logger
}

func NewNotifier(m Mailer, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{mailer: m, log: logger}
}

// FromConfig picks SendGrid when an API key is configured and falls back to logging mail.
func FromConfig(cfg config.MailConfig, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendGridKey == "" {
		return NewNotifier(NewConsoleMailer(logger), logger), nil
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse MAIL_FROM: %w", err)
	}
	return NewNotifier(NewSendGridMailer(cfg.SendGridKey, *from, logger), logger), nil
}

func (n *Notifier) send(ctx context.Context, msg Message) {
	if n == nil || n.mailer == nil || msg.To.Address == "" {
		return
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.log.Error("email failed", "template", msg.TemplateName, "err", err)
	}
}

func (n *Notifier) Suspended(ctx context.Context, to mail.Address, reason string) {
	n.send(ctx, Message{
		To:           to,
		Subject:      "Your account has been suspended",
		TemplateName: TemplateSuspended,
		TemplateData: SuspendedData{Name: to.Name, Reason: reason},
	})
}

func (n *Notifier) Unsuspended(ctx context.Context, to mail.Address) {
	n.send(ctx, Message{
		To:           to,
		Subject:      "Your account is active again",
		TemplateName: TemplateUnsuspended,
		TemplateData: SuspendedData{Name: to.Name},
	})
}

func (n *Notifier) Grant(ctx context.Context, to mail.Address, tier string, days int, expires time.Time) {
	n.send(ctx, Message{
		To:           to,
		Subject:      "You've been given complimentary " + tier + " access",
		TemplateName: TemplateGrant,
		TemplateData: GrantData{Name: to.Name, Tier: tier, Days: days, ExpiresOn: expires.UTC().Format("January 2, 2006")},
	})
}

func (n *Notifier) Refund(ctx context.Context, to mail.Address, cents int64) {
	n.send(ctx, Message{
		To:           to,
		Subject:      "Your refund is on the way",
		TemplateName: TemplateRefund,
		TemplateData: RefundData{Name: to.Name, Amount: FormatCents(cents)},
	})
}

func (n *Notifier) PaymentFailed(ctx context.Context, to mail.Address, portalURL string) {
	n.send(ctx, Message{
		To:           to,
		Subject:      "We couldn't process your payment",
		TemplateName: TemplatePaymentFailed,
		TemplateData: PaymentFailedData{Name: to.Name, PortalURL: portalURL},
	})
}
