package notify

import (
	"context"
	"log/slog"
	"sync"
)

// ConsoleMailer logs messages instead of delivering them. Used when no SendGrid key is configured.
type ConsoleMailer struct {
	log *slog.Logger

	mu   sync.Mutex
	sent []Message
}

var _ Mailer = (*ConsoleMailer)(nil)

func NewConsoleMailer(logger *slog.Logger) *ConsoleMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleMailer{log: logger}
}

func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	if err := msg.Render(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.log.Info("email", "to", msg.To.Address, "subject", msg.Subject, "template", msg.TemplateName, "body", msg.TextContent)
	return nil
}

// Sent returns a copy of every message handed to Send.
func (m *ConsoleMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
