package email

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Message is a rendered email ready for delivery
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
	// Tags are attached for provider-side analytics
	Tags []string
}

// Validate checks the fields every provider needs
func (m Message) Validate() error {
	if m.To == "" {
		return errors.New("recipient is required")
	}
	if m.Subject == "" {
		return errors.New("subject is required")
	}
	if m.Text == "" && m.HTML == "" {
		return errors.New("text or html body is required")
	}
	return nil
}

// Sender delivers a message and returns the provider message ID
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// LogSender logs messages instead of sending them, for development
type LogSender struct {
	log *slog.Logger
}

// NewLogSender creates a log-only sender
func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log.With(logger.Scope("email.log"))}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	id := "log-" + uuid.NewString()
	s.log.Info("email send (log only)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("message_id", id))
	return id, nil
}
