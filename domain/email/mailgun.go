package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// sendTimeout bounds a single Mailgun API call
const sendTimeout = 30 * time.Second

// MailgunSender sends emails via Mailgun API.
// This is a thin wrapper around the Mailgun SDK.
type MailgunSender struct {
	from   string
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

// NewMailgunSender creates a new Mailgun email sender.
// Returns nil if Mailgun is not configured.
func NewMailgunSender(cfg config.EmailConfig, log *slog.Logger) *MailgunSender {
	if !cfg.IsConfigured() {
		return nil
	}

	return &MailgunSender{
		from:   fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
		log:    log.With(logger.Scope("email.mailgun")),
		client: mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey),
	}
}

// SetAPIBase points the client at another API endpoint (EU region, tests)
func (s *MailgunSender) SetAPIBase(url string) {
	s.client.SetAPIBase(url)
}

// Send sends an email via Mailgun.
func (s *MailgunSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}

	message := s.client.NewMessage(s.from, msg.Subject, msg.Text, to)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}
	for _, tag := range msg.Tags {
		if err := message.AddTag(tag); err != nil {
			return "", fmt.Errorf("tag email: %w", err)
		}
	}

	s.log.Debug("sending email",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject))

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		s.log.Error("failed to send email",
			slog.String("to", msg.To),
			logger.Error(err))
		return "", fmt.Errorf("mailgun send: %w", err)
	}

	s.log.Info("email sent successfully",
		slog.String("to", msg.To),
		slog.String("message_id", messageID))
	return messageID, nil
}
