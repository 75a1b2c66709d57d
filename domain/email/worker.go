package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Job kinds accepted by the email queue
const (
	KindSend              jobs.Kind = "send"
	KindPaymentReminder   jobs.Kind = "payment_reminder"
	KindSignatureReminder jobs.Kind = "signature_reminder"
)

// SendRequest is the payload of a send job. Template, when set, renders the
// body from Data and Text/HTML are ignored.
type SendRequest struct {
	To       string          `json:"to"`
	ToName   string          `json:"toName,omitempty"`
	Subject  string          `json:"subject"`
	Text     string          `json:"text,omitempty"`
	HTML     string          `json:"html,omitempty"`
	Template string          `json:"template,omitempty"`
	Data     TemplateContext `json:"data,omitempty"`
}

// PaymentReminder is the payload of a payment_reminder job
type PaymentReminder struct {
	To          string `json:"to"`
	PilgrimName string `json:"pilgrimName"`
	PackageName string `json:"packageName"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	DueDate     string `json:"dueDate"`
	PaymentURL  string `json:"paymentUrl,omitempty"`
}

// SignatureReminder is the payload of a signature_reminder job
type SignatureReminder struct {
	To            string `json:"to"`
	RecipientName string `json:"recipientName"`
	DocumentID    string `json:"documentId"`
	DocumentTitle string `json:"documentTitle"`
	SignURL       string `json:"signUrl,omitempty"`
}

// SendResult is stored as the job result
type SendResult struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

// Worker executes email jobs
type Worker struct {
	sender     Sender
	templates  *Templates
	agencyName string
	log        *slog.Logger
}

// NewWorker creates the email job handlers
func NewWorker(sender Sender, templates *Templates, agencyName string, log *slog.Logger) *Worker {
	return &Worker{
		sender:     sender,
		templates:  templates,
		agencyName: agencyName,
		log:        log.With(logger.Scope("email.worker")),
	}
}

// Mux binds the email kinds to their handlers
func (w *Worker) Mux() *jobs.Mux {
	return jobs.NewMux(KindSend, KindPaymentReminder, KindSignatureReminder).
		Handle(KindSend, w.handleSend).
		Handle(KindPaymentReminder, w.handlePaymentReminder).
		Handle(KindSignatureReminder, w.handleSignatureReminder)
}

func (w *Worker) deliver(ctx context.Context, job jobs.Job, msg Message) (any, error) {
	msg.Tags = append(msg.Tags, string(job.Kind))
	if err := msg.Validate(); err != nil {
		return nil, jobs.Permanent(err)
	}
	id, err := w.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	w.log.Debug("email job delivered",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID()),
		slog.String("kind", string(job.Kind)))
	return SendResult{MessageID: id, To: msg.To}, nil
}

func (w *Worker) render(name string, ctx TemplateContext) (*Rendered, error) {
	if ctx == nil {
		ctx = TemplateContext{}
	}
	if _, ok := ctx["agencyName"]; !ok {
		ctx["agencyName"] = w.agencyName
	}
	return w.templates.Render(name, ctx)
}

func (w *Worker) handleSend(ctx context.Context, job jobs.Job, _ jobs.ProgressFunc) (any, error) {
	var req SendRequest
	if err := job.Payload.Decode(&req); err != nil {
		return nil, err
	}

	msg := Message{To: req.To, ToName: req.ToName, Subject: req.Subject, Text: req.Text, HTML: req.HTML}
	if req.Template != "" {
		data := req.Data
		if data == nil {
			data = TemplateContext{}
		}
		if _, ok := data["title"]; !ok {
			data["title"] = req.Subject
		}
		r, err := w.render(req.Template, data)
		if err != nil {
			return nil, err
		}
		msg.HTML, msg.Text = r.HTML, r.Text
	}
	return w.deliver(ctx, job, msg)
}

func (w *Worker) handlePaymentReminder(ctx context.Context, job jobs.Job, _ jobs.ProgressFunc) (any, error) {
	var p PaymentReminder
	if err := job.Payload.Decode(&p); err != nil {
		return nil, err
	}
	if p.Amount == "" || p.DueDate == "" {
		return nil, errors.New("payment reminder needs amount and due date")
	}

	subject := fmt.Sprintf("Payment reminder: %s", p.PackageName)
	r, err := w.render(TemplatePaymentReminder, TemplateContext{
		"title":       subject,
		"pilgrimName": p.PilgrimName,
		"packageName": p.PackageName,
		"amount":      p.Amount,
		"currency":    p.Currency,
		"dueDate":     p.DueDate,
		"ctaUrl":      p.PaymentURL,
		"message":     fmt.Sprintf("A payment of %s %s for %s is due on %s.", p.Amount, p.Currency, p.PackageName, p.DueDate),
	})
	if err != nil {
		return nil, err
	}
	return w.deliver(ctx, job, Message{To: p.To, ToName: p.PilgrimName, Subject: subject, Text: r.Text, HTML: r.HTML})
}

func (w *Worker) handleSignatureReminder(ctx context.Context, job jobs.Job, _ jobs.ProgressFunc) (any, error) {
	var p SignatureReminder
	if err := job.Payload.Decode(&p); err != nil {
		return nil, err
	}
	if p.DocumentTitle == "" {
		return nil, errors.New("signature reminder needs a document title")
	}

	subject := fmt.Sprintf("Signature required: %s", p.DocumentTitle)
	r, err := w.render(TemplateSignatureReminder, TemplateContext{
		"title":         subject,
		"recipientName": p.RecipientName,
		"documentTitle": p.DocumentTitle,
		"ctaUrl":        p.SignURL,
		"message":       fmt.Sprintf("The document %s is waiting for your signature.", p.DocumentTitle),
	})
	if err != nil {
		return nil, err
	}
	return w.deliver(ctx, job, Message{To: p.To, ToName: p.RecipientName, Subject: subject, Text: r.Text, HTML: r.HTML})
}
