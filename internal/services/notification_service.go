// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/javajoker/shop-backend/internal/config"
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Email struct {
	To          string
	ToName      string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Mailer delivers a composed email or reports why it could not.
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

type SMTPMailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer:    gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, email *Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.fromEmail, m.fromName)
	msg.SetAddressHeader("To", email.To, email.ToName)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/html", email.HTMLBody)

	for _, a := range email.Attachments {
		data := a.Data
		msg.Attach(a.Filename,
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogMailer is used when SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, email *Email) error {
	logrus.WithFields(logrus.Fields{
		"to":          email.To,
		"subject":     email.Subject,
		"attachments": len(email.Attachments),
	}).Info("Email would be sent")
	return nil
}

func NewMailer(cfg config.EmailConfig) Mailer {
	if cfg.SMTPHost == "" {
		return LogMailer{}
	}
	return NewSMTPMailer(cfg)
}

type NotificationService struct {
	mailer Mailer
	store  config.StoreConfig
	tmpl   *template.Template
}

type ReceiptEmail struct {
	To           string
	CustomerName string
	TxRef        string
	OrderID      string
	Amount       string
	Currency     string
	PDF          []byte
}

func NewNotificationService(mailer Mailer, store config.StoreConfig) *NotificationService {
	return &NotificationService{
		mailer: mailer,
		store:  store,
		tmpl:   template.Must(template.New("receipt").Parse(receiptEmailTemplate)),
	}
}

func ReceiptSubject(txRef string) string {
	return fmt.Sprintf("Receipt for Your Purchase #%s", txRef)
}

func ReceiptFilename(txRef string) string {
	return fmt.Sprintf("receipt_%s.pdf", txRef)
}

func (s *NotificationService) SendReceipt(ctx context.Context, receipt *ReceiptEmail) error {
	body, err := s.renderTemplate(map[string]interface{}{
		"CustomerName": receipt.CustomerName,
		"TxRef":        receipt.TxRef,
		"OrderID":      receipt.OrderID,
		"Amount":       receipt.Amount,
		"Currency":     receipt.Currency,
		"StoreName":    s.store.Name,
		"SupportEmail": s.store.SupportEmail,
	})
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.mailer.Send(ctx, &Email{
		To:       receipt.To,
		ToName:   receipt.CustomerName,
		Subject:  ReceiptSubject(receipt.TxRef),
		HTMLBody: body,
		Attachments: []Attachment{{
			Filename:    ReceiptFilename(receipt.TxRef),
			ContentType: "application/pdf",
			Data:        receipt.PDF,
		}},
	})
}

func (s *NotificationService) renderTemplate(data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const receiptEmailTemplate = `
<!DOCTYPE html>
<html>
<body>
	<h2>Thank you for your purchase, {{.CustomerName}}!</h2>
	<p>Your payment for order {{.OrderID}} has been confirmed.</p>
	<p>Transaction reference: <strong>{{.TxRef}}</strong><br>
	Amount paid: <strong>{{.Amount}} {{.Currency}}</strong></p>
	<p>Your receipt is attached to this email.</p>
	<p>Questions? Contact us at {{.SupportEmail}}.</p>
	<p>Best regards,<br>{{.StoreName}} Team</p>
</body>
</html>`
