package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
)

// One email. Html is optional, Text is always sent.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	Html    string   `json:"html,omitempty"`
}

// Universal interface for mail service
type MailService interface {
	Send(ctx context.Context, msg Message) error
}

// Email service struct, which holds configurations related to email sending
type EmailService struct {
	Host        string
	Port        string
	Email       string
	DefaultFrom string
	Auth        smtp.Auth
}

// Constructing method for email service struct
func NewEmailService(host, port, email, password, defaultFrom string) *EmailService {
	// Try simple authentication
	smtpAuth := smtp.PlainAuth("", email, password, host)

	return &EmailService{
		Host:        host,
		Port:        port,
		Email:       email,
		DefaultFrom: defaultFrom,
		Auth:        smtpAuth,
	}
}

const boundary = "studiobook-alternative"

// Build the raw message: plain text, plus an html alternative when given
func (msg Message) Bytes() []byte {
	var sb strings.Builder
	headers := [][2]string{
		{"From", msg.From},
		{"To", strings.Join(msg.To, ", ")},
		{"Subject", msg.Subject},
		{"MIME-Version", "1.0"},
	}
	if len(msg.Cc) > 0 {
		headers = append(headers, [2]string{"Cc", strings.Join(msg.Cc, ", ")})
	}
	for _, h := range headers {
		sb.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}

	if msg.Html == "" {
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.Text)
		return []byte(sb.String())
	}

	sb.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary))
	sb.WriteString(fmt.Sprintf("--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.Text))
	sb.WriteString(fmt.Sprintf("--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.Html))
	sb.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(sb.String())
}

// Method to send email
func (service *EmailService) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.From == "" {
		msg.From = service.DefaultFrom
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("email %q has no recipient", msg.Subject)
	}

	addr := fmt.Sprintf("%s:%s", service.Host, service.Port)
	recipients := append(append([]string{}, msg.To...), msg.Cc...)
	return smtp.SendMail(addr, service.Auth, service.Email, recipients, msg.Bytes())
}

// Outbox records messages instead of sending them. Used in development and tests.
type Outbox struct {
	mu       sync.Mutex
	Messages []Message
	Err      error // Returned by Send when set
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (outbox *Outbox) Send(ctx context.Context, msg Message) error {
	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	if outbox.Err != nil {
		return outbox.Err
	}
	outbox.Messages = append(outbox.Messages, msg)
	return nil
}

// Sent messages, copied
func (outbox *Outbox) Sent() []Message {
	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	return append([]Message(nil), outbox.Messages...)
}

func (outbox *Outbox) Reset() {
	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	outbox.Messages = nil
	outbox.Err = nil
}
