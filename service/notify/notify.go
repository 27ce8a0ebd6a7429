package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"studiobook/service/mail"
	"studiobook/service/metrics"
	"studiobook/util"
	"text/template"
)

// Template names
const (
	PaymentProcessedStudio  = "payment_processed_studio"
	PaymentProcessedUser    = "payment_processed_user"
	RefundProcessed         = "refund_processed"
	BookingCancelled        = "booking_cancelled"
	BookingsCancelledStudio = "bookings_cancelled_studio"
	SpaceConfirmed          = "space_confirmed"
)

//go:embed templates
var fs embed.FS

var (
	textTemplates = template.Must(template.ParseFS(fs, "templates/*.txt"))
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(fs, "templates/*.html"))
)

// Email addresses and subject prefix of the studio
type Settings struct {
	SubjectPrefix       string
	From                string
	StudioEmail         string
	SupportEmail        string
	SendAllStudioEmails bool
}

func SettingsFromConfig(config *util.Config) Settings {
	return Settings{
		SubjectPrefix:       config.EmailSubjectPrefix,
		From:                config.DefaultFromEmail,
		StudioEmail:         config.StudioEmail,
		SupportEmail:        config.SupportEmail,
		SendAllStudioEmails: config.SendAllStudioEmails,
	}
}

// Notifier renders the studio emails and hands them to the mail service
type Notifier struct {
	mailer   mail.MailService
	Settings Settings
}

func NewNotifier(mailer mail.MailService, settings Settings) *Notifier {
	return &Notifier{mailer: mailer, Settings: settings}
}

// Subject with the studio prefix
func (notifier *Notifier) Subject(format string, args ...any) string {
	return notifier.Settings.SubjectPrefix + " " + fmt.Sprintf(format, args...)
}

// Render the text body of a template, and its html alternative when there is one
func Render(name string, data any) (string, string, error) {
	var text bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return "", "", fmt.Errorf("failed to render %s: %w", name, err)
	}

	if htmlTemplates.Lookup(name+".html") == nil {
		return text.String(), "", nil
	}
	var html bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html", data); err != nil {
		return "", "", fmt.Errorf("failed to render %s html: %w", name, err)
	}
	return text.String(), html.String(), nil
}

// Send a rendered template
func (notifier *Notifier) SendTemplate(ctx context.Context, to []string, subject, name string, data any) error {
	text, html, err := Render(name, data)
	if err != nil {
		return err
	}
	return notifier.Send(ctx, mail.Message{To: to, Subject: subject, Text: text, Html: html})
}

// Send a plain text email
func (notifier *Notifier) SendText(ctx context.Context, to []string, subject, body string) error {
	return notifier.Send(ctx, mail.Message{To: to, Subject: subject, Text: body})
}

func (notifier *Notifier) Send(ctx context.Context, msg mail.Message) error {
	if msg.From == "" {
		msg.From = notifier.Settings.From
	}
	err := notifier.mailer.Send(ctx, msg)
	metrics.EmailsSent.WithLabelValues(metrics.Result(err)).Inc()
	return err
}

// Email support, logging instead of failing when the mail can't go out
func (notifier *Notifier) WarnSupport(ctx context.Context, subject, body string) {
	if err := notifier.SendText(ctx, []string{notifier.Settings.SupportEmail}, subject, body); err != nil {
		util.LOGGER.Error("failed to email support", "subject", subject, "error", err)
	}
}

// Data of the payment emails
type PaymentData struct {
	UserName    string
	ObjType     string // Booking, Block, Ticket Booking
	ObjID       uint
	Item        string
	InvoiceID   string
	TxnID       string
	PaypalEmail string
}

// Data of the cancelled booking email
type BookingCancelledData struct {
	UserName           string
	Event              string
	DueDate            string
	CancellationPeriod string
}

// Data of the studio digest of cancelled bookings
type BookingsCancelledData struct {
	Bookings []string
}

// Data of the space confirmed email
type SpaceConfirmedData struct {
	UserName string
	Event    string
}
