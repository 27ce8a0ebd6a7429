package paypal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"studiobook/db"
	"studiobook/util"

	"github.com/shopspring/decimal"
)

// Values PayPal answers the postback with
const (
	Verified = "VERIFIED"
	Invalid  = "INVALID"
)

// Verifier checks that an IPN really comes from PayPal
type Verifier interface {
	Verify(ctx context.Context, rawQuery string) error
}

// Postback verifies IPNs by posting them back to PayPal with cmd=_notify-validate
type Postback struct {
	URL string
}

func NewPostback(url string) *Postback {
	return &Postback{URL: url}
}

// Verify posts the IPN, untouched and in its original order, back to PayPal
func (postback *Postback) Verify(ctx context.Context, rawQuery string) error {
	body := "cmd=_notify-validate&" + rawQuery
	_, resp, err := util.MakeRequest(ctx, "POST", postback.URL, strings.NewReader(body), "application/x-www-form-urlencoded")
	if err != nil {
		return fmt.Errorf("failed to post back IPN: %w", err)
	}

	answer := strings.TrimSpace(string(resp))
	if answer != Verified {
		return fmt.Errorf("invalid postback (%s)", answer)
	}
	return nil
}

// Parse turns the form encoded IPN into an unsaved notification
func Parse(form url.Values, rawQuery string) *db.PaymentNotification {
	return &db.PaymentNotification{
		Source:        db.SourcePaypal,
		TxnID:         form.Get("txn_id"),
		Invoice:       form.Get("invoice"),
		Custom:        form.Get("custom"),
		PaymentStatus: db.PaymentStatus(form.Get("payment_status")),
		ReceiverEmail: form.Get("receiver_email"),
		McGross:       form.Get("mc_gross"),
		Query:         rawQuery,
	}
}

// Settings of the buy now button
type FormConfig struct {
	ReceiverEmail string // Used when the item has no paypal email of its own
	Currency      string
	Domain        string // Public URL of this server
}

// What is being paid for
type Item struct {
	Name        string
	Amount      decimal.Decimal
	PaypalEmail string
}

// Custom field sent to PayPal: "<type> <id>", plus the voucher code when one was applied
func Custom(objType string, id uint, voucherCode string) string {
	custom := fmt.Sprintf("%s %d", objType, id)
	if voucherCode != "" {
		custom += " " + voucherCode
	}
	return custom
}

// FormDict returns the fields of a PayPal buy now form
func FormDict(cfg FormConfig, item Item, invoiceID, custom string) map[string]string {
	business := item.PaypalEmail
	if business == "" {
		business = cfg.ReceiverEmail
	}

	return map[string]string{
		"cmd":           "_xclick",
		"business":      business,
		"amount":        item.Amount.StringFixed(2),
		"item_name":     item.Name,
		"custom":        custom,
		"invoice":       invoiceID,
		"currency_code": cfg.Currency,
		"notify_url":    cfg.Domain + "/api/webhook/paypal",
		"return_url":    cfg.Domain + "/payments/confirm",
		"cancel_return": cfg.Domain + "/payments/cancel",
	}
}
