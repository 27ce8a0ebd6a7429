package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"studiobook/db"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Refund reasons accepted by Stripe
const (
	Duplicate           = stripe.RefundReasonDuplicate
	Fraudulent          = stripe.RefundReasonFraudulent
	RequestedByCustomer = stripe.RefundReasonRequestedByCustomer
)

// Metadata keys carrying the same values as the PayPal custom and invoice fields
const (
	MetadataCustom  = "custom"
	MetadataInvoice = "invoice"
)

// Event types we don't reconcile
var ErrIgnoredEvent = errors.New("stripe event not handled")

func InitStripe(secretKey string) {
	stripe.Key = secretKey
}

// Amount in the smallest currency unit (pence, cents)
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Create a payment intent. The metadata travels back on the webhook events of the intent.
func CreatePaymentIntent(amount int64, currency stripe.Currency, metadata map[string]string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(string(currency)),
		Metadata: metadata,
	}
	return paymentintent.New(params)
}

func ConfirmPaymentIntent(intentID, paymentMethodID, returnURL string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodID),
		ReturnURL:     stripe.String(returnURL),
	}
	return paymentintent.Confirm(intentID, params)
}

// Refund amount of the intent. amount = 0 refunds all of it.
func CreateRefund(intentID string, reason stripe.RefundReason, amount int64) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Reason:        stripe.String(string(reason)),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	return refund.New(params)
}

// ParseWebhook verifies the Stripe signature and maps the event to a payment notification:
// payment_intent.succeeded is a Completed payment, charge.refunded a Refunded one.
// Other event types return ErrIgnoredEvent.
func ParseWebhook(payload []byte, signature, secret string) (*db.PaymentNotification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify stripe signature: %w", err)
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		return notification(intent.ID, db.StatusCompleted, intent.Metadata, intent.AmountReceived, string(payload)), nil

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("failed to decode charge: %w", err)
		}
		txnID := charge.ID
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			txnID = charge.PaymentIntent.ID
		}
		return notification(txnID, db.StatusRefunded, charge.Metadata, charge.AmountRefunded, string(payload)), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}
}

func notification(txnID string, status db.PaymentStatus, metadata map[string]string, amount int64, raw string) *db.PaymentNotification {
	return &db.PaymentNotification{
		Source:        db.SourceStripe,
		TxnID:         txnID,
		Invoice:       metadata[MetadataInvoice],
		Custom:        metadata[MetadataCustom],
		PaymentStatus: status,
		McGross:       decimal.New(amount, -2).StringFixed(2),
		Query:         raw,
	}
}
