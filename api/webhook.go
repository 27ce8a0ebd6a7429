package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"studiobook/service/payment"
	"studiobook/service/paypal"
	"studiobook/service/reconcile"
	"studiobook/util"

	"github.com/gin-gonic/gin"
)

// Largest webhook body we read
const maxWebhookBody = 64 << 10

// PaypalWebhook godoc
// @Summary      PayPal IPN listener
// @Description  Receives PayPal instant payment notifications. Always answers 200: failures are logged and emailed to support, PayPal retrying would not help.
// @Tags         Webhooks
// @Accept       x-www-form-urlencoded
// @Success      200
// @Router       /api/webhook/paypal [post]
func (server *Server) PaypalWebhook(ctx *gin.Context) {
	// The postback must repeat the body untouched, so read it raw rather than through ParseForm
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		util.LOGGER.Warn("POST /api/webhook/paypal: failed to read body", "error", err)
		ctx.Status(http.StatusOK)
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		util.LOGGER.Warn("POST /api/webhook/paypal: failed to parse body", "error", err)
		ctx.Status(http.StatusOK)
		return
	}

	n := paypal.Parse(form, string(body))
	if err := server.reconciler.Receive(ctx.Request.Context(), n); err != nil {
		if errors.Is(err, reconcile.ErrInFlight) {
			util.LOGGER.Info("POST /api/webhook/paypal: notification already being processed", "txn_id", n.TxnID)
		} else {
			util.LOGGER.Error("POST /api/webhook/paypal: failed to process notification", "txn_id", n.TxnID, "error", err)
		}
	}
	ctx.Status(http.StatusOK)
}

// StripeWebhook godoc
// @Summary      Stripe webhook
// @Description  Receives Stripe events. payment_intent.succeeded pays and charge.refunded refunds the booking, block or ticket booking named in the intent metadata.
// @Tags         Webhooks
// @Accept       json
// @Success      200
// @Failure      400  {object}  ErrorResponse  "Invalid signature"
// @Router       /api/webhook/stripe [post]
func (server *Server) StripeWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		util.LOGGER.Warn("POST /api/webhook/stripe: failed to read body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	n, err := payment.ParseWebhook(body, ctx.GetHeader("Stripe-Signature"), server.config.StripeWebhookSecret)
	if errors.Is(err, payment.ErrIgnoredEvent) {
		ctx.Status(http.StatusOK)
		return
	}
	if err != nil {
		util.LOGGER.Warn("POST /api/webhook/stripe: failed to verify event", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid signature"})
		return
	}

	if err := server.reconciler.Receive(ctx.Request.Context(), n); err != nil && !errors.Is(err, reconcile.ErrInFlight) {
		util.LOGGER.Error("POST /api/webhook/stripe: failed to process notification", "txn_id", n.TxnID, "error", err)
	}
	ctx.Status(http.StatusOK)
}
