package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"studiobook/db"
	"studiobook/service/invoice"
	"studiobook/service/payment"
	"studiobook/service/paypal"
	"studiobook/service/reconcile"
	"studiobook/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

var (
	errAlreadyPaid    = errors.New("already paid")
	errPaymentClosed  = errors.New("payments are not open")
	errInvalidVoucher = errors.New("invalid voucher code")
)

// What a user is about to pay for
type checkout struct {
	objType string
	id      uint
	item    paypal.Item
	invoice func() (string, error)
}

func (server *Server) resolveCheckout(ctx context.Context, objType string, id, userID uint) (*checkout, error) {
	conn := server.queries.DB.WithContext(ctx)

	switch objType {
	case reconcile.TypeBooking:
		var booking db.Booking
		if err := conn.Preload("User").Preload("Event").First(&booking, id).Error; err != nil {
			return nil, db.NotFound(err, "booking %d", id)
		}
		if booking.UserID != userID {
			return nil, db.ErrNotFound
		}
		if booking.Paid {
			return nil, errAlreadyPaid
		}
		if !booking.Event.PaymentOpen || booking.Status == db.BookingCancelled {
			return nil, errPaymentClosed
		}
		return &checkout{
			objType: objType,
			id:      id,
			item:    paypal.Item{Name: booking.Event.String(), Amount: booking.Event.Cost, PaypalEmail: booking.Event.PaypalEmail},
			invoice: func() (string, error) {
				rec, err := invoice.ForBooking(ctx, conn, &booking)
				if err != nil {
					return "", err
				}
				return rec.InvoiceID, nil
			},
		}, nil

	case reconcile.TypeBlock:
		var block db.Block
		if err := conn.Preload("User").Preload("BlockType.EventType").Preload("Parent.BlockType").First(&block, id).Error; err != nil {
			return nil, db.NotFound(err, "block %d", id)
		}
		if block.UserID != userID {
			return nil, db.ErrNotFound
		}
		if block.Paid {
			return nil, errAlreadyPaid
		}
		return &checkout{
			objType: objType,
			id:      id,
			item:    paypal.Item{Name: block.String(), Amount: block.BlockType.Cost, PaypalEmail: block.BlockType.PaypalEmail},
			invoice: func() (string, error) {
				rec, err := invoice.ForBlock(ctx, conn, &block)
				if err != nil {
					return "", err
				}
				return rec.InvoiceID, nil
			},
		}, nil

	case reconcile.TypeTicketBooking:
		var tb db.TicketBooking
		if err := conn.Preload("User").Preload("TicketedEvent").Preload("Tickets").First(&tb, id).Error; err != nil {
			return nil, db.NotFound(err, "ticket booking %d", id)
		}
		if tb.UserID != userID {
			return nil, db.ErrNotFound
		}
		if tb.Paid {
			return nil, errAlreadyPaid
		}
		if !tb.TicketedEvent.PaymentOpen || tb.Cancelled {
			return nil, errPaymentClosed
		}
		te := tb.TicketedEvent
		return &checkout{
			objType: objType,
			id:      id,
			item: paypal.Item{
				Name:        tb.String(),
				Amount:      te.TicketCost.Mul(decimal.NewFromInt(int64(len(tb.Tickets)))),
				PaypalEmail: te.PaypalEmail,
			},
			invoice: func() (string, error) {
				rec, err := invoice.ForTicketBooking(ctx, conn, &tb)
				if err != nil {
					return "", err
				}
				return rec.InvoiceID, nil
			},
		}, nil
	}
	return nil, errors.New("unknown payment type")
}

// Apply a voucher to the checkout amount
func (server *Server) applyVoucher(ctx context.Context, co *checkout, code string, userID uint) error {
	if code == "" {
		return nil
	}

	conn := server.queries.DB.WithContext(ctx)
	var voucher db.Voucher
	if err := conn.Where("code = ?", code).First(&voucher).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errInvalidVoucher
		}
		return err
	}
	now := db.Now()
	if !voucher.HasStarted(now) || voucher.HasExpired(now) {
		return errInvalidVoucher
	}
	if voucher.MaxPerUser != nil {
		var used int64
		err := conn.Table("voucher_users").Where("voucher_id = ? AND user_id = ?", voucher.ID, userID).Count(&used).Error
		if err != nil {
			return err
		}
		if used >= int64(*voucher.MaxPerUser) {
			return errInvalidVoucher
		}
	}

	discount := decimal.NewFromInt(int64(100 - voucher.Discount)).Div(decimal.NewFromInt(100))
	co.item.Amount = co.item.Amount.Mul(discount).Round(2)
	return nil
}

func checkoutError(ctx *gin.Context, route string, err error) {
	switch {
	case errors.Is(err, errAlreadyPaid), errors.Is(err, errPaymentClosed), errors.Is(err, errInvalidVoucher):
		util.LOGGER.Warn(route+": cannot pay", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{err.Error()})
	default:
		handleError(ctx, route, "prepare payment", err)
	}
}

type CheckoutQuery struct {
	Type    string `form:"type" json:"type" binding:"required,oneof=booking block ticket_booking"`
	ID      uint   `form:"id" json:"id" binding:"required"`
	Voucher string `form:"voucher" json:"voucher"`
}

// PaypalForm godoc
// @Summary      PayPal buy now form
// @Description  Fields of the PayPal form paying for a booking, block or ticket booking. The invoice id is created on first use and reused afterwards.
// @Tags         Payments
// @Produce      json
// @Param        type     query  string  true   "booking, block or ticket_booking"
// @Param        id       query  int     true   "ID of the booking, block or ticket booking"
// @Param        voucher  query  string  false  "Voucher code"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  ErrorResponse  "Invalid query | Already paid | Payments are not open | Invalid voucher code"
// @Failure      404  {object}  ErrorResponse  "Not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/payments/paypal-form [get]
func (server *Server) PaypalForm(ctx *gin.Context) {
	var req CheckoutQuery
	if err := ctx.ShouldBindQuery(&req); err != nil {
		util.LOGGER.Warn("GET /api/payments/paypal-form: failed to bind query", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid query"})
		return
	}
	userID := getClaims(ctx).ID

	co, err := server.resolveCheckout(ctx, req.Type, req.ID, userID)
	if err == nil {
		err = server.applyVoucher(ctx, co, req.Voucher, userID)
	}
	if err != nil {
		checkoutError(ctx, "GET /api/payments/paypal-form", err)
		return
	}

	invoiceID, err := co.invoice()
	if err != nil {
		util.LOGGER.Error("GET /api/payments/paypal-form: failed to create invoice id", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	form := paypal.FormDict(paypal.FormConfig{
		ReceiverEmail: server.config.PaypalReceiverEmail,
		Currency:      server.config.Currency,
		Domain:        server.config.ServerDomain,
	}, co.item, invoiceID, paypal.Custom(co.objType, co.id, req.Voucher))
	ctx.JSON(http.StatusOK, form)
}

type CreatePaymentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	InvoiceID       string `json:"invoice_id"`
	Amount          string `json:"amount"`
}

// CreatePayment godoc
// @Summary      Create a Stripe payment
// @Description  Creates a Stripe payment intent for a booking, block or ticket booking. The payment is reconciled when Stripe calls the webhook.
// @Tags         Payments
// @Accept       json
// @Produce      json
// @Param        request  body  CheckoutQuery  true  "What to pay for"
// @Success      200  {object}  CreatePaymentResponse
// @Failure      400  {object}  ErrorResponse  "Invalid request body | Already paid | Payments are not open | Invalid voucher code"
// @Failure      404  {object}  ErrorResponse  "Not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/payments/stripe [post]
func (server *Server) CreatePayment(ctx *gin.Context) {
	var req CheckoutQuery
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/payments/stripe: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}
	userID := getClaims(ctx).ID

	co, err := server.resolveCheckout(ctx, req.Type, req.ID, userID)
	if err == nil {
		err = server.applyVoucher(ctx, co, req.Voucher, userID)
	}
	if err != nil {
		checkoutError(ctx, "POST /api/payments/stripe", err)
		return
	}

	invoiceID, err := co.invoice()
	if err != nil {
		util.LOGGER.Error("POST /api/payments/stripe: failed to create invoice id", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	currency := stripe.Currency(strings.ToLower(server.config.Currency))
	intent, err := payment.CreatePaymentIntent(payment.MinorUnits(co.item.Amount), currency, map[string]string{
		payment.MetadataCustom:  paypal.Custom(co.objType, co.id, req.Voucher),
		payment.MetadataInvoice: invoiceID,
	})
	if err != nil {
		util.LOGGER.Error("POST /api/payments/stripe: failed to create Stripe payment intent", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	ctx.JSON(http.StatusOK, CreatePaymentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		InvoiceID:       invoiceID,
		Amount:          co.item.Amount.StringFixed(2),
	})
}

type RefundRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
	Amount          int64  `json:"amount" binding:"min=0"` // In minor units, 0 refunds everything
	Reason          string `json:"reason" binding:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

// Refund godoc
// @Summary      Refund a Stripe payment
// @Description  Asks Stripe for the refund. The booking is updated when Stripe sends charge.refunded to the webhook.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request  body  RefundRequest  true  "Refund"
// @Success      200  {object}  SuccessMessage  "Refund success"
// @Failure      400  {object}  ErrorResponse   "Invalid request body | Refund failed"
// @Failure      500  {object}  ErrorResponse   "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/payments/refund [post]
func (server *Server) Refund(ctx *gin.Context) {
	var req RefundRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/admin/payments/refund: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	reason := payment.RequestedByCustomer
	if req.Reason != "" {
		reason = stripe.RefundReason(req.Reason)
	}

	refund, err := payment.CreateRefund(req.PaymentIntentID, reason, req.Amount)
	if err != nil {
		util.LOGGER.Error("POST /api/admin/payments/refund: failed to create refund", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	// A refund failure is not a server error
	if refund.Status != stripe.RefundStatusSucceeded && refund.Status != stripe.RefundStatusPending {
		util.LOGGER.Warn(
			"POST /api/admin/payments/refund: refund failed",
			"status", string(refund.Status),
			"reason", string(refund.FailureReason),
		)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Refund failed: " + string(refund.FailureReason)})
		return
	}

	ctx.JSON(http.StatusOK, SuccessMessage{"Refund success"})
}
