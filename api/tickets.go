package api

import (
	"errors"
	"net/http"
	"studiobook/db"
	"studiobook/service/worker"
	"studiobook/util"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// URL staff open when scanning a ticket QR code
func (server *Server) checkinURL(ref string) string {
	return server.config.ServerDomain + "/api/admin/ticket-bookings/" + ref
}

type BuyTicketsRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// BuyTickets godoc
// @Summary      Buy tickets
// @Description  Books quantity tickets under one booking reference. Fails with 409 when not enough tickets are left. The QR code is published in the background.
// @Tags         Tickets
// @Accept       json
// @Produce      json
// @Param        id       path  int                true  "Ticketed event ID"
// @Param        request  body  BuyTicketsRequest  true  "Quantity"
// @Success      200  {object}  db.TicketBooking
// @Failure      400  {object}  ErrorResponse  "Invalid request body | Ticket purchase closed"
// @Failure      404  {object}  ErrorResponse  "Ticketed event not found"
// @Failure      409  {object}  ErrorResponse  "No tickets left"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/ticketed-events/{id}/tickets [post]
func (server *Server) BuyTickets(ctx *gin.Context) {
	id, ok := pathID(ctx, "POST /api/ticketed-events/:id/tickets")
	if !ok {
		return
	}

	var req BuyTicketsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/ticketed-events/:id/tickets: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	tb, err := server.ledger.BuyTickets(ctx, getClaims(ctx).ID, id, req.Quantity)
	if err != nil {
		handleError(ctx, "POST /api/ticketed-events/:id/tickets", "buy tickets", err)
		return
	}

	// The QR code is also served on the fly, a failed upload is not fatal
	err = server.distributor.DistributeTask(ctx, worker.PublishTicketQR, worker.PublishTicketQRPayload{
		TicketBookingID: tb.ID,
		CheckInURL:      server.checkinURL(tb.BookingReference),
	}, asynq.MaxRetry(5))
	if err != nil {
		util.LOGGER.Error("POST /api/ticketed-events/:id/tickets: failed to distribute task", "task", worker.PublishTicketQR, "error", err)
	}

	ctx.JSON(http.StatusOK, tb)
}

// CancelTicketBooking godoc
// @Summary      Cancel a ticket booking
// @Tags         Tickets
// @Produce      json
// @Param        id  path  int  true  "Ticket booking ID"
// @Success      200  {object}  db.TicketBooking
// @Failure      403  {object}  ErrorResponse  "Ticket booking belongs to another user"
// @Failure      404  {object}  ErrorResponse  "Ticket booking not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/ticket-bookings/{id} [delete]
func (server *Server) CancelTicketBooking(ctx *gin.Context) {
	id, ok := pathID(ctx, "DELETE /api/ticket-bookings/:id")
	if !ok {
		return
	}

	tb, err := server.ledger.CancelTicketBooking(ctx, getClaims(ctx).ID, id)
	if err != nil {
		handleError(ctx, "DELETE /api/ticket-bookings/:id", "cancel ticket booking", err)
		return
	}
	ctx.JSON(http.StatusOK, tb)
}

// TicketQR godoc
// @Summary      QR code of a ticket booking
// @Tags         Tickets
// @Produce      png
// @Param        ref  path  string  true  "Booking reference"
// @Success      200  {file}    binary
// @Failure      404  {object}  ErrorResponse  "Ticket booking not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /api/ticket-bookings/{ref}/qr [get]
func (server *Server) TicketQR(ctx *gin.Context) {
	tb, err := server.ledger.TicketBookingByReference(ctx, ctx.Param("ref"))
	if err != nil {
		handleError(ctx, "GET /api/ticket-bookings/:ref/qr", "get ticket booking", err)
		return
	}

	key := "qr:" + tb.BookingReference
	if server.queries.Cache != nil {
		cached, err := server.queries.GetCache(ctx, key)
		if err == nil {
			ctx.Data(http.StatusOK, "image/png", []byte(cached))
			return
		}
		var miss *db.ErrorCacheMiss
		if !errors.As(err, &miss) {
			util.LOGGER.Warn("GET /api/ticket-bookings/:ref/qr: failed to read QR cache", "error", err)
		}
	}

	png, err := util.GenerateQR(server.checkinURL(tb.BookingReference))
	if err != nil {
		util.LOGGER.Error("GET /api/ticket-bookings/:ref/qr: failed to generate QR code", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	if server.queries.Cache != nil {
		if err := server.queries.SetCache(ctx, key, string(png), 24*time.Hour); err != nil {
			util.LOGGER.Warn("GET /api/ticket-bookings/:ref/qr: failed to cache QR code", "error", err)
		}
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

type CheckinResponse struct {
	Valid         bool             `json:"valid"`
	Reason        string           `json:"reason,omitempty"`
	Tickets       int              `json:"tickets"`
	TicketBooking db.TicketBooking `json:"ticket_booking"`
}

// Checkin godoc
// @Summary      Check a ticket booking at the door
// @Description  Target of the ticket QR code. Tells staff whether the booking admits its holder.
// @Tags         Admin
// @Produce      json
// @Param        ref  path  string  true  "Booking reference"
// @Success      200  {object}  CheckinResponse
// @Failure      404  {object}  ErrorResponse  "Ticket booking not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/ticket-bookings/{ref} [get]
func (server *Server) Checkin(ctx *gin.Context) {
	tb, err := server.ledger.TicketBookingByReference(ctx, ctx.Param("ref"))
	if err != nil {
		handleError(ctx, "GET /api/admin/ticket-bookings/:ref", "get ticket booking", err)
		return
	}

	resp := CheckinResponse{Valid: true, Tickets: len(tb.Tickets), TicketBooking: *tb}
	switch {
	case tb.Cancelled:
		resp.Valid, resp.Reason = false, "Booking cancelled"
	case tb.TicketedEvent.Cancelled:
		resp.Valid, resp.Reason = false, "Event cancelled"
	case !tb.PurchaseConfirmed:
		resp.Valid, resp.Reason = false, "Purchase not confirmed"
	case tb.TicketedEvent.AdvancePaymentRequired && !tb.Paid:
		resp.Valid, resp.Reason = false, "Not paid"
	}
	ctx.JSON(http.StatusOK, resp)
}
