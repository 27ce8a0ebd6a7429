package api

import (
	"net/http"
	"studiobook/db"
	"studiobook/db/query"
	"studiobook/service/ledger"
	"studiobook/util"

	"github.com/gin-gonic/gin"
)

type CreateBookingRequest struct {
	EventID   uint  `json:"event_id" binding:"required"`
	BlockID   *uint `json:"block_id"`   // Pay with one of the user's blocks
	AutoBlock bool  `json:"auto_block"` // Pay with the first active block that fits, if any
}

// CreateBooking godoc
// @Summary      Book a space
// @Description  Books the event, or reopens the user's cancelled booking. Fails with 409 when the event is full.
// @Tags         Bookings
// @Accept       json
// @Produce      json
// @Param        request  body  CreateBookingRequest  true  "Booking"
// @Success      200  {object}  db.Booking
// @Failure      400  {object}  ErrorResponse  "Invalid request body | Event not open for booking | Block cannot be used"
// @Failure      403  {object}  ErrorResponse  "Block belongs to another user"
// @Failure      404  {object}  ErrorResponse  "Event not found"
// @Failure      409  {object}  ErrorResponse  "Event is full | Already booked"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/bookings [post]
func (server *Server) CreateBooking(ctx *gin.Context) {
	var req CreateBookingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/bookings: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}
	claims := getClaims(ctx)

	blockID := req.BlockID
	if blockID == nil && req.AutoBlock {
		var event db.Event
		if err := server.queries.DB.WithContext(ctx).First(&event, req.EventID).Error; err != nil {
			handleError(ctx, "POST /api/bookings", "get event", db.NotFound(err, "event %d", req.EventID))
			return
		}
		blocks, err := query.ActiveBlocksFor(ctx, server.queries.DB, claims.ID, event.EventTypeID, db.Now())
		if err != nil {
			util.LOGGER.Error("POST /api/bookings: failed to list active blocks", "error", err)
			ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
			return
		}
		if len(blocks) > 0 {
			blockID = &blocks[0].ID
		}
	}

	booking, err := server.ledger.Book(ctx, claims.ID, req.EventID, ledger.BookOptions{BlockID: blockID})
	if err != nil {
		handleError(ctx, "POST /api/bookings", "book event", err)
		return
	}
	ctx.JSON(http.StatusOK, booking)
}

// CancelBooking godoc
// @Summary      Cancel a booking
// @Description  A booking paid with a block gives the block use back.
// @Tags         Bookings
// @Produce      json
// @Param        id  path  int  true  "Booking ID"
// @Success      200  {object}  db.Booking
// @Failure      403  {object}  ErrorResponse  "Booking belongs to another user"
// @Failure      404  {object}  ErrorResponse  "Booking not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/bookings/{id} [delete]
func (server *Server) CancelBooking(ctx *gin.Context) {
	id, ok := pathID(ctx, "DELETE /api/bookings/:id")
	if !ok {
		return
	}

	booking, err := server.ledger.Cancel(ctx, getClaims(ctx).ID, id)
	if err != nil {
		handleError(ctx, "DELETE /api/bookings/:id", "cancel booking", err)
		return
	}
	ctx.JSON(http.StatusOK, booking)
}

// MyBookings godoc
// @Summary      Bookings of the authenticated user
// @Tags         Bookings
// @Produce      json
// @Success      200  {array}   db.Booking
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/bookings [get]
func (server *Server) MyBookings(ctx *gin.Context) {
	bookings, err := server.ledger.UserBookings(ctx, getClaims(ctx).ID)
	if err != nil {
		util.LOGGER.Error("GET /api/bookings: failed to list bookings", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, bookings)
}

type BookingListQuery struct {
	When   string `form:"when" binding:"omitempty,oneof=past upcoming"`
	Type   string `form:"type" binding:"omitempty,oneof=class event"`
	UserID uint   `form:"user_id"`
	Status string `form:"status" binding:"omitempty,oneof=OPEN CANCELLED"`
}

// AdminListBookings godoc
// @Summary      List bookings (staff)
// @Tags         Admin
// @Produce      json
// @Param        when     query  string  false  "past or upcoming"
// @Param        type     query  string  false  "class or event"
// @Param        user_id  query  int     false  "User ID"
// @Param        status   query  string  false  "OPEN or CANCELLED"
// @Success      200  {array}   db.Booking
// @Failure      400  {object}  ErrorResponse  "Invalid filter"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/bookings [get]
func (server *Server) AdminListBookings(ctx *gin.Context) {
	var req BookingListQuery
	if err := ctx.ShouldBindQuery(&req); err != nil {
		util.LOGGER.Warn("GET /api/admin/bookings: failed to bind query", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid filter"})
		return
	}

	bookings, err := query.ListBookings(ctx, server.queries.DB, query.BookingFilter{
		When:   req.When,
		Kind:   req.Type,
		UserID: req.UserID,
		Status: db.BookingStatus(req.Status),
	}, db.Now())
	if err != nil {
		util.LOGGER.Error("GET /api/admin/bookings: failed to list bookings", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, bookings)
}
