package api

import (
	"net/http"
	"studiobook/db"
	"studiobook/db/query"
	"studiobook/util"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Event with what a member needs to decide whether to book
type EventDetail struct {
	db.Event
	SpacesLeft   *int   `json:"spaces_left"`
	Bookable     bool   `json:"bookable"`
	PaymentText  string `json:"payment_text"`
	Cancellation string `json:"cancellation"`
}

// ListEvents godoc
// @Summary      List events
// @Description  Upcoming classes and events, soonest first. Cancelled events are left out.
// @Tags         Events
// @Produce      json
// @Param        type  query  string  false  "class or event"
// @Success      200  {array}   db.Event
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /api/events [get]
func (server *Server) ListEvents(ctx *gin.Context) {
	events, err := query.ListEvents(ctx, server.queries.DB, query.EventFilter{
		When: query.Upcoming,
		Kind: ctx.Query("type"),
	}, db.Now())
	if err != nil {
		util.LOGGER.Error("GET /api/events: failed to list events", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	visible := make([]db.Event, 0, len(events))
	for _, event := range events {
		if !event.Cancelled {
			visible = append(visible, event)
		}
	}
	ctx.JSON(http.StatusOK, visible)
}

// GetEvent godoc
// @Summary      Event detail
// @Tags         Events
// @Produce      json
// @Param        slug  path  string  true  "Event slug"
// @Success      200  {object}  EventDetail
// @Failure      404  {object}  ErrorResponse  "Event not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /api/events/{slug} [get]
func (server *Server) GetEvent(ctx *gin.Context) {
	conn := server.queries.DB.WithContext(ctx)

	var detail EventDetail
	if err := conn.Preload("EventType").Where("slug = ?", ctx.Param("slug")).First(&detail.Event).Error; err != nil {
		handleError(ctx, "GET /api/events/:slug", "get event", db.NotFound(err, "event %s", ctx.Param("slug")))
		return
	}

	var err error
	if detail.SpacesLeft, err = db.SpacesLeft(conn, &detail.Event); err == nil {
		detail.Bookable, err = db.Bookable(conn, &detail.Event)
	}
	if err != nil {
		util.LOGGER.Error("GET /api/events/:slug: failed to count spaces", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	detail.Bookable = detail.Bookable && !detail.Cancelled
	detail.PaymentText = detail.Event.PaymentText()
	detail.Cancellation = util.FormatCancellation(detail.CancellationPeriod)

	ctx.JSON(http.StatusOK, detail)
}

// AdminListEvents godoc
// @Summary      List events (staff)
// @Tags         Admin
// @Produce      json
// @Param        when  query  string  false  "past or upcoming"
// @Param        type  query  string  false  "class or event"
// @Success      200  {array}   db.Event
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/events [get]
func (server *Server) AdminListEvents(ctx *gin.Context) {
	events, err := query.ListEvents(ctx, server.queries.DB, query.EventFilter{
		When: ctx.Query("when"),
		Kind: ctx.Query("type"),
	}, db.Now())
	if err != nil {
		util.LOGGER.Error("GET /api/admin/events: failed to list events", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, events)
}

type EventRequest struct {
	Name                   string          `json:"name" binding:"required,max=255"`
	EventTypeID            uint            `json:"event_type_id" binding:"required"`
	Description            string          `json:"description"`
	Date                   time.Time       `json:"date" binding:"required"`
	Location               string          `json:"location"`
	MaxParticipants        *int            `json:"max_participants" binding:"omitempty,min=1"`
	Cost                   decimal.Decimal `json:"cost"`
	AdvancePaymentRequired bool            `json:"advance_payment_required"`
	BookingOpen            bool            `json:"booking_open"`
	PaymentOpen            bool            `json:"payment_open"`
	PaymentInfo            string          `json:"payment_info"`
	PaymentDueDate         *time.Time      `json:"payment_due_date"`
	PaymentTimeAllowed     *int            `json:"payment_time_allowed" binding:"omitempty,min=1"`
	CancellationPeriod     int             `json:"cancellation_period" binding:"min=0"`
	ExternalInstructor     bool            `json:"external_instructor"`
	Cancelled              bool            `json:"cancelled"`
	PaypalEmail            string          `json:"paypal_email" binding:"omitempty,email"`
}

func (req *EventRequest) apply(event *db.Event) {
	event.Name = req.Name
	event.EventTypeID = req.EventTypeID
	event.Description = req.Description
	event.Date = req.Date
	event.Location = req.Location
	event.MaxParticipants = req.MaxParticipants
	event.Cost = req.Cost
	event.AdvancePaymentRequired = req.AdvancePaymentRequired
	event.BookingOpen = req.BookingOpen
	event.PaymentOpen = req.PaymentOpen
	event.PaymentInfo = req.PaymentInfo
	event.PaymentDueDate = req.PaymentDueDate
	event.PaymentTimeAllowed = req.PaymentTimeAllowed
	event.CancellationPeriod = req.CancellationPeriod
	event.ExternalInstructor = req.ExternalInstructor
	event.Cancelled = req.Cancelled
	event.PaypalEmail = req.PaypalEmail
}

// CreateEvent godoc
// @Summary      Create an event
// @Description  Payment settings are normalized on save: a free event never takes payment, payment_time_allowed implies advance payment, and external instructor events can't be booked here.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request  body  EventRequest  true  "Event"
// @Success      200  {object}  db.Event
// @Failure      400  {object}  ErrorResponse  "Invalid request body"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/events [post]
func (server *Server) CreateEvent(ctx *gin.Context) {
	var req EventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/admin/events: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	var event db.Event
	req.apply(&event)
	if err := server.queries.DB.WithContext(ctx).Create(&event).Error; err != nil {
		handleError(ctx, "POST /api/admin/events", "create event", err)
		return
	}
	ctx.JSON(http.StatusOK, event)
}

// UpdateEvent godoc
// @Summary      Update an event
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        id       path  int           true  "Event ID"
// @Param        request  body  EventRequest  true  "Event"
// @Success      200  {object}  db.Event
// @Failure      400  {object}  ErrorResponse  "Invalid request body"
// @Failure      404  {object}  ErrorResponse  "Event not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/events/{id} [put]
func (server *Server) UpdateEvent(ctx *gin.Context) {
	id, ok := pathID(ctx, "PUT /api/admin/events/:id")
	if !ok {
		return
	}

	var req EventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("PUT /api/admin/events/:id: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	conn := server.queries.DB.WithContext(ctx)
	var event db.Event
	if err := conn.First(&event, id).Error; err != nil {
		handleError(ctx, "PUT /api/admin/events/:id", "get event", db.NotFound(err, "event %d", id))
		return
	}

	req.apply(&event)
	if err := conn.Omit("EventType", "Bookings").Save(&event).Error; err != nil {
		handleError(ctx, "PUT /api/admin/events/:id", "update event", err)
		return
	}
	ctx.JSON(http.StatusOK, event)
}

// DeleteEvent godoc
// @Summary      Delete an event
// @Description  Only events without bookings can be deleted, booked events are cancelled instead.
// @Tags         Admin
// @Produce      json
// @Param        id  path  int  true  "Event ID"
// @Success      200  {object}  SuccessMessage
// @Failure      404  {object}  ErrorResponse  "Event not found"
// @Failure      409  {object}  ErrorResponse  "Event still has bookings"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/events/{id} [delete]
func (server *Server) DeleteEvent(ctx *gin.Context) {
	id, ok := pathID(ctx, "DELETE /api/admin/events/:id")
	if !ok {
		return
	}

	conn := server.queries.DB.WithContext(ctx)
	var event db.Event
	if err := conn.First(&event, id).Error; err != nil {
		handleError(ctx, "DELETE /api/admin/events/:id", "get event", db.NotFound(err, "event %d", id))
		return
	}
	if err := conn.Delete(&event).Error; err != nil {
		handleError(ctx, "DELETE /api/admin/events/:id", "delete event", err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessMessage{"Event deleted"})
}
