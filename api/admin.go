package api

import (
	"net/http"
	"studiobook/service/admin"
	"studiobook/service/timetable"
	"studiobook/service/worker"
	"studiobook/util"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// Admin action names
const (
	ActionConfirmSpace  = "confirm_space"
	ActionEmailUsers    = "email_users"
	ActionReassignBlock = "reassign_block"
)

type ActionRequest struct {
	Action string `json:"action" binding:"required,oneof=confirm_space email_users reassign_block"`

	// confirm_space
	BookingIDs []uint `json:"booking_ids"`

	// email_users
	UserIDs []uint `json:"user_ids"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	From    string `json:"from" binding:"omitempty,email"`
	CC      bool   `json:"cc"`

	// reassign_block
	BookingID uint `json:"booking_id"`
	BlockID   uint `json:"block_id"`
}

// Build the admin action of the request, "" when valid
func (req *ActionRequest) build() (admin.Action, string) {
	switch req.Action {
	case ActionConfirmSpace:
		if len(req.BookingIDs) == 0 {
			return nil, "booking_ids is required"
		}
		return admin.ConfirmSpace{BookingIDs: req.BookingIDs}, ""
	case ActionEmailUsers:
		if len(req.UserIDs) == 0 || req.Subject == "" || req.Message == "" {
			return nil, "user_ids, subject and message are required"
		}
		return admin.EmailUsers{UserIDs: req.UserIDs, Subject: req.Subject, Message: req.Message, From: req.From, CC: req.CC}, ""
	default:
		if req.BookingID == 0 || req.BlockID == 0 {
			return nil, "booking_id and block_id are required"
		}
		return admin.ReassignBlock{BookingID: req.BookingID, BlockID: req.BlockID}, ""
	}
}

// RunAction godoc
// @Summary      Run a bulk admin action
// @Description  confirm_space marks bookings paid and emails their users, email_users emails a list of users (large lists are queued), reassign_block pays a booking with another block of its user.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request  body  ActionRequest  true  "Action"
// @Success      200  {object}  admin.Result
// @Failure      400  {object}  ErrorResponse  "Invalid request body | Block cannot be used"
// @Failure      403  {object}  ErrorResponse  "Block belongs to another user"
// @Failure      404  {object}  ErrorResponse  "Booking or block not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/actions [post]
func (server *Server) RunAction(ctx *gin.Context) {
	var req ActionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/admin/actions: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	action, problem := req.build()
	if problem != "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{problem})
		return
	}

	result, err := server.admin.Run(ctx, action)
	if err != nil {
		handleError(ctx, "POST /api/admin/actions", "run "+req.Action, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

type UploadTimetableRequest struct {
	Start      string `json:"start" binding:"required"` // YYYY-MM-DD
	End        string `json:"end" binding:"required"`   // YYYY-MM-DD
	SessionIDs []uint `json:"session_ids"`              // Empty for every session
}

// UploadTimetable godoc
// @Summary      Create classes from the timetable
// @Description  Creates the classes of the selected timetable sessions for every day from start to end. Classes that already exist are left alone.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request  body  UploadTimetableRequest  true  "Date range and sessions"
// @Success      200  {object}  timetable.Result
// @Failure      400  {object}  ErrorResponse  "Invalid request body | Invalid date range"
// @Failure      404  {object}  ErrorResponse  "Session not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/timetable/upload [post]
func (server *Server) UploadTimetable(ctx *gin.Context) {
	var req UploadTimetableRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/admin/timetable/upload: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	start, err := time.Parse(time.DateOnly, req.Start)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid start date"})
		return
	}
	end, err := time.Parse(time.DateOnly, req.End)
	if err != nil || end.Before(start) {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid end date"})
		return
	}

	result, err := server.timetable.UploadTimetable(ctx, start, end, req.SessionIDs)
	if err != nil {
		handleError(ctx, "POST /api/admin/timetable/upload", "upload timetable", err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// EnqueueTask godoc
// @Summary      Run a maintenance task in the background
// @Description  cancel-unpaid-bookings cancels unpaid bookings past their due time, create-weekly-classes creates next week's classes (body: {"week": "this"|"next", "date": "YYYY-MM-DD"}).
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        name  path  string  true  "cancel-unpaid-bookings or create-weekly-classes"
// @Success      200  {object}  SuccessMessage
// @Failure      400  {object}  ErrorResponse  "Invalid request body"
// @Failure      404  {object}  ErrorResponse  "Unknown task"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/tasks/{name} [post]
func (server *Server) EnqueueTask(ctx *gin.Context) {
	name := ctx.Param("name")

	var payload any
	switch name {
	case worker.CancelUnpaidBookings:
		payload = struct{}{}
	case worker.CreateWeeklyClasses:
		req := worker.CreateWeeklyClassesPayload{Week: timetable.NextWeek}
		if ctx.Request.ContentLength > 0 {
			if err := ctx.ShouldBindJSON(&req); err != nil {
				util.LOGGER.Warn("POST /api/admin/tasks/:name: failed to bind request body", "error", err)
				ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
				return
			}
		}
		if req.Week != timetable.ThisWeek && req.Week != timetable.NextWeek {
			ctx.JSON(http.StatusBadRequest, ErrorResponse{timetable.ErrInvalidWeek.Error()})
			return
		}
		payload = req
	default:
		ctx.JSON(http.StatusNotFound, ErrorResponse{"Unknown task"})
		return
	}

	if err := server.distributor.DistributeTask(ctx, name, payload, asynq.MaxRetry(1)); err != nil {
		util.LOGGER.Error("POST /api/admin/tasks/:name: failed to distribute task", "task", name, "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, SuccessMessage{"Task " + name + " queued"})
}
