package api

import (
	"errors"
	"net/http"
	"strconv"
	"studiobook/db"
	"studiobook/service/admin"
	"studiobook/service/ledger"
	"studiobook/service/timetable"
	"studiobook/util"

	"github.com/gin-gonic/gin"
)

// Status code of a domain error
func statusOf(err error) int {
	switch {
	case errors.Is(err, db.ErrBookingFull),
		errors.Is(err, db.ErrTicketsSoldOut),
		errors.Is(err, ledger.ErrAlreadyBooked),
		errors.Is(err, db.ErrEventHasBookings):
		return http.StatusConflict
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotBookable),
		errors.Is(err, ledger.ErrBlockNotUsable),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, timetable.ErrInvalidWeek),
		errors.Is(err, admin.ErrNoRecipients):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Respond with the status of a domain error. Unexpected errors are logged and hidden.
func handleError(ctx *gin.Context, route string, action string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		util.LOGGER.Error(route+": failed to "+action, "error", err)
		ctx.JSON(status, ErrorResponse{"Internal server error"})
		return
	}
	util.LOGGER.Warn(route+": failed to "+action, "error", err)
	ctx.JSON(status, ErrorResponse{err.Error()})
}

// Path parameter as an id, responds 400 when it isn't one
func pathID(ctx *gin.Context, route string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		util.LOGGER.Warn(route+": invalid id", "id", ctx.Param("id"))
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid ID"})
		return 0, false
	}
	return uint(id), true
}
