package api

import (
	"net/http"
	"studiobook/db"
	"studiobook/db/query"
	"studiobook/util"

	"github.com/gin-gonic/gin"
)

type ProfileResponse struct {
	db.User
	UpcomingBookings int `json:"upcoming_bookings"`
	ActiveBlocks     int `json:"active_blocks"`
}

// GetProfile godoc
// @Summary      User profile
// @Description  The authenticated user with the number of upcoming bookings and usable blocks
// @Tags         Profile
// @Produce      json
// @Success      200  {object}  ProfileResponse      "User profile"
// @Failure      401  {object}  ErrorResponse        "Invalid token"
// @Failure      500  {object}  ErrorResponse        "Internal server error"
// @Security     BearerAuth
// @Router       /api/profile [get]
func (server *Server) GetProfile(ctx *gin.Context) {
	claims := getClaims(ctx)
	conn := server.queries.DB.WithContext(ctx)

	var profile ProfileResponse
	if err := conn.First(&profile.User, claims.ID).Error; err != nil {
		handleError(ctx, "GET /api/profile", "get user", db.NotFound(err, "user %d", claims.ID))
		return
	}

	bookings, err := query.ListBookings(ctx, conn, query.BookingFilter{
		When: query.Upcoming, UserID: claims.ID, Status: db.BookingOpen,
	}, db.Now())
	if err != nil {
		util.LOGGER.Error("GET /api/profile: failed to list bookings", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	blocks, err := query.ListBlocks(ctx, conn, query.BlockFilter{Status: query.Active, UserID: claims.ID}, db.Now())
	if err != nil {
		util.LOGGER.Error("GET /api/profile: failed to list blocks", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	profile.UpcomingBookings = len(bookings)
	profile.ActiveBlocks = len(blocks)
	ctx.JSON(http.StatusOK, profile)
}
