package api

import (
	"net/http"
	"studiobook/db"
	"studiobook/db/query"
	"studiobook/service/ledger"
	"studiobook/util"
	"time"

	"github.com/gin-gonic/gin"
)

// Block with its usage
type BlockDetail struct {
	db.Block
	ExpiryDate   time.Time `json:"expiry_date"`
	BookingsUsed int64     `json:"bookings_used"`
	Active       bool      `json:"active"`
}

func blockDetails(blocks []db.Block, counts map[uint]int64) []BlockDetail {
	now := db.Now()
	details := make([]BlockDetail, 0, len(blocks))
	for _, block := range blocks {
		details = append(details, BlockDetail{
			Block:        block,
			ExpiryDate:   block.ExpiryDate(),
			BookingsUsed: counts[block.ID],
			Active:       block.ActiveBlock(now, counts[block.ID]),
		})
	}
	return details
}

// MyBlocks godoc
// @Summary      Blocks of the authenticated user
// @Tags         Blocks
// @Produce      json
// @Success      200  {array}   BlockDetail
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/blocks [get]
func (server *Server) MyBlocks(ctx *gin.Context) {
	blocks, counts, err := server.ledger.UserBlocks(ctx, getClaims(ctx).ID)
	if err != nil {
		util.LOGGER.Error("GET /api/blocks: failed to list blocks", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, blockDetails(blocks, counts))
}

type CreateBlockRequest struct {
	BlockTypeID uint `json:"block_type_id" binding:"required"`
}

// CreateBlock godoc
// @Summary      Start a block
// @Description  The block starts unpaid unless its block type is free. Pay for it through the PayPal form.
// @Tags         Blocks
// @Accept       json
// @Produce      json
// @Param        request  body  CreateBlockRequest  true  "Block"
// @Success      200  {object}  BlockDetail
// @Failure      400  {object}  ErrorResponse  "Invalid request body | Block type not available"
// @Failure      404  {object}  ErrorResponse  "Block type not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/blocks [post]
func (server *Server) CreateBlock(ctx *gin.Context) {
	var req CreateBlockRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/blocks: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	var blockType db.BlockType
	if err := server.queries.DB.WithContext(ctx).First(&blockType, req.BlockTypeID).Error; err != nil {
		handleError(ctx, "POST /api/blocks", "get block type", db.NotFound(err, "block type %d", req.BlockTypeID))
		return
	}
	if !blockType.Active || blockType.IsFreeClass() {
		util.LOGGER.Warn("POST /api/blocks: block type not available", "block_type_id", blockType.ID)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Block type not available"})
		return
	}

	block, err := server.ledger.CreateBlock(ctx, getClaims(ctx).ID, blockType.ID, nil)
	if err != nil {
		handleError(ctx, "POST /api/blocks", "create block", err)
		return
	}
	ctx.JSON(http.StatusOK, blockDetails([]db.Block{*block}, nil)[0])
}

type BlockListQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=active inactive unpaid"`
	UserID uint   `form:"user_id"`
}

// AdminListBlocks godoc
// @Summary      List blocks (staff)
// @Tags         Admin
// @Produce      json
// @Param        status   query  string  false  "active, inactive or unpaid"
// @Param        user_id  query  int     false  "User ID"
// @Success      200  {array}   BlockDetail
// @Failure      400  {object}  ErrorResponse  "Invalid filter"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/blocks [get]
func (server *Server) AdminListBlocks(ctx *gin.Context) {
	var req BlockListQuery
	if err := ctx.ShouldBindQuery(&req); err != nil {
		util.LOGGER.Warn("GET /api/admin/blocks: failed to bind query", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid filter"})
		return
	}

	blocks, err := query.ListBlocks(ctx, server.queries.DB, query.BlockFilter{Status: req.Status, UserID: req.UserID}, db.Now())
	if err != nil {
		util.LOGGER.Error("GET /api/admin/blocks: failed to list blocks", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	ids := make([]uint, 0, len(blocks))
	for _, block := range blocks {
		ids = append(ids, block.ID)
	}
	counts, err := query.BlockBookingCounts(ctx, server.queries.DB, ids)
	if err != nil {
		util.LOGGER.Error("GET /api/admin/blocks: failed to count block bookings", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, blockDetails(blocks, counts))
}

type BlockBookingChange struct {
	BookingID uint `json:"booking_id"` // Omit to add a booking for event_id
	EventID   uint `json:"event_id"`
	Cancel    bool `json:"cancel"`
}

type SaveBlockBookingsRequest struct {
	Changes []BlockBookingChange `json:"changes" binding:"required,min=1,dive"`
}

// SaveBlockBookings godoc
// @Summary      Edit the bookings of a block
// @Description  A booking added to the block is paid and confirmed, reopening it if needed. A booking cancelled here loses the block.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        id       path  int                       true  "Block ID"
// @Param        request  body  SaveBlockBookingsRequest  true  "Changes"
// @Success      200  {array}   db.Booking
// @Failure      400  {object}  ErrorResponse  "Invalid request body"
// @Failure      404  {object}  ErrorResponse  "Block, booking or event not found"
// @Failure      409  {object}  ErrorResponse  "Event is full"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/blocks/{id}/bookings [post]
func (server *Server) SaveBlockBookings(ctx *gin.Context) {
	id, ok := pathID(ctx, "POST /api/admin/blocks/:id/bookings")
	if !ok {
		return
	}

	var req SaveBlockBookingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/admin/blocks/:id/bookings: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	changes := make([]ledger.BlockBookingChange, 0, len(req.Changes))
	for _, change := range req.Changes {
		if change.BookingID == 0 && change.EventID == 0 {
			ctx.JSON(http.StatusBadRequest, ErrorResponse{"Each change needs a booking_id or an event_id"})
			return
		}
		changes = append(changes, ledger.BlockBookingChange{
			BookingID: change.BookingID,
			EventID:   change.EventID,
			Cancel:    change.Cancel,
		})
	}

	bookings, err := server.ledger.SaveBlockBookings(ctx, id, changes)
	if err != nil {
		handleError(ctx, "POST /api/admin/blocks/:id/bookings", "save block bookings", err)
		return
	}
	ctx.JSON(http.StatusOK, bookings)
}

// DeleteBlock godoc
// @Summary      Delete a block
// @Description  Bookings made with the block are kept and go back to unpaid.
// @Tags         Admin
// @Produce      json
// @Param        id  path  int  true  "Block ID"
// @Success      200  {object}  SuccessMessage
// @Failure      404  {object}  ErrorResponse  "Block not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Security     BearerAuth
// @Router       /api/admin/blocks/{id} [delete]
func (server *Server) DeleteBlock(ctx *gin.Context) {
	id, ok := pathID(ctx, "DELETE /api/admin/blocks/:id")
	if !ok {
		return
	}
	if err := server.ledger.DeleteBlock(ctx, id); err != nil {
		handleError(ctx, "DELETE /api/admin/blocks/:id", "delete block", err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessMessage{"Block deleted"})
}
