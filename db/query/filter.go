package query

import (
	"context"
	"studiobook/db"
	"time"

	"gorm.io/gorm"
)

// Filter values accepted by the admin lists
const (
	Past     = "past"
	Upcoming = "upcoming"

	Class = "class"
	Event = "event"

	Active   = "active"
	Inactive = "inactive"
	Unpaid   = "unpaid"
)

type BookingFilter struct {
	When   string // past or upcoming, by event date
	Kind   string // class or event
	UserID uint
	Status db.BookingStatus
}

type EventFilter struct {
	When string
	Kind string
}

type BlockFilter struct {
	Status string // active, inactive or unpaid
	UserID uint
}

func kindCode(kind string) (db.EventKind, bool) {
	switch kind {
	case Class:
		return db.KindClass, true
	case Event:
		return db.KindEvent, true
	}
	return "", false
}

func applyWhen(q *gorm.DB, column, when string, now time.Time) *gorm.DB {
	switch when {
	case Past:
		return q.Where(column+" < ?", now)
	case Upcoming:
		return q.Where(column+" >= ?", now)
	}
	return q
}

// Bookings for the admin list, newest event first
func ListBookings(ctx context.Context, conn *gorm.DB, filter BookingFilter, now time.Time) ([]db.Booking, error) {
	q := conn.WithContext(ctx).
		Select("bookings.*").
		Joins("JOIN events ON events.id = bookings.event_id").
		Joins("JOIN event_types ON event_types.id = events.event_type_id").
		Preload("Event.EventType").Preload("User").Preload("Block.BlockType")

	q = applyWhen(q, "events.date", filter.When, now)
	if code, ok := kindCode(filter.Kind); ok {
		q = q.Where("event_types.event_type = ?", code)
	}
	if filter.UserID != 0 {
		q = q.Where("bookings.user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("bookings.status = ?", filter.Status)
	}

	var bookings []db.Booking
	err := q.Order("events.date DESC").Order("bookings.id").Find(&bookings).Error
	return bookings, err
}

// Events for the admin list, soonest first
func ListEvents(ctx context.Context, conn *gorm.DB, filter EventFilter, now time.Time) ([]db.Event, error) {
	q := conn.WithContext(ctx).
		Select("events.*").
		Joins("JOIN event_types ON event_types.id = events.event_type_id").
		Preload("EventType")

	q = applyWhen(q, "events.date", filter.When, now)
	if code, ok := kindCode(filter.Kind); ok {
		q = q.Where("event_types.event_type = ?", code)
	}

	var events []db.Event
	err := q.Order("events.date").Find(&events).Error
	return events, err
}

// Booking count of each block
func BlockBookingCounts(ctx context.Context, conn *gorm.DB, blockIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(blockIDs))
	if len(blockIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		BlockID uint
		Count   int64
	}
	err := conn.WithContext(ctx).Model(&db.Booking{}).
		Select("block_id, count(*) as count").
		Where("block_id IN ?", blockIDs).
		Group("block_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.BlockID] = row.Count
	}
	return counts, nil
}

// Blocks with everything needed to compute expiry and activity
func preloadBlocks(q *gorm.DB) *gorm.DB {
	return q.Preload("User").Preload("BlockType.EventType").Preload("Parent.BlockType")
}

// Blocks for the admin list. Active, inactive and unpaid depend on the expiry date and booking
// count, so they are decided here rather than in SQL.
func ListBlocks(ctx context.Context, conn *gorm.DB, filter BlockFilter, now time.Time) ([]db.Block, error) {
	q := preloadBlocks(conn.WithContext(ctx))
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status == Unpaid {
		q = q.Where("paid = ?", false)
	}

	var blocks []db.Block
	if err := q.Order("start_date DESC").Find(&blocks).Error; err != nil {
		return nil, err
	}
	if filter.Status != Active && filter.Status != Inactive && filter.Status != Unpaid {
		return blocks, nil
	}

	ids := make([]uint, 0, len(blocks))
	for _, block := range blocks {
		ids = append(ids, block.ID)
	}
	counts, err := BlockBookingCounts(ctx, conn, ids)
	if err != nil {
		return nil, err
	}

	filtered := make([]db.Block, 0, len(blocks))
	for _, block := range blocks {
		var keep bool
		switch filter.Status {
		case Unpaid:
			// Unpaid blocks that could still be paid for and used
			keep = !block.Expired(now) && !block.Full(counts[block.ID])
		default:
			keep = block.ActiveBlock(now, counts[block.ID]) == (filter.Status == Active)
		}
		if keep {
			filtered = append(filtered, block)
		}
	}
	return filtered, nil
}

// Active blocks of a user that can pay for events of the given event type
func ActiveBlocksFor(ctx context.Context, conn *gorm.DB, userID, eventTypeID uint, now time.Time) ([]db.Block, error) {
	var blocks []db.Block
	err := preloadBlocks(conn.WithContext(ctx)).
		Joins("JOIN block_types ON block_types.id = blocks.block_type_id").
		Where("blocks.user_id = ? AND blocks.paid = ? AND block_types.event_type_id = ?", userID, true, eventTypeID).
		Order("blocks.start_date").
		Find(&blocks).Error
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(blocks))
	for _, block := range blocks {
		ids = append(ids, block.ID)
	}
	counts, err := BlockBookingCounts(ctx, conn, ids)
	if err != nil {
		return nil, err
	}

	active := make([]db.Block, 0, len(blocks))
	for _, block := range blocks {
		if block.ActiveBlock(now, counts[block.ID]) {
			active = append(active, block)
		}
	}
	return active, nil
}

// Open, unpaid bookings on upcoming events that require advance payment and whose cancellation
// window or payment due date has passed
func UnpaidBookingsToCancel(ctx context.Context, conn *gorm.DB, now time.Time) ([]db.Booking, error) {
	var candidates []db.Booking
	err := conn.WithContext(ctx).
		Select("bookings.*").
		Joins("JOIN events ON events.id = bookings.event_id").
		Where("events.date > ? AND events.cancelled = ? AND events.advance_payment_required = ?", now, false, true).
		Where("bookings.status = ? AND bookings.paid = ? AND bookings.payment_confirmed = ? AND bookings.free_class = ?",
			db.BookingOpen, false, false, false).
		Preload("Event").Preload("User").
		Order("events.date").Order("bookings.id").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	bookings := make([]db.Booking, 0, len(candidates))
	for _, booking := range candidates {
		event := booking.Event
		windowClosed := event.Date.Add(-time.Duration(event.CancellationPeriod) * time.Hour).Before(now)
		pastDue := event.PaymentDueDate != nil && event.PaymentDueDate.Before(now)
		if windowClosed || pastDue {
			bookings = append(bookings, booking)
		}
	}
	return bookings, nil
}
