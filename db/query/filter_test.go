package query

import (
	"context"
	"studiobook/db"
	"studiobook/db/dbtest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	ctx = context.Background()
	now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func TestListEventsAndBookings(t *testing.T) {
	queries := dbtest.Open(t)
	dbtest.Freeze(t, now)
	class := dbtest.EventType(t, queries, db.KindClass, "Pole level class")
	workshop := dbtest.EventType(t, queries, db.KindEvent, "Workshop")
	alice := dbtest.User(t, queries, "alice")
	bob := dbtest.User(t, queries, "bob")

	past := dbtest.Event(t, queries, class, func(e *db.Event) { e.Date = now.Add(-48 * time.Hour) })
	soon := dbtest.Event(t, queries, class, func(e *db.Event) { e.Date = now.Add(24 * time.Hour) })
	later := dbtest.Event(t, queries, workshop, func(e *db.Event) { e.Date = now.Add(72 * time.Hour) })

	events, err := ListEvents(ctx, queries.DB, EventFilter{When: Upcoming}, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, soon.ID, events[0].ID)
	require.Equal(t, later.ID, events[1].ID)
	require.Equal(t, "Workshop", events[1].EventType.Subtype)

	events, err = ListEvents(ctx, queries.DB, EventFilter{Kind: Class}, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, past.ID, events[0].ID)

	events, err = ListEvents(ctx, queries.DB, EventFilter{When: Past, Kind: Event}, now)
	require.NoError(t, err)
	require.Empty(t, events)

	dbtest.Booking(t, queries, alice, past)
	dbtest.Booking(t, queries, alice, soon)
	dbtest.Booking(t, queries, bob, later, func(b *db.Booking) { b.Status = db.BookingCancelled })

	bookings, err := ListBookings(ctx, queries.DB, BookingFilter{}, now)
	require.NoError(t, err)
	require.Len(t, bookings, 3)
	require.Equal(t, later.ID, bookings[0].EventID)
	require.Equal(t, "bob", bookings[0].User.Username)

	bookings, err = ListBookings(ctx, queries.DB, BookingFilter{When: Upcoming, UserID: alice.ID}, now)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	require.Equal(t, soon.ID, bookings[0].EventID)

	bookings, err = ListBookings(ctx, queries.DB, BookingFilter{Kind: Event, Status: db.BookingCancelled}, now)
	require.NoError(t, err)
	require.Len(t, bookings, 1)

	bookings, err = ListBookings(ctx, queries.DB, BookingFilter{When: Past, Status: db.BookingCancelled}, now)
	require.NoError(t, err)
	require.Empty(t, bookings)
}

func TestListBlocks(t *testing.T) {
	queries := dbtest.Open(t)
	dbtest.Freeze(t, now)
	class := dbtest.EventType(t, queries, db.KindClass, "Pole level class")
	workshop := dbtest.EventType(t, queries, db.KindEvent, "Workshop")
	alice := dbtest.User(t, queries, "alice")
	bob := dbtest.User(t, queries, "bob")

	small := dbtest.BlockType(t, queries, class, func(bt *db.BlockType) { bt.Size = 1 })
	active := dbtest.Block(t, queries, alice, small, true)
	full := dbtest.Block(t, queries, alice, small, true)
	unpaid := dbtest.Block(t, queries, alice, small, false)
	other := dbtest.Block(t, queries, bob, dbtest.BlockType(t, queries, workshop), true)
	dbtest.Booking(t, queries, alice, dbtest.Event(t, queries, class), func(b *db.Booking) { b.BlockID = &full.ID })

	counts, err := BlockBookingCounts(ctx, queries.DB, []uint{active.ID, full.ID})
	require.NoError(t, err)
	require.Equal(t, map[uint]int64{full.ID: 1}, counts)

	blocks, err := ListBlocks(ctx, queries.DB, BlockFilter{}, now)
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	ids := func(blocks []db.Block) []uint {
		var out []uint
		for _, block := range blocks {
			out = append(out, block.ID)
		}
		return out
	}

	blocks, err = ListBlocks(ctx, queries.DB, BlockFilter{Status: Active}, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint{active.ID, other.ID}, ids(blocks))

	blocks, err = ListBlocks(ctx, queries.DB, BlockFilter{Status: Inactive, UserID: alice.ID}, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint{full.ID, unpaid.ID}, ids(blocks))

	blocks, err = ListBlocks(ctx, queries.DB, BlockFilter{Status: Unpaid}, now)
	require.NoError(t, err)
	require.Equal(t, []uint{unpaid.ID}, ids(blocks))

	// Unpaid leaves out blocks that are full or expired
	unpaidFull := dbtest.Block(t, queries, bob, small, false)
	dbtest.Booking(t, queries, bob, dbtest.Event(t, queries, class), func(b *db.Booking) { b.BlockID = &unpaidFull.ID })
	blocks, err = ListBlocks(ctx, queries.DB, BlockFilter{Status: Unpaid}, now)
	require.NoError(t, err)
	require.Equal(t, []uint{unpaid.ID}, ids(blocks))
	blocks, err = ListBlocks(ctx, queries.DB, BlockFilter{Status: Unpaid}, now.AddDate(0, 3, 0))
	require.NoError(t, err)
	require.Empty(t, blocks)

	// Past the two month duration
	blocks, err = ListBlocks(ctx, queries.DB, BlockFilter{Status: Active}, now.AddDate(0, 3, 0))
	require.NoError(t, err)
	require.Empty(t, blocks)

	usable, err := ActiveBlocksFor(ctx, queries.DB, alice.ID, class.ID, now)
	require.NoError(t, err)
	require.Equal(t, []uint{active.ID}, ids(usable))
	usable, err = ActiveBlocksFor(ctx, queries.DB, alice.ID, workshop.ID, now)
	require.NoError(t, err)
	require.Empty(t, usable)
}

func TestUnpaidBookingsToCancel(t *testing.T) {
	queries := dbtest.Open(t)
	dbtest.Freeze(t, now)
	class := dbtest.EventType(t, queries, db.KindClass, "Pole level class")
	alice := dbtest.User(t, queries, "alice")

	// Inside the 24h cancellation window
	closing := dbtest.Event(t, queries, class, func(e *db.Event) { e.Date = now.Add(12 * time.Hour) })
	// Outside the window, no due date
	open := dbtest.Event(t, queries, class, func(e *db.Event) { e.Date = now.Add(72 * time.Hour) })
	// Outside the window but past its due date
	due := dbtest.Event(t, queries, class, func(e *db.Event) {
		e.Date = now.Add(72 * time.Hour)
		e.PaymentDueDate = dbtest.Ptr(now.Add(-time.Hour))
	})
	// Pay on the day
	onTheDay := dbtest.Event(t, queries, class, func(e *db.Event) {
		e.Date = now.Add(12 * time.Hour)
		e.AdvancePaymentRequired = false
	})

	target := dbtest.Booking(t, queries, alice, closing)
	dbtest.Booking(t, queries, alice, open)
	pastDue := dbtest.Booking(t, queries, alice, due)
	dbtest.Booking(t, queries, alice, onTheDay)
	// Paid and cancelled bookings are never swept
	dbtest.Booking(t, queries, dbtest.User(t, queries, "bob"), closing, func(b *db.Booking) { b.Paid = true })
	dbtest.Booking(t, queries, dbtest.User(t, queries, "carol"), closing, func(b *db.Booking) { b.Status = db.BookingCancelled })

	bookings, err := UnpaidBookingsToCancel(ctx, queries.DB, now)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	require.Equal(t, target.ID, bookings[0].ID)
	require.Equal(t, pastDue.ID, bookings[1].ID)
}
