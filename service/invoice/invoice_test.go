package invoice

import (
	"context"
	"regexp"
	"studiobook/db"
	"studiobook/db/dbtest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func fixture(t *testing.T) (*db.Queries, *db.Booking) {
	t.Helper()
	queries := dbtest.Open(t)
	et := dbtest.EventType(t, queries, db.KindClass, "Pole level class")
	event := dbtest.Event(t, queries, et, func(e *db.Event) {
		e.Name = "Pole Level 1"
		e.Date = time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	})
	return queries, dbtest.Booking(t, queries, dbtest.User(t, queries, "alice"), event)
}

func TestPrefixes(t *testing.T) {
	user := &db.User{Username: "alice"}
	event := &db.Event{Name: "Pole Level 1", Date: time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)}
	require.Equal(t, "alice-PL1-0206251900", BookingPrefix(user, event))

	block := &db.Block{
		StartDate: time.Date(2015, 1, 1, 10, 30, 0, 0, time.UTC),
		BlockType: db.BlockType{Size: 5, EventType: db.EventType{Subtype: "Pole level class"}},
	}
	require.Equal(t, "alice-Plc-5-0101151030", BlockPrefix(user, block))
	require.Equal(t, "ABC123", TicketBookingPrefix(&db.TicketBooking{BookingReference: "ABC123"}))
}

func TestCounterOf(t *testing.T) {
	require.Equal(t, 1, counterOf("alice-inv#001"))
	require.Equal(t, 12, counterOf("alice-inv#012"))
	require.Equal(t, 2, counterOf("alice-inv#482002"))
	require.Equal(t, 0, counterOf("alice-inv#abc"))
}

func TestForBookingIsIdempotent(t *testing.T) {
	queries, booking := fixture(t)

	first, err := ForBooking(ctx, queries.DB, booking)
	require.NoError(t, err)
	require.Equal(t, "alice-PL1-0206251900-inv#001", first.InvoiceID)
	require.Nil(t, first.TransactionID)

	again, err := ForBooking(ctx, queries.DB, booking)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, queries.DB.Model(&db.PaypalBookingTransaction{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	// Once paid a new attempt gets the next counter
	first.SetTransactionID("TX1")
	require.NoError(t, queries.DB.Omit("Booking").Save(first).Error)

	next, err := ForBooking(ctx, queries.DB, booking)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, next.ID)
	require.Equal(t, "alice-PL1-0206251900-inv#002", next.InvoiceID)
}

func TestForBookingCollision(t *testing.T) {
	queries, booking := fixture(t)

	// Another booking already holds the id this booking would get
	other := dbtest.Booking(t, queries, dbtest.User(t, queries, "bob"), &booking.Event)
	taken := db.PaypalBookingTransaction{
		PaymentTransaction: db.PaymentTransaction{InvoiceID: "alice-PL1-0206251900-inv#001"},
		BookingID:          other.ID,
	}
	require.NoError(t, queries.DB.Omit("Booking").Create(&taken).Error)

	record, err := ForBooking(ctx, queries.DB, booking)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^alice-PL1-0206251900-inv#[1-9]\d{2}001$`), record.InvoiceID)
	require.Equal(t, 1, counterOf(record.InvoiceID))
}

func TestForBlockAndTicketBooking(t *testing.T) {
	queries := dbtest.Open(t)
	et := dbtest.EventType(t, queries, db.KindClass, "Pole level class")
	alice := dbtest.User(t, queries, "alice")
	dbtest.Freeze(t, time.Date(2015, 1, 1, 10, 30, 0, 0, time.UTC))

	block := dbtest.Block(t, queries, alice, dbtest.BlockType(t, queries, et), false)
	record, err := ForBlock(ctx, queries.DB, block)
	require.NoError(t, err)
	require.Equal(t, "alice-Plc-5-0101151030-inv#001", record.InvoiceID)
	require.Equal(t, block.ID, record.BlockID)

	te := dbtest.TicketedEvent(t, queries)
	tb := db.TicketBooking{UserID: alice.ID, TicketedEventID: te.ID}
	require.NoError(t, queries.DB.Create(&tb).Error)
	tbRecord, err := ForTicketBooking(ctx, queries.DB, &tb)
	require.NoError(t, err)
	require.Equal(t, tb.BookingReference+"-inv#001", tbRecord.InvoiceID)
}

func TestForBookingCounterAfterFallback(t *testing.T) {
	queries, booking := fixture(t)

	for _, suffix := range []string{"001", "457002", "003"} {
		record := db.PaypalBookingTransaction{
			PaymentTransaction: db.PaymentTransaction{InvoiceID: "alice-PL1-0206251900-inv#" + suffix},
			BookingID:          booking.ID,
		}
		record.SetTransactionID("TX" + suffix)
		require.NoError(t, queries.DB.Omit("Booking").Create(&record).Error)
	}

	next, err := ForBooking(ctx, queries.DB, booking)
	require.NoError(t, err)
	require.Equal(t, "alice-PL1-0206251900-inv#004", next.InvoiceID)
}
