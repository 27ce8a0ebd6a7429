package sweep

import (
	"context"
	"errors"
	"studiobook/db"
	"studiobook/db/dbtest"
	"studiobook/service/mail"
	"studiobook/service/notify"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*db.Queries, *mail.Outbox, *Service) {
	t.Helper()
	dbtest.Freeze(t, now)
	queries := dbtest.Open(t)
	outbox := mail.NewOutbox()
	notifier := notify.NewNotifier(outbox, notify.Settings{SubjectPrefix: "[studio]", StudioEmail: "studio@test.com"})
	return queries, outbox, NewService(queries.DB, notifier)
}

func at(d time.Duration) func(*db.Event) {
	return func(e *db.Event) { e.Date = now.Add(d) }
}

func TestCancelUnpaidBookings(t *testing.T) {
	queries, outbox, service := setup(t)
	et := dbtest.EventType(t, queries, db.KindClass, "Pole")
	alice := dbtest.User(t, queries, "alice")
	bob := dbtest.User(t, queries, "bob")

	// Inside the cancellation period
	soon := dbtest.Event(t, queries, et, at(10*time.Hour), func(e *db.Event) { e.Name = "Soon" })
	// Outside the cancellation period but past the payment due date
	due := dbtest.Event(t, queries, et, at(72*time.Hour), func(e *db.Event) {
		e.Name = "Due"
		e.PaymentDueDate = dbtest.Ptr(now.Add(-time.Hour))
	})
	// Still time to pay
	later := dbtest.Event(t, queries, et, at(72*time.Hour), func(e *db.Event) { e.Name = "Later" })
	// No advance payment
	free := dbtest.Event(t, queries, et, at(10*time.Hour), func(e *db.Event) {
		e.Name = "Free"
		e.Cost = decimal.Zero
	})
	cancelledEvent := dbtest.Event(t, queries, et, at(10*time.Hour), func(e *db.Event) {
		e.Name = "Off"
		e.Cancelled = true
	})

	b1 := dbtest.Booking(t, queries, alice, soon)
	b2 := dbtest.Booking(t, queries, alice, due)
	dbtest.Booking(t, queries, alice, later)
	dbtest.Booking(t, queries, alice, free)
	dbtest.Booking(t, queries, alice, cancelledEvent)
	dbtest.Booking(t, queries, bob, soon, func(b *db.Booking) { b.Paid = true })
	dbtest.Booking(t, queries, bob, due, func(b *db.Booking) { b.FreeClass = true })

	cancelled, err := service.CancelUnpaidBookings(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, cancelled, 2)
	require.Equal(t, b1.ID, cancelled[0].ID)
	require.Equal(t, b2.ID, cancelled[1].ID)

	var statuses []db.Booking
	require.NoError(t, queries.DB.Order("id").Find(&statuses).Error)
	for _, booking := range statuses {
		if booking.ID == b1.ID || booking.ID == b2.ID {
			require.Equal(t, db.BookingCancelled, booking.Status)
		} else {
			require.Equal(t, db.BookingOpen, booking.Status, booking.ID)
		}
	}

	sent := outbox.Sent()
	require.Len(t, sent, 3)
	require.Equal(t, "[studio] Booking cancelled: Soon", sent[0].Subject)
	require.Equal(t, []string{"alice@test.com"}, sent[0].To)
	require.Contains(t, sent[0].Text, "within the cancellation period (24 hours before the event)")
	require.Equal(t, "[studio] Booking cancelled: Due", sent[1].Subject)
	require.Contains(t, sent[1].Text, "by the payment due date")
	require.Equal(t, "[studio] Bookings have been automatically cancelled", sent[2].Subject)
	require.Equal(t, []string{"studio@test.com"}, sent[2].To)

	var logs int64
	require.NoError(t, queries.DB.Model(&db.ActivityLog{}).Count(&logs).Error)
	require.Equal(t, int64(2), logs)

	// Nothing left to cancel, no digest
	outbox.Reset()
	cancelled, err = service.CancelUnpaidBookings(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, cancelled)
	require.Empty(t, outbox.Sent())
}

func TestCancelUnpaidBookingsMailFailure(t *testing.T) {
	queries, outbox, service := setup(t)
	et := dbtest.EventType(t, queries, db.KindClass, "Pole")
	event := dbtest.Event(t, queries, et, at(2*time.Hour))
	booking := dbtest.Booking(t, queries, dbtest.User(t, queries, "alice"), event)

	outbox.Err = errors.New("smtp down")
	cancelled, err := service.CancelUnpaidBookings(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)

	require.NoError(t, queries.DB.First(booking, booking.ID).Error)
	require.Equal(t, db.BookingCancelled, booking.Status)
}

func TestCancelUnpaidBookingsDigestSingular(t *testing.T) {
	queries, outbox, service := setup(t)
	et := dbtest.EventType(t, queries, db.KindClass, "Pole")
	event := dbtest.Event(t, queries, et, at(2*time.Hour))
	dbtest.Booking(t, queries, dbtest.User(t, queries, "alice"), event)

	_, err := service.CancelUnpaidBookings(context.Background(), now)
	require.NoError(t, err)

	sent := outbox.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, "[studio] Booking has been automatically cancelled", sent[1].Subject)
}
