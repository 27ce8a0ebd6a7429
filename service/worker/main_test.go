package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"studiobook/db"
	"studiobook/db/dbtest"
	"studiobook/service/mail"
	"studiobook/service/notify"
	"studiobook/service/uploader"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func setup(t *testing.T) (*db.Queries, *mail.Outbox, *RedisTaskProcessor) {
	t.Helper()
	queries := dbtest.Open(t)
	outbox := mail.NewOutbox()
	notifier := notify.NewNotifier(outbox, notify.Settings{SubjectPrefix: "[studio]", StudioEmail: "studio@test.com"})
	return queries, outbox, newProcessor(queries, notifier, uploader.DataURL{})
}

func task(t *testing.T, name string, payload any) *asynq.Task {
	t.Helper()
	task, err := NewTask(name, payload)
	require.NoError(t, err)
	return task
}

func TestHandleSendEmail(t *testing.T) {
	_, outbox, processor := setup(t)

	msg := mail.Message{From: "studio@test.com", To: []string{"alice@test.com"}, Subject: "Hello", Text: "Hi"}
	require.NoError(t, processor.HandleSendEmail(ctx, task(t, SendEmail, SendEmailPayload{Message: msg})))

	sent := outbox.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "Hello", sent[0].Subject)
	require.Equal(t, []string{"alice@test.com"}, sent[0].To)

	// No recipient and garbage payloads are never retried
	err := processor.HandleSendEmail(ctx, task(t, SendEmail, SendEmailPayload{}))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = processor.HandleSendEmail(ctx, asynq.NewTask(SendEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSendEmailFailure(t *testing.T) {
	_, outbox, processor := setup(t)
	outbox.Err = errors.New("smtp down")

	msg := mail.Message{To: []string{"alice@test.com"}, Subject: "Hello", Text: "Hi"}
	err := processor.HandleSendEmail(ctx, task(t, SendEmail, SendEmailPayload{Message: msg}))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleCancelUnpaidBookings(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	dbtest.Freeze(t, now)
	queries, outbox, processor := setup(t)

	et := dbtest.EventType(t, queries, db.KindClass, "Pole")
	alice := dbtest.User(t, queries, "alice")
	soon := dbtest.Event(t, queries, et, func(e *db.Event) { e.Date = now.Add(10 * time.Hour) })
	booking := dbtest.Booking(t, queries, alice, soon)

	require.NoError(t, processor.HandleCancelUnpaidBookings(ctx, asynq.NewTask(CancelUnpaidBookings, nil)))

	var got db.Booking
	require.NoError(t, queries.DB.First(&got, booking.ID).Error)
	require.Equal(t, db.BookingCancelled, got.Status)
	require.NotEmpty(t, outbox.Sent())
}

func TestHandleCreateWeeklyClasses(t *testing.T) {
	queries, _, processor := setup(t)
	et := dbtest.EventType(t, queries, db.KindClass, "Pole level class")
	session := db.Session{Name: "Pole Level 1", Day: db.Monday, Time: "19:00", EventTypeID: et.ID, Cost: decimal.NewFromInt(7), BookingOpen: true}
	require.NoError(t, queries.DB.Create(&session).Error)

	payload := CreateWeeklyClassesPayload{Week: "next", Date: "2025-06-05"}
	require.NoError(t, processor.HandleCreateWeeklyClasses(ctx, task(t, CreateWeeklyClasses, payload)))

	var event db.Event
	require.NoError(t, queries.DB.Where("name = ?", "Pole Level 1").First(&event).Error)
	require.Equal(t, time.Date(2025, 6, 9, 19, 0, 0, 0, time.UTC), event.Date.UTC())

	// Bad dates and weeks fail
	require.Error(t, processor.HandleCreateWeeklyClasses(ctx, task(t, CreateWeeklyClasses, CreateWeeklyClassesPayload{Week: "next", Date: "05/06/2025"})))
	require.Error(t, processor.HandleCreateWeeklyClasses(ctx, task(t, CreateWeeklyClasses, CreateWeeklyClassesPayload{Week: "last"})))
}

func TestHandlePublishTicketQR(t *testing.T) {
	queries, _, processor := setup(t)
	alice := dbtest.User(t, queries, "alice")
	te := dbtest.TicketedEvent(t, queries)
	tb := db.TicketBooking{UserID: alice.ID, TicketedEventID: te.ID}
	require.NoError(t, queries.DB.Create(&tb).Error)

	payload := PublishTicketQRPayload{TicketBookingID: tb.ID, CheckInURL: "https://studio.test/tickets/" + tb.BookingReference}
	require.NoError(t, processor.HandlePublishTicketQR(ctx, task(t, PublishTicketQR, payload)))

	var got db.TicketBooking
	require.NoError(t, queries.DB.First(&got, tb.ID).Error)
	require.True(t, strings.HasPrefix(got.QRCodeURL, "data:image/png;base64,"))

	err := processor.HandlePublishTicketQR(ctx, task(t, PublishTicketQR, PublishTicketQRPayload{TicketBookingID: 999}))
	require.Error(t, err)
}

func TestRecordingDistributor(t *testing.T) {
	distributor := &RecordingDistributor{}
	msg := mail.Message{To: []string{"alice@test.com"}, Subject: "Hello"}
	require.NoError(t, distributor.DistributeTask(ctx, SendEmail, SendEmailPayload{Message: msg}, asynq.MaxRetry(5)))

	require.Len(t, distributor.Tasks, 1)
	require.Equal(t, SendEmail, distributor.Tasks[0].Type())

	var payload SendEmailPayload
	require.NoError(t, json.Unmarshal(distributor.Tasks[0].Payload(), &payload))
	require.Equal(t, msg.Subject, payload.Message.Subject)
}
