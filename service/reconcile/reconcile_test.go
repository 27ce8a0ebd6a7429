package reconcile

import (
	"context"
	"errors"
	"studiobook/db"
	"studiobook/db/dbtest"
	"studiobook/service/mail"
	"studiobook/service/notify"
	"studiobook/service/paypal"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type fakeVerifier struct {
	err error
}

func (v fakeVerifier) Verify(ctx context.Context, rawQuery string) error {
	return v.err
}

type fixture struct {
	queries    *db.Queries
	outbox     *mail.Outbox
	reconciler *Reconciler
	user       *db.User
	event      *db.Event
}

func setup(t *testing.T, verifier paypal.Verifier, studioEmails bool) *fixture {
	t.Helper()
	queries := dbtest.Open(t)
	outbox := mail.NewOutbox()
	notifier := notify.NewNotifier(outbox, notify.Settings{
		SubjectPrefix:       "[studio]",
		From:                "noreply@test.com",
		StudioEmail:         "studio@test.com",
		SupportEmail:        "support@test.com",
		SendAllStudioEmails: studioEmails,
	})

	et := dbtest.EventType(t, queries, db.KindClass, "Pole level class")
	return &fixture{
		queries:    queries,
		outbox:     outbox,
		reconciler: NewReconciler(queries, notifier, verifier, Settings{ReceiverEmail: "paypal@test.com"}),
		user:       dbtest.User(t, queries, "member"),
		event:      dbtest.Event(t, queries, et),
	}
}

func completed(custom, txn string) *db.PaymentNotification {
	return &db.PaymentNotification{
		Source:        db.SourcePaypal,
		TxnID:         txn,
		Custom:        custom,
		PaymentStatus: db.StatusCompleted,
		ReceiverEmail: "paypal@test.com",
		McGross:       "10.00",
	}
}

func subjects(outbox *mail.Outbox) []string {
	var result []string
	for _, msg := range outbox.Sent() {
		result = append(result, msg.Subject)
	}
	return result
}

func TestCompletedBooking(t *testing.T) {
	f := setup(t, nil, true)
	booking := dbtest.Booking(t, f.queries, f.user, f.event)
	require.False(t, booking.Paid)

	n := completed("booking 1", "TX1")
	require.NoError(t, f.reconciler.Receive(ctx, n))
	require.False(t, n.Flag)

	var saved db.Booking
	require.NoError(t, f.queries.DB.First(&saved, booking.ID).Error)
	require.True(t, saved.Paid)
	require.True(t, saved.PaymentConfirmed)
	require.NotNil(t, saved.DatePaymentConfirmed)

	var trans db.PaypalBookingTransaction
	require.NoError(t, f.queries.DB.Where("booking_id = ?", booking.ID).First(&trans).Error)
	require.NotNil(t, trans.TransactionID)
	require.Equal(t, "TX1", *trans.TransactionID)
	require.Regexp(t, `^member-Te-\d{10}-inv#001$`, trans.InvoiceID)

	// Invoice back-filled on the stored notification
	var stored db.PaymentNotification
	require.NoError(t, f.queries.DB.First(&stored, n.ID).Error)
	require.Equal(t, trans.InvoiceID, stored.Invoice)

	var logs int64
	require.NoError(t, f.queries.DB.Model(&db.ActivityLog{}).Count(&logs).Error)
	require.Equal(t, int64(1), logs)

	sent := f.outbox.Sent()
	require.Len(t, sent, 3)
	require.Equal(t, "[studio] Payment processed for booking id 1", sent[0].Subject)
	require.Equal(t, []string{"studio@test.com"}, sent[0].To)
	require.Equal(t, "[studio] Payment processed for booking id 1", sent[1].Subject)
	require.Equal(t, []string{"member@test.com"}, sent[1].To)
	require.Contains(t, sent[1].Text, trans.InvoiceID)
	require.Equal(t, "[studio] No invoice number on paypal ipn for booking id 1", sent[2].Subject)
	require.Contains(t, sent[2].Text, "Invoice number has been set to "+trans.InvoiceID)
}

func TestCompletedWithoutStudioEmails(t *testing.T) {
	f := setup(t, nil, false)
	booking := dbtest.Booking(t, f.queries, f.user, f.event)

	var trans db.PaypalBookingTransaction
	trans.BookingID = booking.ID
	trans.InvoiceID = "member-inv#001"
	require.NoError(t, f.queries.DB.Create(&trans).Error)

	n := completed("booking 1", "TX1")
	n.Invoice = "member-inv#001"
	require.NoError(t, f.reconciler.Receive(ctx, n))

	// Only the payer hears about it, the invoice was sent
	require.Equal(t, []string{"[studio] Payment processed for booking id 1"}, subjects(f.outbox))
	require.NoError(t, f.queries.DB.First(&trans, trans.ID).Error)
	require.Equal(t, "TX1", *trans.TransactionID)
}

func TestDuplicateTransaction(t *testing.T) {
	f := setup(t, nil, false)
	booking := dbtest.Booking(t, f.queries, f.user, f.event)
	require.NoError(t, f.reconciler.Receive(ctx, completed("booking 1", "TX1")))
	f.outbox.Reset()

	// Staff reverted the booking by hand, a replayed notification must not pay it again
	require.NoError(t, f.queries.DB.Model(booking).UpdateColumns(map[string]any{"paid": false, "payment_confirmed": false}).Error)

	n := completed("booking 1", "TX1")
	require.NoError(t, f.reconciler.Receive(ctx, n))
	require.True(t, n.Flag)
	require.Equal(t, "Duplicate txn_id. (TX1)", n.FlagInfo)

	var saved db.Booking
	require.NoError(t, f.queries.DB.First(&saved, booking.ID).Error)
	require.False(t, saved.Paid)

	sent := f.outbox.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "WARNING! Invalid Payment Notification received from PayPal", sent[0].Subject)
	require.Equal(t, []string{"support@test.com"}, sent[0].To)
	require.Contains(t, sent[0].Text, "process payment for Booking id 1.")
	require.Contains(t, sent[0].Text, `The flag info was "Duplicate txn_id. (TX1)"`)
}

func TestRefunded(t *testing.T) {
	f := setup(t, nil, true)
	booking := dbtest.Booking(t, f.queries, f.user, f.event)
	require.NoError(t, f.reconciler.Receive(ctx, completed("booking 1", "TX1")))
	f.outbox.Reset()

	n := completed("booking 1", "TX1")
	n.PaymentStatus = db.StatusRefunded
	require.NoError(t, f.reconciler.Receive(ctx, n))
	require.False(t, n.Flag)

	var saved db.Booking
	require.NoError(t, f.queries.DB.First(&saved, booking.ID).Error)
	require.False(t, saved.Paid)
	require.False(t, saved.PaymentConfirmed)

	// One email to the studio and support, never to the payer
	sent := f.outbox.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "[studio] Payment refund processed for booking id 1", sent[0].Subject)
	require.Equal(t, []string{"studio@test.com", "support@test.com"}, sent[0].To)

	var logs []db.ActivityLog
	require.NoError(t, f.queries.DB.Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	require.Contains(t, logs[1].Log, "has been refunded")
}

func TestRefundedWithoutStudioEmails(t *testing.T) {
	f := setup(t, nil, false)
	dbtest.Booking(t, f.queries, f.user, f.event)

	n := completed("booking 1", "TX1")
	n.PaymentStatus = db.StatusRefunded
	require.NoError(t, f.reconciler.Receive(ctx, n))
	require.Empty(t, f.outbox.Sent())
}

func TestDecodeErrors(t *testing.T) {
	f := setup(t, nil, false)

	cases := map[string]string{
		"":                 "Unknown object type for payment",
		"booking":          "Unknown object type for payment",
		"workshop 1":       "Unknown object type for payment",
		"booking x":        "Unknown object type for payment",
		"booking 999":      "Booking with id 999 does not exist",
		"block 999":        "Block with id 999 does not exist",
		"ticket_booking 9": "Ticket Booking with id 9 does not exist",
	}
	i := 0
	for custom, msg := range cases {
		f.outbox.Reset()
		i++
		n := completed(custom, "TXD"+string(rune('A'+i)))

		err := f.reconciler.Receive(ctx, n)
		var te *TransactionError
		require.True(t, errors.As(err, &te), custom)
		require.Equal(t, msg, te.Msg)

		sent := f.outbox.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, "WARNING! Error processing PayPal IPN", sent[0].Subject)
		require.Contains(t, sent[0].Text, "Transaction id "+n.TxnID)
		require.Contains(t, sent[0].Text, "Error raised: "+msg)
	}
}

func TestInvalidPostback(t *testing.T) {
	f := setup(t, fakeVerifier{err: errors.New("invalid postback (INVALID)")}, true)
	booking := dbtest.Booking(t, f.queries, f.user, f.event)

	n := completed("booking 1", "TX1")
	require.NoError(t, f.reconciler.Receive(ctx, n))
	require.True(t, n.Flag)
	require.Contains(t, n.FlagInfo, "Invalid postback.")

	var saved db.Booking
	require.NoError(t, f.queries.DB.First(&saved, booking.ID).Error)
	require.False(t, saved.Paid)
	require.Equal(t, []string{"WARNING! Invalid Payment Notification received from PayPal"}, subjects(f.outbox))

	// Unknown object on top of the invalid postback
	f.outbox.Reset()
	n = completed("booking 999", "TX2")
	err := f.reconciler.Receive(ctx, n)
	require.Error(t, err)

	sent := f.outbox.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "WARNING! Error processing Invalid Payment Notification from PayPal", sent[0].Subject)
	require.Contains(t, sent[0].Text, "An additional error was raised: Booking with id 999 does not exist")
}

func TestReceiverMismatch(t *testing.T) {
	f := setup(t, nil, false)
	dbtest.Booking(t, f.queries, f.user, f.event)

	n := completed("booking 1", "TX1")
	n.ReceiverEmail = "someone@else.com"
	require.NoError(t, f.reconciler.Receive(ctx, n))
	require.True(t, n.Flag)
	require.Equal(t, "Invalid receiver_email. (someone@else.com)", n.FlagInfo)
}

func TestVoucher(t *testing.T) {
	f := setup(t, nil, false)
	dbtest.Booking(t, f.queries, f.user, f.event)
	voucher := db.Voucher{Code: "SAVE10", Discount: 10, StartDate: db.Now()}
	require.NoError(t, f.queries.DB.Create(&voucher).Error)

	require.NoError(t, f.reconciler.Receive(ctx, completed("booking 1 SAVE10", "TX1")))

	var users []db.User
	require.NoError(t, f.queries.DB.Model(&voucher).Association("Users").Find(&users))
	require.Len(t, users, 1)
	require.Equal(t, f.user.ID, users[0].ID)

	var trans db.PaypalBookingTransaction
	require.NoError(t, f.queries.DB.First(&trans).Error)
	require.Equal(t, "SAVE10", *trans.VoucherCode)

	// Unknown voucher: the payment stands, support is told about the voucher
	other := dbtest.User(t, f.queries, "other")
	dbtest.Booking(t, f.queries, other, f.event)
	f.outbox.Reset()

	err := f.reconciler.Receive(ctx, completed("booking 2 NOPE", "TX2"))
	require.ErrorIs(t, err, db.ErrNotFound)

	var saved db.Booking
	require.NoError(t, f.queries.DB.First(&saved, 2).Error)
	require.True(t, saved.Paid)
	require.True(t, saved.PaymentConfirmed)

	var paidTrans db.PaypalBookingTransaction
	require.NoError(t, f.queries.DB.Where("booking_id = ?", 2).First(&paidTrans).Error)
	require.NotNil(t, paidTrans.TransactionID)
	require.Equal(t, "TX2", *paidTrans.TransactionID)
	require.Nil(t, paidTrans.VoucherCode)

	sent := f.outbox.Sent()
	require.Len(t, sent, 3)
	require.Equal(t, []string{"other@test.com"}, sent[0].To)
	require.Equal(t, "[studio] Payment processed for booking id 2", sent[0].Subject)
	require.Equal(t, "[studio] No invoice number on paypal ipn for booking id 2", sent[1].Subject)
	require.Equal(t, "[studio] There was some problem processing payment for booking id 2", sent[2].Subject)
	require.Contains(t, sent[2].Text, "paypal transaction id TX2")
	require.Contains(t, sent[2].Text, "voucher NOPE")
}

// Fails every message to one address
type failingMailer struct {
	*mail.Outbox
	to string
}

func (m failingMailer) Send(ctx context.Context, msg mail.Message) error {
	for _, addr := range msg.To {
		if addr == m.to {
			return errors.New("mailbox unavailable")
		}
	}
	return m.Outbox.Send(ctx, msg)
}

func TestCompletedSurvivesEmailFailure(t *testing.T) {
	f := setup(t, nil, true)
	outbox := mail.NewOutbox()
	notifier := notify.NewNotifier(failingMailer{Outbox: outbox, to: "member@test.com"}, f.reconciler.notifier.Settings)
	reconciler := NewReconciler(f.queries, notifier, nil, Settings{ReceiverEmail: "paypal@test.com"})
	booking := dbtest.Booking(t, f.queries, f.user, f.event)

	n := completed("booking 1", "TX1")
	n.Invoice = "member-inv#001"
	err := reconciler.Receive(ctx, n)
	require.Error(t, err)
	require.Contains(t, err.Error(), "mailbox unavailable")

	var saved db.Booking
	require.NoError(t, f.queries.DB.First(&saved, booking.ID).Error)
	require.True(t, saved.Paid)
	require.True(t, saved.PaymentConfirmed)

	var trans db.PaypalBookingTransaction
	require.NoError(t, f.queries.DB.Where("booking_id = ?", booking.ID).First(&trans).Error)
	require.NotNil(t, trans.TransactionID)
	require.Equal(t, "TX1", *trans.TransactionID)

	sent := subjects(outbox)
	require.Equal(t, []string{
		"[studio] Payment processed for booking id 1",
		"[studio] There was some problem processing payment for booking id 1",
	}, sent)
	require.Equal(t, []string{"support@test.com"}, outbox.Sent()[1].To)
}

func TestCompletedBlockAndTicketBooking(t *testing.T) {
	f := setup(t, nil, false)

	var et db.EventType
	require.NoError(t, f.queries.DB.First(&et).Error)
	block := dbtest.Block(t, f.queries, f.user, dbtest.BlockType(t, f.queries, &et), false)

	require.NoError(t, f.reconciler.Receive(ctx, completed("block 1", "TXB")))
	require.NoError(t, f.queries.DB.First(block, block.ID).Error)
	require.True(t, block.Paid)

	var bt db.PaypalBlockTransaction
	require.NoError(t, f.queries.DB.First(&bt).Error)
	require.Regexp(t, `^member-Plc-5-\d{10}-inv#001$`, bt.InvoiceID)

	te := dbtest.TicketedEvent(t, f.queries)
	tb := db.TicketBooking{UserID: f.user.ID, TicketedEventID: te.ID, PurchaseConfirmed: true}
	require.NoError(t, f.queries.DB.Create(&tb).Error)

	require.NoError(t, f.reconciler.Receive(ctx, completed("ticket_booking 1", "TXT")))
	require.NoError(t, f.queries.DB.First(&tb, tb.ID).Error)
	require.True(t, tb.Paid)

	var tt db.PaypalTicketBookingTransaction
	require.NoError(t, f.queries.DB.First(&tt).Error)
	require.Equal(t, tb.BookingReference+"-inv#001", tt.InvoiceID)
	require.Equal(t, "TXT", *tt.TransactionID)
}

func TestTransactionLookupByInvoice(t *testing.T) {
	f := setup(t, nil, false)
	booking := dbtest.Booking(t, f.queries, f.user, f.event)

	first := db.PaypalBookingTransaction{BookingID: booking.ID}
	first.InvoiceID = "member-inv#001"
	second := db.PaypalBookingTransaction{BookingID: booking.ID}
	second.InvoiceID = "member-inv#002"
	require.NoError(t, f.queries.DB.Create(&first).Error)
	require.NoError(t, f.queries.DB.Create(&second).Error)

	n := completed("booking 1", "TX1")
	n.Invoice = "member-inv#001"
	require.NoError(t, f.reconciler.Receive(ctx, n))

	require.NoError(t, f.queries.DB.First(&first, first.ID).Error)
	require.NoError(t, f.queries.DB.First(&second, second.ID).Error)
	require.Equal(t, "TX1", *first.TransactionID)
	require.Nil(t, second.TransactionID)

	// No invoice: the latest record
	other := dbtest.User(t, f.queries, "other")
	b2 := dbtest.Booking(t, f.queries, other, f.event)
	third := db.PaypalBookingTransaction{BookingID: b2.ID}
	third.InvoiceID = "other-inv#001"
	fourth := db.PaypalBookingTransaction{BookingID: b2.ID}
	fourth.InvoiceID = "other-inv#002"
	require.NoError(t, f.queries.DB.Create(&third).Error)
	require.NoError(t, f.queries.DB.Create(&fourth).Error)

	require.NoError(t, f.reconciler.Receive(ctx, completed("booking 2", "TX2")))
	require.NoError(t, f.queries.DB.First(&fourth, fourth.ID).Error)
	require.Equal(t, "TX2", *fourth.TransactionID)
}

func TestPendingIgnored(t *testing.T) {
	f := setup(t, nil, true)
	booking := dbtest.Booking(t, f.queries, f.user, f.event)

	n := completed("booking 1", "TX1")
	n.PaymentStatus = db.StatusPending
	require.NoError(t, f.reconciler.Receive(ctx, n))

	require.NoError(t, f.queries.DB.First(booking, booking.ID).Error)
	require.False(t, booking.Paid)
	require.Empty(t, f.outbox.Sent())
}

func TestConcurrentDelivery(t *testing.T) {
	f := setup(t, nil, false)
	dbtest.Booking(t, f.queries, f.user, f.event)

	cache, mock := redismock.NewClientMock()
	f.queries.Cache = cache

	mock.ExpectSetNX("lock:ipn:TX1:Completed", "1", 30*time.Second).SetVal(false)
	require.ErrorIs(t, f.reconciler.Receive(ctx, completed("booking 1", "TX1")), ErrInFlight)

	mock.ExpectSetNX("lock:ipn:TX1:Completed", "1", 30*time.Second).SetVal(true)
	mock.ExpectDel("lock:ipn:TX1:Completed").SetVal(1)
	require.NoError(t, f.reconciler.Receive(ctx, completed("booking 1", "TX1")))
	require.NoError(t, mock.ExpectationsWereMet())

	var count int64
	require.NoError(t, f.queries.DB.Model(&db.PaymentNotification{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}
