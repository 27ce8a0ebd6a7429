package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"studiobook/db"
	"studiobook/db/dbtest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func bookingFixture(t *testing.T, ts *testServer) (*db.User, *db.Booking) {
	t.Helper()
	et := dbtest.EventType(t, ts.queries, db.KindClass, "Pole level class")
	event := dbtest.Event(t, ts.queries, et)
	user := dbtest.User(t, ts.queries, "alice")
	return user, dbtest.Booking(t, ts.queries, user, event)
}

func TestPaypalForm(t *testing.T) {
	ts := newTestServer(t)
	user, booking := bookingFixture(t, ts)
	path := fmt.Sprintf("/api/payments/paypal-form?type=booking&id=%d", booking.ID)

	resp := ts.do(t, http.MethodGet, path, nil, ts.token(t, user))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	form := decode[map[string]string](t, resp)
	require.Equal(t, "_xclick", form["cmd"])
	require.Equal(t, "paypal@test.com", form["business"])
	require.Equal(t, "10.00", form["amount"])
	require.Equal(t, "GBP", form["currency_code"])
	require.Equal(t, fmt.Sprintf("booking %d", booking.ID), form["custom"])
	require.Equal(t, "https://studio.test/api/webhook/paypal", form["notify_url"])
	require.True(t, strings.HasSuffix(form["invoice"], "-inv#001"), form["invoice"])

	// The invoice id is reused
	resp = ts.do(t, http.MethodGet, path, nil, ts.token(t, user))
	require.Equal(t, form["invoice"], decode[map[string]string](t, resp)["invoice"])

	// Someone else's booking
	bob := dbtest.User(t, ts.queries, "bob")
	resp = ts.do(t, http.MethodGet, path, nil, ts.token(t, bob))
	require.Equal(t, http.StatusNotFound, resp.Code)

	// Bad type
	resp = ts.do(t, http.MethodGet, "/api/payments/paypal-form?type=cake&id=1", nil, ts.token(t, user))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	// Paid
	require.NoError(t, ts.queries.DB.Model(booking).Update("paid", true).Error)
	resp = ts.do(t, http.MethodGet, path, nil, ts.token(t, user))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPaypalFormVoucher(t *testing.T) {
	ts := newTestServer(t)
	user, booking := bookingFixture(t, ts)
	require.NoError(t, ts.queries.DB.Create(&db.Voucher{
		Code: "HALF", Discount: 50, StartDate: db.Now().Add(-time.Hour),
	}).Error)
	expired := db.Now().Add(-time.Minute)
	require.NoError(t, ts.queries.DB.Create(&db.Voucher{
		Code: "OLD", Discount: 10, StartDate: db.Now().Add(-48 * time.Hour), ExpiryDate: &expired,
	}).Error)

	path := fmt.Sprintf("/api/payments/paypal-form?type=booking&id=%d&voucher=", booking.ID)
	resp := ts.do(t, http.MethodGet, path+"HALF", nil, ts.token(t, user))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	form := decode[map[string]string](t, resp)
	require.Equal(t, "5.00", form["amount"])
	require.Equal(t, fmt.Sprintf("booking %d HALF", booking.ID), form["custom"])

	resp = ts.do(t, http.MethodGet, path+"OLD", nil, ts.token(t, user))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = ts.do(t, http.MethodGet, path+"NOPE", nil, ts.token(t, user))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPaypalWebhook(t *testing.T) {
	ts := newTestServer(t)
	_, booking := bookingFixture(t, ts)

	ipn := url.Values{
		"txn_id":         {"TX1"},
		"custom":         {fmt.Sprintf("booking %d", booking.ID)},
		"payment_status": {"Completed"},
		"receiver_email": {"paypal@test.com"},
		"mc_gross":       {"10.00"},
	}
	resp := ts.do(t, http.MethodPost, "/api/webhook/paypal", ipn.Encode(), "")
	require.Equal(t, http.StatusOK, resp.Code)

	var saved db.Booking
	require.NoError(t, ts.queries.DB.First(&saved, booking.ID).Error)
	require.True(t, saved.Paid)
	require.True(t, saved.PaymentConfirmed)
	require.NotEmpty(t, ts.outbox.Sent())

	var stored int64
	require.NoError(t, ts.queries.DB.Model(&db.PaymentNotification{}).Where("txn_id = ?", "TX1").Count(&stored).Error)
	require.Equal(t, int64(1), stored)

	// PayPal is always answered 200
	resp = ts.do(t, http.MethodPost, "/api/webhook/paypal", "%%garbage", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = ts.do(t, http.MethodPost, "/api/webhook/paypal", "txn_id=TX2&custom=nonsense&payment_status=Completed", "")
	require.Equal(t, http.StatusOK, resp.Code)
}

func stripeRequest(t *testing.T, ts *testServer, payload string, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, req)
	return recorder
}

func signedStripe(payload string) (string, string) {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  stripeSecret,
	})
	return string(sp.Payload), sp.Header
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t)
	_, booking := bookingFixture(t, ts)

	succeeded := fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 1000,
			"amount_received": 1000,
			"metadata": {"custom": "booking %d"}
		}}
	}`, booking.ID)

	// Bad signature
	resp := stripeRequest(t, ts, succeeded, "t=1,v1=deadbeef")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	// Events we don't handle are acknowledged
	payload, header := signedStripe(`{"id": "evt_2", "object": "event", "type": "customer.created", "data": {"object": {}}}`)
	resp = stripeRequest(t, ts, payload, header)
	require.Equal(t, http.StatusOK, resp.Code)

	payload, header = signedStripe(succeeded)
	resp = stripeRequest(t, ts, payload, header)
	require.Equal(t, http.StatusOK, resp.Code)

	var saved db.Booking
	require.NoError(t, ts.queries.DB.First(&saved, booking.ID).Error)
	require.True(t, saved.Paid)

	var trans db.PaypalBookingTransaction
	require.NoError(t, ts.queries.DB.Where("booking_id = ?", booking.ID).First(&trans).Error)
	require.Equal(t, "pi_123", *trans.TransactionID)
}
