package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := "payment_status=Completed&custom=booking+3+SUMMER&invoice=user-te-010125-inv%23001&txn_id=TX1&receiver_email=studio%40test.com&mc_gross=7.50"
	form, err := url.ParseQuery(raw)
	require.NoError(t, err)

	n := Parse(form, raw)
	require.Equal(t, "paypal", string(n.Source))
	require.Equal(t, "Completed", string(n.PaymentStatus))
	require.Equal(t, "booking 3 SUMMER", n.Custom)
	require.Equal(t, "user-te-010125-inv#001", n.Invoice)
	require.Equal(t, "TX1", n.TxnID)
	require.Equal(t, "studio@test.com", n.ReceiverEmail)
	require.Equal(t, "7.50", n.McGross)
	require.Equal(t, raw, n.Query)
}

func TestPostback(t *testing.T) {
	var received string
	answer := Verified
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.Write([]byte(answer))
	}))
	defer srv.Close()

	postback := NewPostback(srv.URL)
	require.NoError(t, postback.Verify(context.Background(), "txn_id=TX1&payment_status=Completed"))
	require.Equal(t, "cmd=_notify-validate&txn_id=TX1&payment_status=Completed", received)

	answer = Invalid
	err := postback.Verify(context.Background(), "txn_id=TX1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID")
}

func TestFormDict(t *testing.T) {
	cfg := FormConfig{ReceiverEmail: "default@test.com", Currency: "GBP", Domain: "https://studio.test"}

	form := FormDict(cfg, Item{Name: "Pole class", Amount: decimal.NewFromInt(10)}, "inv#001", Custom("booking", 4, ""))
	require.Equal(t, "default@test.com", form["business"])
	require.Equal(t, "10.00", form["amount"])
	require.Equal(t, "booking 4", form["custom"])
	require.Equal(t, "inv#001", form["invoice"])
	require.Equal(t, "GBP", form["currency_code"])
	require.Equal(t, "https://studio.test/api/webhook/paypal", form["notify_url"])

	form = FormDict(cfg, Item{Name: "Block", Amount: decimal.RequireFromString("32.5"), PaypalEmail: "instructor@test.com"}, "inv#002", Custom("block", 1, "SAVE10"))
	require.Equal(t, "instructor@test.com", form["business"])
	require.Equal(t, "32.50", form["amount"])
	require.Equal(t, "block 1 SAVE10", form["custom"])
}
