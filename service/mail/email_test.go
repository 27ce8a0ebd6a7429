package mail

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageBytes(t *testing.T) {
	msg := Message{From: "studio@test.com", To: []string{"a@test.com", "b@test.com"}, Subject: "Hi", Text: "plain"}
	raw := string(msg.Bytes())
	require.Contains(t, raw, "To: a@test.com, b@test.com\r\n")
	require.Contains(t, raw, "Content-Type: text/plain")
	require.True(t, strings.HasSuffix(raw, "\r\n\r\nplain"))

	msg.Html = "<p>html</p>"
	msg.Cc = []string{"c@test.com"}
	raw = string(msg.Bytes())
	require.Contains(t, raw, "Cc: c@test.com\r\n")
	require.Contains(t, raw, "multipart/alternative")
	require.Contains(t, raw, "<p>html</p>")
}

func TestOutbox(t *testing.T) {
	outbox := NewOutbox()
	require.NoError(t, outbox.Send(context.Background(), Message{Subject: "one"}))
	require.Len(t, outbox.Sent(), 1)

	outbox.Err = errors.New("smtp down")
	require.Error(t, outbox.Send(context.Background(), Message{Subject: "two"}))
	require.Len(t, outbox.Sent(), 1)

	outbox.Reset()
	require.Empty(t, outbox.Sent())
}

func TestSendEmail(t *testing.T) {
	if os.Getenv("CI") != "" || os.Getenv("EMAIL") == "" {
		t.Skip("smtp integration test")
	}

	service := NewEmailService("smtp.gmail.com", "587", os.Getenv("EMAIL"), os.Getenv("APP_PASSWORD"), os.Getenv("EMAIL"))
	err := service.Send(context.Background(), Message{
		To:      []string{os.Getenv("RECEIVE_EMAIL")},
		Subject: "studiobook test",
		Text:    "test",
	})
	require.NoError(t, err)
}
