package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/skip2/go-qrcode"
)

// Global logger
var LOGGER = slog.New(slog.NewTextHandler(os.Stdout, nil))

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate a random string with length n. The character possible is defined in the alphabet constant
func RandomString(n int) string {
	var sb strings.Builder
	k := len(alphabet)

	for range n {
		c := alphabet[rand.Intn(k)]
		sb.WriteByte(c)
	}

	return sb.String()
}

// Random integer in [min, max]
func RandomInt(min, max int) int {
	return rand.Intn(max-min+1) + min
}

// Generate QR
func GenerateQR(content string) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, 256)
}

// Generate slug
func GenerateSlug(content string) string {
	return slug.Make(content)
}

// Initials returns the first character of every whitespace separated word, keeping its case.
// "Pole Level Class" -> "PLC", "test event" -> "te"
func Initials(s string) string {
	var sb strings.Builder
	for _, word := range strings.Fields(s) {
		sb.WriteString(string([]rune(word)[0]))
	}
	return sb.String()
}

// EndOfDay moves t to 23:59:59 of the same day, keeping its location
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// AddMonths adds n calendar months to t. When the target month is shorter than the day of t,
// the day is clamped to the last day of that month (31 Jan + 1 month = 28/29 Feb).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return first.AddDate(0, 0, d-1)
}

// Helper: make a HTTP request and return the status code and the raw response body.
// Status code outside of 2xx is reported as an error along with the body
func MakeRequest(ctx context.Context, method, url string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	// Check if status code is success
	if 200 > resp.StatusCode || resp.StatusCode >= 300 {
		return resp.StatusCode, data, fmt.Errorf("response status not ok: %s %s", string(data), resp.Status)
	}

	return resp.StatusCode, data, nil
}
