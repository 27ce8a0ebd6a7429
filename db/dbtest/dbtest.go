// Package dbtest opens throwaway sqlite databases and creates fixtures for tests
package dbtest

import (
	"fmt"
	"strings"
	"studiobook/db"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Open a fresh in memory database named after the test, fully migrated
func Open(t *testing.T) *db.Queries {
	t.Helper()

	queries := db.NewQueries()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	require.NoError(t, queries.ConnectSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)))

	// One connection: sqlite shared cache memory databases lock tables across connections
	sqlDB, err := queries.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, queries.AutoMigration())
	return queries
}

// Pin db.Now for the duration of the test
func Freeze(t *testing.T, now time.Time) {
	t.Helper()
	previous := db.Now
	db.Now = func() time.Time { return now }
	t.Cleanup(func() { db.Now = previous })
}

func User(t *testing.T, queries *db.Queries, username string) *db.User {
	t.Helper()
	user := db.User{
		Username:  username,
		Email:     username + "@test.com",
		FirstName: "Test",
		LastName:  strings.ToUpper(username[:1]) + username[1:],
		Password:  "hash",
		Role:      db.Member,
	}
	require.NoError(t, queries.DB.Create(&user).Error)
	return &user
}

func EventType(t *testing.T, queries *db.Queries, kind db.EventKind, subtype string) *db.EventType {
	t.Helper()
	et := db.EventType{EventType: kind, Subtype: subtype}
	require.NoError(t, queries.DB.Create(&et).Error)
	return &et
}

// Event of the given type. Defaults: bookable, £10, advance payment, a week from now.
func Event(t *testing.T, queries *db.Queries, et *db.EventType, opts ...func(*db.Event)) *db.Event {
	t.Helper()
	event := db.Event{
		Name:                   "Test event",
		EventTypeID:            et.ID,
		Date:                   db.Now().Add(7 * 24 * time.Hour).Truncate(time.Minute),
		Cost:                   decimal.NewFromInt(10),
		AdvancePaymentRequired: true,
		BookingOpen:            true,
		PaymentOpen:            true,
		CancellationPeriod:     24,
	}
	for _, opt := range opts {
		opt(&event)
	}
	require.NoError(t, queries.DB.Create(&event).Error)
	require.NoError(t, queries.DB.Preload("EventType").First(&event, event.ID).Error)
	return &event
}

func BlockType(t *testing.T, queries *db.Queries, et *db.EventType, opts ...func(*db.BlockType)) *db.BlockType {
	t.Helper()
	bt := db.BlockType{
		EventTypeID: et.ID,
		Size:        5,
		Duration:    2,
		Cost:        decimal.NewFromInt(32),
		Active:      true,
	}
	for _, opt := range opts {
		opt(&bt)
	}
	require.NoError(t, queries.DB.Create(&bt).Error)
	return &bt
}

// Block of the given type, loaded with its user and block type
func Block(t *testing.T, queries *db.Queries, user *db.User, bt *db.BlockType, paid bool) *db.Block {
	t.Helper()
	block := db.Block{UserID: user.ID, BlockTypeID: bt.ID, Paid: paid}
	require.NoError(t, queries.DB.Create(&block).Error)
	require.NoError(t, queries.DB.Preload("User").Preload("BlockType.EventType").Preload("Parent.BlockType").First(&block, block.ID).Error)
	return &block
}

// Booking of the user on the event, loaded with both
func Booking(t *testing.T, queries *db.Queries, user *db.User, event *db.Event, opts ...func(*db.Booking)) *db.Booking {
	t.Helper()
	booking := db.Booking{UserID: user.ID, EventID: event.ID, Status: db.BookingOpen}
	for _, opt := range opts {
		opt(&booking)
	}
	require.NoError(t, queries.DB.Create(&booking).Error)
	require.NoError(t, queries.DB.Preload("User").Preload("Event.EventType").First(&booking, booking.ID).Error)
	return &booking
}

// Ticketed event. Defaults: ticket purchase open, £5 a ticket, a week from now.
func TicketedEvent(t *testing.T, queries *db.Queries, opts ...func(*db.TicketedEvent)) *db.TicketedEvent {
	t.Helper()
	te := db.TicketedEvent{
		Name:               "Test show",
		Date:               db.Now().Add(7 * 24 * time.Hour).Truncate(time.Minute),
		TicketCost:         decimal.NewFromInt(5),
		TicketPurchaseOpen: true,
	}
	for _, opt := range opts {
		opt(&te)
	}
	require.NoError(t, queries.DB.Create(&te).Error)
	return &te
}

// Pointer to v
func Ptr[T any](v T) *T {
	return &v
}
