package db

import (
	"errors"
	"fmt"
)

var (
	ErrBookingFull      = errors.New("event is full")
	ErrTicketsSoldOut   = errors.New("no tickets left")
	ErrNotFound         = errors.New("record not found")
	ErrEventHasBookings = errors.New("event still has bookings")
)

// BookingError is returned when an OPEN booking would take an event over its max participants.
// Both creating a booking and reopening a cancelled one can raise it.
type BookingError struct {
	EventID uint
	Reopen  bool
}

func (e *BookingError) Error() string {
	if e.Reopen {
		return fmt.Sprintf("attempted to reopen booking for full event (id %d)", e.EventID)
	}
	return fmt.Sprintf("attempted to book for full event (id %d)", e.EventID)
}

func (e *BookingError) Unwrap() error {
	return ErrBookingFull
}

// TicketBookingError is returned when a ticket booking or ticket is created for a sold out ticketed event
type TicketBookingError struct {
	TicketedEventID uint
}

func (e *TicketBookingError) Error() string {
	return fmt.Sprintf("attempted to buy tickets for full ticketed event (id %d)", e.TicketedEventID)
}

func (e *TicketBookingError) Unwrap() error {
	return ErrTicketsSoldOut
}

type ErrorCacheMiss struct {
	Key string
}

func (e *ErrorCacheMiss) Error() string {
	return "cache miss"
}
