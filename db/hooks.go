package db

import (
	"errors"
	"fmt"
	"strings"
	"studiobook/util"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Fresh statement on the same connection (and transaction) as the hook's tx
func session(tx *gorm.DB) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true})
}

// Row lock used for every capacity check. Ignored by sqlite, which locks the whole database on write.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Count OPEN bookings of an event, ignoring one booking (0 to ignore none)
func OpenBookingCount(tx *gorm.DB, eventID, exclude uint) (int64, error) {
	var count int64
	q := tx.Model(&Booking{}).Where("event_id = ? AND status = ?", eventID, BookingOpen)
	if exclude != 0 {
		q = q.Where("id <> ?", exclude)
	}
	err := q.Count(&count).Error
	return count, err
}

// Spaces left on an event, nil when the event has no limit
func SpacesLeft(tx *gorm.DB, event *Event) (*int, error) {
	if event.MaxParticipants == nil {
		return nil, nil
	}
	count, err := OpenBookingCount(tx, event.ID, 0)
	if err != nil {
		return nil, err
	}
	left := *event.MaxParticipants - int(count)
	return &left, nil
}

// Bookable when booking is open and there is space left
func Bookable(tx *gorm.DB, event *Event) (bool, error) {
	if !event.BookingOpen {
		return false, nil
	}
	left, err := SpacesLeft(tx, event)
	if err != nil {
		return false, err
	}
	return left == nil || *left > 0, nil
}

// Number of bookings made with a block
func BlockBookingCount(tx *gorm.DB, blockID uint) (int64, error) {
	var count int64
	err := tx.Model(&Booking{}).Where("block_id = ?", blockID).Count(&count).Error
	return count, err
}

// Tickets sold for a ticketed event: tickets of purchase confirmed, not cancelled ticket bookings
func TicketsSold(tx *gorm.DB, ticketedEventID uint) (int64, error) {
	var count int64
	err := tx.Model(&Ticket{}).
		Joins("JOIN ticket_bookings ON ticket_bookings.id = tickets.ticket_booking_id").
		Where("ticket_bookings.ticketed_event_id = ?", ticketedEventID).
		Where("ticket_bookings.purchase_confirmed = ? AND ticket_bookings.cancelled = ?", true, false).
		Count(&count).Error
	return count, err
}

// Tickets left for a ticketed event, nil when the event has no limit
func TicketsLeft(tx *gorm.DB, te *TicketedEvent) (*int, error) {
	if te.MaxTickets == nil {
		return nil, nil
	}
	sold, err := TicketsSold(tx, te.ID)
	if err != nil {
		return nil, err
	}
	left := *te.MaxTickets - int(sold)
	return &left, nil
}

func lockTicketedEvent(tx *gorm.DB, id uint) (*TicketedEvent, error) {
	var te TicketedEvent
	if err := forUpdate(session(tx)).First(&te, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load ticketed event %d: %w", id, err)
	}
	return &te, nil
}

// Fail with TicketBookingError when no ticket is left
func checkTicketsLeft(tx *gorm.DB, ticketedEventID uint) error {
	te, err := lockTicketedEvent(tx, ticketedEventID)
	if err != nil {
		return err
	}
	left, err := TicketsLeft(session(tx), te)
	if err != nil {
		return err
	}
	if left != nil && *left <= 0 {
		return &TicketBookingError{TicketedEventID: ticketedEventID}
	}
	return nil
}

// Unique slug for a name and date. A numbered suffix is added if the slug is taken.
func uniqueSlug(tx *gorm.DB, model any, id uint, base string) (string, error) {
	candidate := util.GenerateSlug(base)
	for i := 1; ; i++ {
		var count int64
		q := session(tx).Model(model).Where("slug = ?", candidate)
		if id != 0 {
			q = q.Where("id <> ?", id)
		}
		if err := q.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", util.GenerateSlug(base), i)
	}
}

func (event *Event) BeforeSave(tx *gorm.DB) error {
	if event.Cost.IsZero() {
		event.AdvancePaymentRequired = false
		event.PaymentOpen = false
		event.PaymentDueDate = nil
		event.PaymentTimeAllowed = nil
	}
	if event.PaymentTimeAllowed != nil {
		event.AdvancePaymentRequired = true
	}
	if event.ExternalInstructor {
		event.BookingOpen = false
		event.PaymentOpen = false
	}

	if event.Slug == "" {
		slug, err := uniqueSlug(tx, &Event{}, event.ID, event.Name+" "+event.Date.Format("2006-01-02 1504"))
		if err != nil {
			return err
		}
		event.Slug = slug
	}
	return nil
}

// Events are cancelled, not deleted, once booked
func (event *Event) BeforeDelete(tx *gorm.DB) error {
	var count int64
	if err := session(tx).Model(&Booking{}).Where("event_id = ?", event.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrEventHasBookings
	}
	return nil
}

func (te *TicketedEvent) BeforeSave(tx *gorm.DB) error {
	if te.TicketCost.IsZero() {
		te.AdvancePaymentRequired = false
		te.PaymentOpen = false
		te.PaymentDueDate = nil
		te.PaymentTimeAllowed = nil
	}
	if te.PaymentTimeAllowed != nil || te.PaymentDueDate != nil {
		te.AdvancePaymentRequired = true
	}
	if te.PaymentDueDate != nil {
		due := util.EndOfDay(*te.PaymentDueDate)
		te.PaymentDueDate = &due
	}

	if te.Slug == "" {
		slug, err := uniqueSlug(tx, &TicketedEvent{}, te.ID, te.Name+" "+te.Date.Format("2006-01-02 1504"))
		if err != nil {
			return err
		}
		te.Slug = slug
	}
	return nil
}

func (s *Session) BeforeSave(tx *gorm.DB) error {
	if _, err := s.Day.Offset(); err != nil {
		return err
	}
	if _, err := ParseSessionTime(s.Time); err != nil {
		return err
	}
	if s.Cost.IsZero() {
		s.AdvancePaymentRequired = false
		s.PaymentOpen = false
		s.PaymentTimeAllowed = nil
	}
	if s.PaymentTimeAllowed != nil {
		s.AdvancePaymentRequired = true
	}
	if s.ExternalInstructor {
		s.BookingOpen = false
		s.PaymentOpen = false
	}
	return nil
}

// Previous status of a saved booking, "" for a new one
func previousStatus(tx *gorm.DB, id uint) (BookingStatus, error) {
	if id == 0 {
		return "", nil
	}
	var prev Booking
	err := session(tx).Select("id", "status").First(&prev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return prev.Status, nil
}

func (booking *Booking) BeforeSave(tx *gorm.DB) error {
	if booking.Status == "" {
		booking.Status = BookingOpen
	}
	if booking.DateBooked.IsZero() {
		booking.DateBooked = Now()
	}

	previous, err := previousStatus(tx, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to load booking %d: %w", booking.ID, err)
	}

	// Cancelled block bookings hand the block use back
	if booking.Status == BookingCancelled && booking.BlockID != nil {
		booking.BlockID = nil
		booking.Block = nil
		booking.Paid = false
		booking.PaymentConfirmed = false
	}

	if booking.FreeClass {
		booking.Paid = true
		booking.PaymentConfirmed = true
	}
	if booking.PaymentConfirmed && booking.DatePaymentConfirmed == nil {
		now := Now()
		booking.DatePaymentConfirmed = &now
	}

	reopening := previous == BookingCancelled && booking.Status == BookingOpen
	if booking.Status == BookingOpen && (previous == "" || reopening) {
		var event Event
		if err := forUpdate(session(tx)).First(&event, booking.EventID).Error; err != nil {
			return fmt.Errorf("failed to load event %d: %w", booking.EventID, err)
		}
		if event.MaxParticipants != nil {
			count, err := OpenBookingCount(session(tx), booking.EventID, booking.ID)
			if err != nil {
				return err
			}
			if count >= int64(*event.MaxParticipants) {
				return &BookingError{EventID: booking.EventID, Reopen: reopening}
			}
		}
	}

	if reopening {
		now := Now()
		booking.DateRebooked = &now
	}
	return nil
}

func (block *Block) BeforeCreate(tx *gorm.DB) error {
	if block.ParentID != nil {
		var blockType BlockType
		if err := session(tx).First(&blockType, block.BlockTypeID).Error; err != nil {
			return fmt.Errorf("failed to load block type %d: %w", block.BlockTypeID, err)
		}
		if blockType.IsFreeClass() {
			var parent Block
			if err := session(tx).First(&parent, *block.ParentID).Error; err != nil {
				return fmt.Errorf("failed to load parent block %d: %w", *block.ParentID, err)
			}
			block.StartDate = parent.StartDate
		}
	}
	if block.StartDate.IsZero() {
		block.StartDate = Now()
	}
	return nil
}

// Deleting a block keeps its bookings, they just become unpaid
func (block *Block) BeforeDelete(tx *gorm.DB) error {
	return session(tx).Model(&Booking{}).
		Where("block_id = ?", block.ID).
		UpdateColumns(map[string]any{"block_id": nil, "paid": false, "payment_confirmed": false}).Error
}

func NewBookingReference() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func (tb *TicketBooking) BeforeCreate(tx *gorm.DB) error {
	if tb.BookingReference == "" {
		tb.BookingReference = NewBookingReference()
	}
	if tb.DateBooked.IsZero() {
		tb.DateBooked = Now()
	}
	return checkTicketsLeft(tx, tb.TicketedEventID)
}

func (ticket *Ticket) BeforeCreate(tx *gorm.DB) error {
	var tb TicketBooking
	if err := session(tx).Select("id", "ticketed_event_id").First(&tb, ticket.TicketBookingID).Error; err != nil {
		return fmt.Errorf("failed to load ticket booking %d: %w", ticket.TicketBookingID, err)
	}
	return checkTicketsLeft(tx, tb.TicketedEventID)
}

func (log *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = Now()
	}
	return nil
}
