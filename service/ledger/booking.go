package ledger

import (
	"context"
	"errors"
	"fmt"
	"studiobook/db"
	"studiobook/service/metrics"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotBookable    = errors.New("event is not open for booking")
	ErrAlreadyBooked  = errors.New("user already has an open booking for this event")
	ErrNotOwner       = errors.New("record belongs to another user")
	ErrBlockNotUsable = errors.New("block cannot be used for this booking")
)

// Service: the booking, block and ticket ledger.
// Every operation that checks capacity runs in one transaction holding a row lock on the event.
type Service struct {
	db *gorm.DB
}

func NewService(conn *gorm.DB) *Service {
	return &Service{db: conn}
}

type BookOptions struct {
	BlockID   *uint // Pay with this block
	FreeClass bool
}

func lockEvent(tx *gorm.DB, id uint) (*db.Event, error) {
	var event db.Event
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&event, id).Error; err != nil {
		return nil, db.NotFound(err, "event %d", id)
	}
	return &event, nil
}

func loadBooking(tx *gorm.DB, id uint) (*db.Booking, error) {
	var booking db.Booking
	if err := tx.Preload("Event.EventType").Preload("User").First(&booking, id).Error; err != nil {
		return nil, db.NotFound(err, "booking %d", id)
	}
	return &booking, nil
}

func saveBooking(tx *gorm.DB, booking *db.Booking) error {
	return tx.Omit(clause.Associations).Save(booking).Error
}

func recordCapacity(err error, kind string) {
	if errors.Is(err, db.ErrBookingFull) || errors.Is(err, db.ErrTicketsSoldOut) {
		metrics.CapacityRejections.WithLabelValues(kind).Inc()
	}
}

// Book creates an OPEN booking for the user, or reopens their cancelled one.
// Fails with *db.BookingError when the event is full.
func (service *Service) Book(ctx context.Context, userID, eventID uint, opts BookOptions) (*db.Booking, error) {
	var bookingID uint
	action := "book"

	err := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := lockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if event.Cancelled || !event.BookingOpen {
			return ErrNotBookable
		}

		var booking db.Booking
		err = tx.Where("user_id = ? AND event_id = ?", userID, eventID).First(&booking).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			booking = db.Booking{UserID: userID, EventID: eventID, Status: db.BookingOpen}
		case err != nil:
			return err
		case booking.Status == db.BookingOpen:
			return ErrAlreadyBooked
		default:
			action = "reopen"
			booking.Status = db.BookingOpen
		}

		if opts.FreeClass {
			booking.FreeClass = true
		}
		if opts.BlockID != nil {
			if err := useBlock(tx, &booking, event, *opts.BlockID); err != nil {
				return err
			}
		}

		if err := saveBooking(tx, &booking); err != nil {
			return err
		}
		bookingID = booking.ID
		return nil
	})

	metrics.BookingsTotal.WithLabelValues(action, metrics.Result(err)).Inc()
	if err != nil {
		recordCapacity(err, "event")
		return nil, err
	}
	return loadBooking(service.db.WithContext(ctx), bookingID)
}

// Cancel a booking. userID = 0 skips the owner check (staff).
func (service *Service) Cancel(ctx context.Context, userID, bookingID uint) (*db.Booking, error) {
	err := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := loadBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if userID != 0 && booking.UserID != userID {
			return ErrNotOwner
		}
		booking.Status = db.BookingCancelled
		return saveBooking(tx, booking)
	})

	metrics.BookingsTotal.WithLabelValues("cancel", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return loadBooking(service.db.WithContext(ctx), bookingID)
}

// ConfirmSpace marks the booking paid and confirmed
func (service *Service) ConfirmSpace(ctx context.Context, bookingID uint) (*db.Booking, error) {
	conn := service.db.WithContext(ctx)
	booking, err := loadBooking(conn, bookingID)
	if err != nil {
		return nil, err
	}

	booking.ConfirmSpace()
	err = saveBooking(conn, booking)
	metrics.BookingsTotal.WithLabelValues("confirm", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// AssignBlock pays a booking with one of the user's blocks
func (service *Service) AssignBlock(ctx context.Context, bookingID, blockID uint) (*db.Booking, error) {
	err := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := loadBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status == db.BookingCancelled {
			return fmt.Errorf("booking %d is cancelled: %w", bookingID, ErrBlockNotUsable)
		}
		if err := useBlock(tx, booking, &booking.Event, blockID); err != nil {
			return err
		}
		return saveBooking(tx, booking)
	})
	if err != nil {
		return nil, err
	}
	return loadBooking(service.db.WithContext(ctx), bookingID)
}

// Check the block can pay for the booking and attach it. The block row stays locked until commit.
func useBlock(tx *gorm.DB, booking *db.Booking, event *db.Event, blockID uint) error {
	var block db.Block
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("BlockType").Preload("Parent.BlockType").
		First(&block, blockID).Error
	if err != nil {
		return db.NotFound(err, "block %d", blockID)
	}

	if block.UserID != booking.UserID {
		return ErrNotOwner
	}
	if block.BlockType.EventTypeID != event.EventTypeID {
		return fmt.Errorf("block %d is for another event type: %w", blockID, ErrBlockNotUsable)
	}
	if booking.BlockID != nil && *booking.BlockID == blockID {
		return nil
	}

	count, err := db.BlockBookingCount(tx, blockID)
	if err != nil {
		return err
	}
	if !block.ActiveBlock(db.Now(), count) {
		return fmt.Errorf("block %d is not active: %w", blockID, ErrBlockNotUsable)
	}

	booking.BlockID = &block.ID
	booking.Paid = true
	booking.PaymentConfirmed = true
	return nil
}

// Bookings of a user, newest event first
func (service *Service) UserBookings(ctx context.Context, userID uint) ([]db.Booking, error) {
	var bookings []db.Booking
	err := service.db.WithContext(ctx).
		Select("bookings.*").
		Joins("JOIN events ON events.id = bookings.event_id").
		Where("bookings.user_id = ?", userID).
		Preload("Event.EventType").
		Order("events.date DESC").
		Find(&bookings).Error
	return bookings, err
}
