package ledger

import (
	"context"
	"errors"
	"studiobook/db"
	"studiobook/service/metrics"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidQuantity = errors.New("ticket quantity must be at least 1")

func loadTicketBooking(tx *gorm.DB, id uint) (*db.TicketBooking, error) {
	var tb db.TicketBooking
	if err := tx.Preload("TicketedEvent").Preload("User").Preload("Tickets").First(&tb, id).Error; err != nil {
		return nil, db.NotFound(err, "ticket booking %d", id)
	}
	return &tb, nil
}

// BuyTickets books quantity tickets for the user under one booking reference and confirms the
// purchase. Fails with *db.TicketBookingError when there are not enough tickets left.
func (service *Service) BuyTickets(ctx context.Context, userID, ticketedEventID uint, quantity int) (*db.TicketBooking, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var id uint
	err := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var te db.TicketedEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&te, ticketedEventID).Error; err != nil {
			return db.NotFound(err, "ticketed event %d", ticketedEventID)
		}
		if te.Cancelled || !te.TicketPurchaseOpen {
			return ErrNotBookable
		}

		left, err := db.TicketsLeft(tx, &te)
		if err != nil {
			return err
		}
		if left != nil && quantity > *left {
			return &db.TicketBookingError{TicketedEventID: te.ID}
		}

		tb := db.TicketBooking{UserID: userID, TicketedEventID: te.ID}
		if err := tx.Omit(clause.Associations).Create(&tb).Error; err != nil {
			return err
		}

		tickets := make([]db.Ticket, quantity)
		for i := range tickets {
			tickets[i].TicketBookingID = tb.ID
		}
		if err := tx.Omit(clause.Associations).Create(&tickets).Error; err != nil {
			return err
		}

		tb.PurchaseConfirmed = true
		if te.TicketCost.IsZero() {
			tb.Paid = true
		}
		id = tb.ID
		return tx.Omit(clause.Associations).Save(&tb).Error
	})
	if err != nil {
		recordCapacity(err, "ticketed_event")
		return nil, err
	}

	metrics.TicketsSoldTotal.Add(float64(quantity))
	return loadTicketBooking(service.db.WithContext(ctx), id)
}

// CancelTicketBooking cancels the booking. Its tickets are kept but stop counting as sold.
// userID = 0 skips the owner check (staff).
func (service *Service) CancelTicketBooking(ctx context.Context, userID, ticketBookingID uint) (*db.TicketBooking, error) {
	conn := service.db.WithContext(ctx)
	tb, err := loadTicketBooking(conn, ticketBookingID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && tb.UserID != userID {
		return nil, ErrNotOwner
	}

	tb.Cancelled = true
	if err := conn.Omit(clause.Associations).Save(tb).Error; err != nil {
		return nil, err
	}
	return tb, nil
}

// Ticket booking by its reference
func (service *Service) TicketBookingByReference(ctx context.Context, ref string) (*db.TicketBooking, error) {
	var tb db.TicketBooking
	err := service.db.WithContext(ctx).Preload("TicketedEvent").Preload("User").Preload("Tickets").
		Where("booking_reference = ?", ref).First(&tb).Error
	if err != nil {
		return nil, db.NotFound(err, "ticket booking %s", ref)
	}
	return &tb, nil
}
