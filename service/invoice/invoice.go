package invoice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"studiobook/db"
	"studiobook/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	stampLayout = "020106" + "1504" // ddmmyyHHMM
	marker      = "-inv#"
	maxAttempts = 5
)

// Transaction record of any payable
type Record interface {
	GetInvoiceID() string
	GetTransactionID() *string
}

// Invoice id prefix of a booking: username-eventinitials-ddmmyyHHMM
func BookingPrefix(user *db.User, event *db.Event) string {
	return strings.Join([]string{user.Username, util.Initials(event.Name), event.Date.Format(stampLayout)}, "-")
}

// Invoice id prefix of a block: username-subtypeinitials-size-ddmmyyHHMM
func BlockPrefix(user *db.User, block *db.Block) string {
	return strings.Join([]string{
		user.Username,
		util.Initials(block.BlockType.EventType.Subtype),
		strconv.Itoa(block.BlockType.Size),
		block.StartDate.Format(stampLayout),
	}, "-")
}

// Invoice id prefix of a ticket booking: its booking reference
func TicketBookingPrefix(tb *db.TicketBooking) string {
	return tb.BookingReference
}

// Counter at the end of an invoice id, the last 3 digits
func counterOf(invoiceID string) int {
	i := strings.LastIndex(invoiceID, "#")
	digits := invoiceID[i+1:]
	if len(digits) > 3 {
		digits = digits[len(digits)-3:]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// Find the reusable record of a payable or create the next one.
// column is the payable foreign key of the transaction table, build makes an unsaved record.
func findOrCreate[T any, P interface {
	*T
	Record
}](ctx context.Context, conn *gorm.DB, column string, payableID uint, prefix string, build func(invoiceID string) P) (P, error) {
	conn = conn.WithContext(ctx)
	idString := prefix + marker

	var existing []T
	err := conn.Where(column+" = ? AND invoice_id LIKE ?", payableID, idString+"%").Find(&existing).Error
	if err != nil {
		return nil, err
	}

	counter := 1
	if len(existing) > 0 {
		// Attempts that never reached the gateway are reused as they are
		for i := range existing {
			if P(&existing[i]).GetTransactionID() == nil {
				return P(&existing[i]), nil
			}
		}
		// Fallback ids carry random digits, only the last 3 count
		highest := 0
		for i := range existing {
			highest = max(highest, counterOf(P(&existing[i]).GetInvoiceID()))
		}
		counter = highest + 1
	}

	invoiceID := fmt.Sprintf("%s%03d", idString, counter)
	var taken int64
	var model T
	if err := conn.Model(&model).Where("invoice_id = ?", invoiceID).Count(&taken).Error; err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if taken > 0 || attempt > 0 {
			// Same id already used by another payable (or a concurrent request): random digits + counter
			invoiceID = fmt.Sprintf("%s%d%03d", idString, util.RandomInt(100, 999), counter)
		}

		record := build(invoiceID)
		err := conn.Omit(clause.Associations).Create(record).Error
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt >= maxAttempts {
			return nil, err
		}
	}
}

// ForBooking returns the transaction record to pay a booking with. User and Event must be loaded.
func ForBooking(ctx context.Context, conn *gorm.DB, booking *db.Booking) (*db.PaypalBookingTransaction, error) {
	return findOrCreate(ctx, conn, "booking_id", booking.ID, BookingPrefix(&booking.User, &booking.Event),
		func(invoiceID string) *db.PaypalBookingTransaction {
			return &db.PaypalBookingTransaction{
				PaymentTransaction: db.PaymentTransaction{InvoiceID: invoiceID},
				BookingID:          booking.ID,
			}
		},
	)
}

// ForBlock returns the transaction record to pay a block with. User and BlockType.EventType must be loaded.
func ForBlock(ctx context.Context, conn *gorm.DB, block *db.Block) (*db.PaypalBlockTransaction, error) {
	return findOrCreate(ctx, conn, "block_id", block.ID, BlockPrefix(&block.User, block),
		func(invoiceID string) *db.PaypalBlockTransaction {
			return &db.PaypalBlockTransaction{
				PaymentTransaction: db.PaymentTransaction{InvoiceID: invoiceID},
				BlockID:            block.ID,
			}
		},
	)
}

// ForTicketBooking returns the transaction record to pay a ticket booking with
func ForTicketBooking(ctx context.Context, conn *gorm.DB, tb *db.TicketBooking) (*db.PaypalTicketBookingTransaction, error) {
	return findOrCreate(ctx, conn, "ticket_booking_id", tb.ID, TicketBookingPrefix(tb),
		func(invoiceID string) *db.PaypalTicketBookingTransaction {
			return &db.PaypalTicketBookingTransaction{
				PaymentTransaction: db.PaymentTransaction{InvoiceID: invoiceID},
				TicketBookingID:    tb.ID,
			}
		},
	)
}
