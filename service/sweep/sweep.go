package sweep

import (
	"context"
	"fmt"
	"studiobook/db"
	"studiobook/db/query"
	"studiobook/service/metrics"
	"studiobook/service/notify"
	"studiobook/util"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service cancelling bookings that were not paid in time
type Service struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

func NewService(conn *gorm.DB, notifier *notify.Notifier) *Service {
	return &Service{db: conn, notifier: notifier}
}

// CancelUnpaidBookings cancels open, unpaid bookings on upcoming events that require advance payment
// once the cancellation period or the payment due date has passed.
// Each user is emailed, then the studio gets one digest. A failed user email doesn't stop the sweep.
func (service *Service) CancelUnpaidBookings(ctx context.Context, now time.Time) ([]db.Booking, error) {
	conn := service.db.WithContext(ctx)
	bookings, err := query.UnpaidBookingsToCancel(ctx, conn, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid bookings: %w", err)
	}

	cancelled := make([]db.Booking, 0, len(bookings))
	for i := range bookings {
		booking := &bookings[i]
		event := booking.Event

		data := notify.BookingCancelledData{
			UserName:           booking.User.FullName(),
			Event:              event.String(),
			CancellationPeriod: util.FormatCancellation(event.CancellationPeriod),
		}
		if event.PaymentDueDate != nil && event.PaymentDueDate.Before(now) {
			data.DueDate = event.PaymentDueDate.Format("Monday 02 January")
		}
		err := service.notifier.SendTemplate(ctx,
			[]string{booking.User.Email},
			service.notifier.Subject("Booking cancelled: %s", event.Name),
			notify.BookingCancelled,
			data,
		)
		if err != nil {
			util.LOGGER.Warn("failed to email cancelled booking", "task", "cancel-unpaid-bookings", "booking_id", booking.ID, "error", err)
		}

		booking.Status = db.BookingCancelled
		booking.BlockID = nil
		err = conn.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit(clause.Associations).Save(booking).Error; err != nil {
				return err
			}
			return tx.Create(&db.ActivityLog{Log: fmt.Sprintf(
				"Booking id %d for event %s, user %s has been automatically cancelled",
				booking.ID, event.String(), booking.User.Username,
			)}).Error
		})
		if err != nil {
			return cancelled, fmt.Errorf("failed to cancel booking %d: %w", booking.ID, err)
		}

		metrics.BookingsAutoCancelled.Inc()
		cancelled = append(cancelled, *booking)
	}

	if len(cancelled) == 0 {
		util.LOGGER.Info("no bookings to cancel", "task", "cancel-unpaid-bookings")
		return cancelled, nil
	}

	lines := make([]string, len(cancelled))
	for i, booking := range cancelled {
		lines[i] = fmt.Sprintf("%s - %s", booking.User.FullName(), booking.Event.String())
	}
	subject := "Booking has been automatically cancelled"
	if len(cancelled) > 1 {
		subject = "Bookings have been automatically cancelled"
	}
	err = service.notifier.SendTemplate(ctx,
		[]string{service.notifier.Settings.StudioEmail},
		service.notifier.Subject("%s", subject),
		notify.BookingsCancelledStudio,
		notify.BookingsCancelledData{Bookings: lines},
	)
	if err != nil {
		util.LOGGER.Warn("failed to email the studio cancellation digest", "task", "cancel-unpaid-bookings", "error", err)
	}
	return cancelled, nil
}
