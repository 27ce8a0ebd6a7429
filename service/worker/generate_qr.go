package worker

import (
	"context"
	"studiobook/db"
	"studiobook/util"

	"github.com/hibiken/asynq"
)

type PublishTicketQRPayload struct {
	TicketBookingID uint   `json:"ticket_booking_id"`
	CheckInURL      string `json:"checkin_url"` // Encoded in the QR code
}

const PublishTicketQR = "publish-ticket-qr"

// Generate the QR code of a ticket booking, upload it and keep its URL on the booking
func (processor *RedisTaskProcessor) HandlePublishTicketQR(ctx context.Context, task *asynq.Task) error {
	var payload PublishTicketQRPayload
	if err := decode(task, &payload); err != nil {
		return err
	}

	conn := processor.queries.DB.WithContext(ctx)
	var tb db.TicketBooking
	if err := conn.First(&tb, payload.TicketBookingID).Error; err != nil {
		return db.NotFound(err, "ticket booking %d", payload.TicketBookingID)
	}

	png, err := util.GenerateQR(payload.CheckInURL)
	if err != nil {
		return err
	}
	url, err := processor.uploader.UploadImage(ctx, tb.BookingReference, png)
	if err != nil {
		return err
	}

	if err := conn.Model(&tb).UpdateColumn("qr_code_url", url).Error; err != nil {
		return err
	}
	util.LOGGER.Info("background log", "task", PublishTicketQR, "ticket_booking_id", tb.ID)
	return nil
}
