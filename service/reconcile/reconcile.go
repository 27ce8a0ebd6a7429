package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"studiobook/db"
	"studiobook/service/invoice"
	"studiobook/service/metrics"
	"studiobook/service/notify"
	"studiobook/service/paypal"
	"studiobook/util"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Object types of the custom field
const (
	TypeBooking       = "booking"
	TypeBlock         = "block"
	TypeTicketBooking = "ticket_booking"
)

var titles = map[string]string{
	TypeBooking:       "Booking",
	TypeBlock:         "Block",
	TypeTicketBooking: "Ticket Booking",
}

const lockTTL = 30 * time.Second

// Another delivery of the same notification is being processed
var ErrInFlight = errors.New("notification already being processed")

// TransactionError: the notification doesn't point at anything we can reconcile
type TransactionError struct {
	Msg string
}

func (e *TransactionError) Error() string {
	return e.Msg
}

type Settings struct {
	ReceiverEmail string // Business email when the payable has none of its own
}

// Reconciler applies payment notifications to bookings, blocks and ticket bookings
type Reconciler struct {
	queries  *db.Queries
	notifier *notify.Notifier
	verifier paypal.Verifier // nil skips the postback
	settings Settings
}

func NewReconciler(queries *db.Queries, notifier *notify.Notifier, verifier paypal.Verifier, settings Settings) *Reconciler {
	return &Reconciler{
		queries:  queries,
		notifier: notifier,
		verifier: verifier,
		settings: settings,
	}
}

// Transaction record of any payable
type record interface {
	invoice.Record
	SetTransactionID(id string)
}

// What a notification pays for, decoded from its custom field
type payable struct {
	objType     string
	id          uint
	voucher     string
	user        *db.User
	item        string
	paypalEmail string

	booking       *db.Booking
	block         *db.Block
	ticketBooking *db.TicketBooking
}

func (p *payable) title() string {
	return titles[p.objType]
}

func missing(err error, name string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &TransactionError{Msg: fmt.Sprintf("%s with id %d does not exist", name, id)}
	}
	return err
}

// Decode "<type> <id> [voucher code]"
func (reconciler *Reconciler) decode(conn *gorm.DB, custom string) (*payable, error) {
	unknown := &TransactionError{Msg: "Unknown object type for payment"}

	parts := strings.Fields(custom)
	if len(parts) < 2 {
		return nil, unknown
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, unknown
	}

	p := &payable{objType: parts[0], id: uint(id)}
	if len(parts) > 2 {
		p.voucher = parts[2]
	}

	switch p.objType {
	case TypeBooking:
		var booking db.Booking
		if err := conn.Preload("Event").Preload("User").First(&booking, p.id).Error; err != nil {
			return nil, missing(err, "Booking", p.id)
		}
		p.booking, p.user = &booking, &booking.User
		p.item, p.paypalEmail = booking.Event.String(), booking.Event.PaypalEmail
	case TypeBlock:
		var block db.Block
		if err := conn.Preload("User").Preload("BlockType.EventType").First(&block, p.id).Error; err != nil {
			return nil, missing(err, "Block", p.id)
		}
		p.block, p.user = &block, &block.User
		p.item, p.paypalEmail = block.String(), block.BlockType.PaypalEmail
	case TypeTicketBooking:
		var tb db.TicketBooking
		if err := conn.Preload("User").Preload("TicketedEvent").First(&tb, p.id).Error; err != nil {
			return nil, missing(err, "Ticket Booking", p.id)
		}
		p.ticketBooking, p.user = &tb, &tb.User
		p.item, p.paypalEmail = tb.String(), tb.TicketedEvent.PaypalEmail
	default:
		return nil, unknown
	}

	if p.paypalEmail == "" {
		p.paypalEmail = reconciler.settings.ReceiverEmail
	}
	return p, nil
}

// Pick the transaction record the notification belongs to:
// none yet -> create one, several -> the one with the notification's invoice, else the latest
func lookup[T any, P interface {
	*T
	record
}](conn *gorm.DB, column string, id uint, invoiceID string, create func() (P, error)) (P, error) {
	var records []T
	if err := conn.Where(column+" = ?", id).Order("id DESC").Find(&records).Error; err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return create()
	}
	if len(records) > 1 && invoiceID != "" {
		for i := range records {
			if P(&records[i]).GetInvoiceID() == invoiceID {
				return P(&records[i]), nil
			}
		}
	}
	return P(&records[0]), nil
}

func (reconciler *Reconciler) transaction(ctx context.Context, tx *gorm.DB, p *payable, invoiceID string) (record, error) {
	switch p.objType {
	case TypeBooking:
		return lookup(tx, "booking_id", p.id, invoiceID, func() (*db.PaypalBookingTransaction, error) {
			return invoice.ForBooking(ctx, tx, p.booking)
		})
	case TypeBlock:
		return lookup(tx, "block_id", p.id, invoiceID, func() (*db.PaypalBlockTransaction, error) {
			return invoice.ForBlock(ctx, tx, p.block)
		})
	default:
		return lookup(tx, "ticket_booking_id", p.id, invoiceID, func() (*db.PaypalTicketBookingTransaction, error) {
			return invoice.ForTicketBooking(ctx, tx, p.ticketBooking)
		})
	}
}

// Flip the paid flags of the payable
func (p *payable) setPaid(tx *gorm.DB, paid bool) error {
	switch {
	case p.booking != nil:
		p.booking.Paid = paid
		p.booking.PaymentConfirmed = paid
		if paid {
			now := db.Now()
			p.booking.DatePaymentConfirmed = &now
		}
		return tx.Omit(clause.Associations).Save(p.booking).Error
	case p.block != nil:
		p.block.Paid = paid
		return tx.Omit(clause.Associations).Save(p.block).Error
	default:
		p.ticketBooking.Paid = paid
		return tx.Omit(clause.Associations).Save(p.ticketBooking).Error
	}
}

func activity(tx *gorm.DB, format string, args ...any) error {
	return tx.Create(&db.ActivityLog{Log: fmt.Sprintf(format, args...)}).Error
}

// Receive verifies, stores and processes a notification.
// Concurrent deliveries of the same transaction and status are serialized with a Redis lock.
func (reconciler *Reconciler) Receive(ctx context.Context, n *db.PaymentNotification) error {
	key := fmt.Sprintf("ipn:%s:%s", n.TxnID, n.PaymentStatus)
	acquired, err := reconciler.queries.AcquireLock(ctx, key, lockTTL)
	if err != nil {
		util.LOGGER.Warn("failed to take notification lock, processing without it", "key", key, "error", err)
	} else if !acquired {
		metrics.PaymentNotifications.WithLabelValues(string(n.Source), string(n.PaymentStatus), "in_flight").Inc()
		return ErrInFlight
	} else {
		defer func() {
			if err := reconciler.queries.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
				util.LOGGER.Warn("failed to release notification lock", "key", key, "error", err)
			}
		}()
	}

	reconciler.verify(ctx, n)
	if err := reconciler.queries.DB.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to store payment notification: %w", err)
	}
	return reconciler.Process(ctx, n)
}

// Flag notifications that fail the postback, repeat an already processed transaction, or were paid
// to someone else
func (reconciler *Reconciler) verify(ctx context.Context, n *db.PaymentNotification) {
	conn := reconciler.queries.DB.WithContext(ctx)
	var flags []string

	if n.Source == db.SourcePaypal && reconciler.verifier != nil {
		if err := reconciler.verifier.Verify(ctx, n.Query); err != nil {
			flags = append(flags, fmt.Sprintf("Invalid postback. (%s)", err))
		}
	}

	if n.TxnID != "" {
		var count int64
		err := conn.Model(&db.PaymentNotification{}).
			Where("source = ? AND txn_id = ? AND payment_status = ? AND flag = ?", n.Source, n.TxnID, n.PaymentStatus, false).
			Count(&count).Error
		if err != nil {
			util.LOGGER.Warn("failed to check duplicate txn_id", "txn_id", n.TxnID, "error", err)
		} else if count > 0 {
			flags = append(flags, fmt.Sprintf("Duplicate txn_id. (%s)", n.TxnID))
		}
	}

	if n.Source == db.SourcePaypal {
		if p, err := reconciler.decode(conn, n.Custom); err == nil && p.paypalEmail != "" &&
			!strings.EqualFold(strings.TrimSpace(n.ReceiverEmail), p.paypalEmail) {
			flags = append(flags, fmt.Sprintf("Invalid receiver_email. (%s)", n.ReceiverEmail))
		}
	}

	n.Flag = len(flags) > 0
	n.FlagInfo = strings.Join(flags, " ")
}

// Process applies a stored notification. Every failure is logged and emailed to support before
// being returned, the caller only needs to log it.
func (reconciler *Reconciler) Process(ctx context.Context, n *db.PaymentNotification) (err error) {
	start := time.Now()
	outcome := "ignored"
	defer func() {
		metrics.PaymentNotifications.WithLabelValues(string(n.Source), string(n.PaymentStatus), outcome).Inc()
		metrics.ReconcileDuration.WithLabelValues(string(n.Source)).Observe(time.Since(start).Seconds())
	}()

	conn := reconciler.queries.DB.WithContext(ctx)
	p, decodeErr := reconciler.decode(conn, n.Custom)

	if n.Flag {
		outcome = "invalid"
		reconciler.invalid(ctx, n, p, decodeErr)
		return decodeErr
	}

	if decodeErr != nil {
		outcome = "decode_error"
		util.LOGGER.Error("failed to decode payment notification", "txn_id", n.TxnID, "custom", n.Custom, "error", decodeErr)
		reconciler.notifier.WarnSupport(ctx,
			"WARNING! Error processing PayPal IPN",
			fmt.Sprintf(
				"Valid Payment Notification received from PayPal but an error occurred during processing.\n\n"+
					"Transaction id %s\n\nThe flag info was \"%s\"\n\nError raised: %s",
				n.TxnID, n.FlagInfo, decodeErr,
			),
		)
		return decodeErr
	}

	var invoiceID string
	switch n.PaymentStatus {
	case db.StatusCompleted:
		outcome = "completed"
		invoiceID, err = reconciler.completed(ctx, n, p)
	case db.StatusRefunded:
		outcome = "refunded"
		invoiceID, err = reconciler.refunded(ctx, n, p)
	default:
		util.LOGGER.Info("payment notification status not handled", "txn_id", n.TxnID, "status", n.PaymentStatus)
		return nil
	}

	if err != nil {
		outcome = "failed"
		if invoiceID == "" {
			invoiceID = n.Invoice
		}
		util.LOGGER.Warn("failed to process payment notification", "txn_id", n.TxnID, "type", p.objType, "id", p.id, "error", err)
		reconciler.notifier.WarnSupport(ctx,
			reconciler.notifier.Subject("There was some problem processing payment for %s id %d", p.objType, p.id),
			fmt.Sprintf(
				"Please check your booking and paypal records for invoice # %s, paypal transaction id %s.\n\n"+
					"The exception raised was \"%s\"",
				invoiceID, n.TxnID, err,
			),
		)
	}
	return err
}

func (reconciler *Reconciler) paymentData(n *db.PaymentNotification, p *payable, invoiceID string) notify.PaymentData {
	return notify.PaymentData{
		UserName:    p.user.FullName(),
		ObjType:     p.title(),
		ObjID:       p.id,
		Item:        p.item,
		InvoiceID:   invoiceID,
		TxnID:       n.TxnID,
		PaypalEmail: p.paypalEmail,
	}
}

// Completed payments commit the paid state first. Emails, the voucher and the invoice back-fill
// run after it and their failures are returned together, none of them undo the payment.
func (reconciler *Reconciler) completed(ctx context.Context, n *db.PaymentNotification, p *payable) (string, error) {
	var invoiceID string
	var rec record
	err := reconciler.queries.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if rec, err = reconciler.transaction(ctx, tx, p, n.Invoice); err != nil {
			return err
		}
		invoiceID = rec.GetInvoiceID()

		// Paid first, the transaction id marks the record as used
		if err := p.setPaid(tx, true); err != nil {
			return err
		}
		rec.SetTransactionID(n.TxnID)
		if err := tx.Omit(clause.Associations).Save(rec).Error; err != nil {
			return err
		}

		return activity(tx, "%s id %d for user %s paid by %s; %s transaction id %s, invoice id %s",
			p.title(), p.id, p.user.Username, n.Source, n.Source, n.TxnID, invoiceID)
	})
	if err != nil {
		return invoiceID, err
	}

	var errs []error
	data := reconciler.paymentData(n, p, invoiceID)
	subject := reconciler.notifier.Subject("Payment processed for %s id %d", p.objType, p.id)
	settings := reconciler.notifier.Settings

	if settings.SendAllStudioEmails {
		err := reconciler.notifier.SendTemplate(ctx, []string{settings.StudioEmail}, subject, notify.PaymentProcessedStudio, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to email studio: %w", err))
		}
	}
	if err := reconciler.notifier.SendTemplate(ctx, []string{p.user.Email}, subject, notify.PaymentProcessedUser, data); err != nil {
		errs = append(errs, fmt.Errorf("failed to email %s: %w", p.user.Email, err))
	}

	if p.voucher != "" {
		err := reconciler.queries.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return reconciler.useVoucher(tx, p, rec)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if n.Invoice == "" {
		n.Invoice = invoiceID
		if err := reconciler.queries.DB.WithContext(ctx).Model(n).Update("invoice", invoiceID).Error; err != nil {
			errs = append(errs, err)
		}
		reconciler.notifier.WarnSupport(ctx,
			reconciler.notifier.Subject("No invoice number on paypal ipn for %s id %d", p.objType, p.id),
			fmt.Sprintf(
				"Please check booking and paypal records for paypal transaction id %s.  "+
					"No invoice number on paypal IPN.  Invoice number has been set to %s.",
				n.TxnID, invoiceID,
			),
		)
	}
	return invoiceID, errors.Join(errs...)
}

func (reconciler *Reconciler) useVoucher(tx *gorm.DB, p *payable, rec record) error {
	var voucher db.Voucher
	if err := tx.Where("code = ?", p.voucher).First(&voucher).Error; err != nil {
		return db.NotFound(err, "voucher %s", p.voucher)
	}
	if err := tx.Model(&voucher).Association("Users").Append(p.user); err != nil {
		return err
	}

	if bt, ok := rec.(*db.PaypalBookingTransaction); ok {
		bt.VoucherCode = &p.voucher
		if err := tx.Omit(clause.Associations).Save(bt).Error; err != nil {
			return err
		}
	}
	return activity(tx, "Voucher code %s used for %s id %d by user %s", p.voucher, p.title(), p.id, p.user.Username)
}

func (reconciler *Reconciler) refunded(ctx context.Context, n *db.PaymentNotification, p *payable) (string, error) {
	var invoiceID string
	err := reconciler.queries.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := reconciler.transaction(ctx, tx, p, n.Invoice)
		if err != nil {
			return err
		}
		invoiceID = rec.GetInvoiceID()

		if err := p.setPaid(tx, false); err != nil {
			return err
		}
		return activity(tx, "%s id %d for user %s has been refunded from %s; %s transaction id %s, invoice id %s",
			p.title(), p.id, p.user.Username, n.Source, n.Source, n.TxnID, invoiceID)
	})
	if err != nil {
		return invoiceID, err
	}

	settings := reconciler.notifier.Settings
	if !settings.SendAllStudioEmails {
		return invoiceID, nil
	}
	err = reconciler.notifier.SendTemplate(ctx,
		[]string{settings.StudioEmail, settings.SupportEmail},
		reconciler.notifier.Subject("Payment refund processed for %s id %d", p.objType, p.id),
		notify.RefundProcessed,
		reconciler.paymentData(n, p, invoiceID),
	)
	return invoiceID, err
}

// Flagged notifications change nothing, support is told why
func (reconciler *Reconciler) invalid(ctx context.Context, n *db.PaymentNotification, p *payable, decodeErr error) {
	if decodeErr != nil {
		util.LOGGER.Error("invalid payment notification with an unknown object", "txn_id", n.TxnID, "flag_info", n.FlagInfo, "error", decodeErr)
		reconciler.notifier.WarnSupport(ctx,
			"WARNING! Error processing Invalid Payment Notification from PayPal",
			fmt.Sprintf(
				"PayPal sent an invalid transaction notification while attempting to process payment;.\n\n"+
					"The flag info was \"%s\"\n\nAn additional error was raised: %s",
				n.FlagInfo, decodeErr,
			),
		)
		return
	}

	util.LOGGER.Warn("invalid payment notification", "txn_id", n.TxnID, "type", p.objType, "id", p.id, "flag_info", n.FlagInfo)
	reconciler.notifier.WarnSupport(ctx,
		"WARNING! Invalid Payment Notification received from PayPal",
		fmt.Sprintf(
			"PayPal sent an invalid transaction notification while attempting to process payment for %s id %d.\n\n"+
				"The flag info was \"%s\"",
			p.title(), p.id, n.FlagInfo,
		),
	)
}
