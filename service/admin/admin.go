package admin

import (
	"context"
	"errors"
	"fmt"
	"studiobook/db"
	"studiobook/service/ledger"
	"studiobook/service/mail"
	"studiobook/service/notify"
	"studiobook/service/worker"
	"studiobook/util"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// Batches above this size go through the worker instead of being sent in the request
const fanOutThreshold = 20

var ErrNoRecipients = errors.New("no users to email")

// Action is one of the bulk actions staff can run: ConfirmSpace, EmailUsers or ReassignBlock
type Action interface {
	action()
}

// Mark bookings paid and confirmed, and tell their users
type ConfirmSpace struct {
	BookingIDs []uint
}

// Email a list of users
type EmailUsers struct {
	UserIDs []uint
	Subject string
	Message string
	From    string // Defaults to the studio from address
	CC      bool   // Send one copy to the sender
}

// Pay a booking with another block of its user
type ReassignBlock struct {
	BookingID uint
	BlockID   uint
}

func (ConfirmSpace) action()  {}
func (EmailUsers) action()    {}
func (ReassignBlock) action() {}

type Result struct {
	Affected int      `json:"affected"`
	Queued   bool     `json:"queued,omitempty"`
	Messages []string `json:"messages"`
}

type Service struct {
	db          *gorm.DB
	ledger      *ledger.Service
	notifier    *notify.Notifier
	distributor worker.TaskDistributor // nil sends every email in the request
}

func NewService(conn *gorm.DB, ledger *ledger.Service, notifier *notify.Notifier, distributor worker.TaskDistributor) *Service {
	return &Service{db: conn, ledger: ledger, notifier: notifier, distributor: distributor}
}

// Run an action
func (service *Service) Run(ctx context.Context, action Action) (*Result, error) {
	switch a := action.(type) {
	case ConfirmSpace:
		return service.confirmSpace(ctx, a)
	case EmailUsers:
		return service.emailUsers(ctx, a)
	case ReassignBlock:
		return service.reassignBlock(ctx, a)
	default:
		return nil, fmt.Errorf("unknown admin action %T", action)
	}
}

func (service *Service) log(ctx context.Context, format string, args ...any) error {
	return service.db.WithContext(ctx).Create(&db.ActivityLog{Log: fmt.Sprintf(format, args...)}).Error
}

func (service *Service) confirmSpace(ctx context.Context, a ConfirmSpace) (*Result, error) {
	result := &Result{}
	for _, id := range a.BookingIDs {
		booking, err := service.ledger.ConfirmSpace(ctx, id)
		if err != nil {
			return result, err
		}
		result.Affected++

		event := booking.Event.Name
		err = service.notifier.SendTemplate(ctx,
			[]string{booking.User.Email},
			service.notifier.Subject("Space for %s confirmed", event),
			notify.SpaceConfirmed,
			notify.SpaceConfirmedData{UserName: booking.User.FullName(), Event: booking.Event.String()},
		)
		if err != nil {
			util.LOGGER.Warn("failed to email space confirmation", "booking_id", id, "error", err)
			result.Messages = append(result.Messages, fmt.Sprintf("Booking id %d confirmed but the email to %s failed", id, booking.User.Email))
		}

		if err := service.log(ctx, "Space confirmed manually for Booking id %d (user %s) for event %s",
			booking.ID, booking.User.Username, event); err != nil {
			return result, err
		}
		result.Messages = append(result.Messages, fmt.Sprintf("Space for %s confirmed for %s", event, booking.User.Username))
	}
	return result, nil
}

func (service *Service) emailUsers(ctx context.Context, a EmailUsers) (*Result, error) {
	var users []db.User
	if len(a.UserIDs) > 0 {
		if err := service.db.WithContext(ctx).Where("id IN ?", a.UserIDs).Order("id").Find(&users).Error; err != nil {
			return nil, err
		}
	}
	if len(users) == 0 {
		return nil, ErrNoRecipients
	}

	from := a.From
	if from == "" {
		from = service.notifier.Settings.From
	}
	recipients := make([]string, 0, len(users)+1)
	for _, user := range users {
		recipients = append(recipients, user.Email)
	}
	// The sender gets a single copy
	if a.CC {
		recipients = append(recipients, from)
	}

	messages := make([]mail.Message, len(recipients))
	for i, to := range recipients {
		messages[i] = mail.Message{
			From:    from,
			To:      []string{to},
			Subject: service.notifier.Subject("%s", a.Subject),
			Text:    a.Message,
		}
	}

	result := &Result{Affected: len(users)}
	if service.distributor != nil && len(messages) > fanOutThreshold {
		for _, msg := range messages {
			err := service.distributor.DistributeTask(ctx, worker.SendEmail, worker.SendEmailPayload{Message: msg}, asynq.MaxRetry(5))
			if err != nil {
				return result, fmt.Errorf("failed to queue email to %s: %w", msg.To[0], err)
			}
		}
		result.Queued = true
		result.Messages = append(result.Messages, fmt.Sprintf("%d emails queued", len(messages)))
	} else {
		for _, msg := range messages {
			if err := service.notifier.Send(ctx, msg); err != nil {
				return result, fmt.Errorf("failed to email %s: %w", msg.To[0], err)
			}
		}
		result.Messages = append(result.Messages, fmt.Sprintf("%d emails sent", len(messages)))
	}

	if err := service.log(ctx, "Bulk email with subject %q sent to %d users", a.Subject, len(users)); err != nil {
		return result, err
	}
	return result, nil
}

func (service *Service) reassignBlock(ctx context.Context, a ReassignBlock) (*Result, error) {
	booking, err := service.ledger.AssignBlock(ctx, a.BookingID, a.BlockID)
	if err != nil {
		return nil, err
	}
	if err := service.log(ctx, "Booking id %d (user %s) for event %s paid with block id %d",
		booking.ID, booking.User.Username, booking.Event.Name, a.BlockID); err != nil {
		return nil, err
	}
	return &Result{
		Affected: 1,
		Messages: []string{fmt.Sprintf("Block id %d assigned to booking id %d", a.BlockID, booking.ID)},
	}, nil
}
