package timetable

import (
	"context"
	"errors"
	"fmt"
	"studiobook/db"
	"studiobook/util"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ThisWeek = "this"
	NextWeek = "next"
)

var ErrInvalidWeek = errors.New(`week must be "this" or "next"`)

// Service turning the weekly timetable into dated classes
type Service struct {
	db *gorm.DB
}

func NewService(conn *gorm.DB) *Service {
	return &Service{db: conn}
}

// Result of materializing sessions
type Result struct {
	Created  []db.Event  `json:"created"`
	Existing []db.Event  `json:"existing"`
	Days     []DayResult `json:"days,omitempty"`
}

type DayResult struct {
	Date     string `json:"date"`
	Created  int    `json:"created"`
	Existing int    `json:"existing"`
}

// Days since Monday
func weekdayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Event a session produces on the given day
func eventFor(session *db.Session, date time.Time) (*db.Event, error) {
	start, err := db.ParseSessionTime(session.Time)
	if err != nil {
		return nil, err
	}
	date = day(date).Add(time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute)

	return &db.Event{
		Name:                   session.Name,
		EventTypeID:            session.EventTypeID,
		Description:            session.Description,
		Date:                   date,
		Location:               session.Location,
		MaxParticipants:        session.MaxParticipants,
		Cost:                   session.Cost,
		AdvancePaymentRequired: session.AdvancePaymentRequired,
		BookingOpen:            session.BookingOpen,
		PaymentOpen:            session.PaymentOpen,
		PaymentInfo:            session.PaymentInfo,
		PaymentTimeAllowed:     session.PaymentTimeAllowed,
		CancellationPeriod:     session.CancellationPeriod,
		ExternalInstructor:     session.ExternalInstructor,
		PaypalEmail:            session.PaypalEmail,
	}, nil
}

// Get or create the event of a session on a day, keyed by name, event type and date
func materialize(tx *gorm.DB, session *db.Session, date time.Time) (*db.Event, bool, error) {
	event, err := eventFor(session, date)
	if err != nil {
		return nil, false, err
	}

	var existing db.Event
	err = tx.Where("name = ? AND event_type_id = ? AND date = ?", event.Name, event.EventTypeID, event.Date).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	if err := tx.Omit(clause.Associations).Create(event).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create %s: %w", event.Name, err)
	}
	return event, true, nil
}

func (service *Service) sessions(tx *gorm.DB, ids []uint) ([]db.Session, error) {
	var sessions []db.Session
	q := tx.Order("day").Order("time")
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}

// CreateClasses creates a week of classes, Monday to Sunday, from every timetable session.
// The week is the one containing date, or the one after for week = "next".
// Classes already there are left alone, so running it twice creates nothing new.
func (service *Service) CreateClasses(ctx context.Context, week string, date time.Time) (*Result, error) {
	switch week {
	case ThisWeek:
	case NextWeek:
		date = date.AddDate(0, 0, 7)
	default:
		return nil, ErrInvalidWeek
	}
	monday := day(date).AddDate(0, 0, -weekdayOffset(date))

	result := &Result{}
	err := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions, err := service.sessions(tx, nil)
		if err != nil {
			return err
		}

		for i := range sessions {
			offset, err := sessions[i].Day.Offset()
			if err != nil {
				return err
			}
			event, created, err := materialize(tx, &sessions[i], monday.AddDate(0, 0, offset))
			if err != nil {
				return err
			}
			if created {
				result.Created = append(result.Created, *event)
			} else {
				result.Existing = append(result.Existing, *event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.LOGGER.Info("classes created", "week", week, "monday", monday.Format(time.DateOnly),
		"created", len(result.Created), "existing", len(result.Existing))
	return result, nil
}

// UploadTimetable creates the classes of the selected sessions (all of them when none are given)
// for every day from start to end, inclusive
func (service *Service) UploadTimetable(ctx context.Context, start, end time.Time, sessionIDs []uint) (*Result, error) {
	start, end = day(start), day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	result := &Result{}
	err := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions, err := service.sessions(tx, sessionIDs)
		if err != nil {
			return err
		}

		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			summary := DayResult{Date: d.Format(time.DateOnly)}
			for i := range sessions {
				offset, err := sessions[i].Day.Offset()
				if err != nil {
					return err
				}
				if offset != weekdayOffset(d) {
					continue
				}

				event, created, err := materialize(tx, &sessions[i], d)
				if err != nil {
					return err
				}
				if created {
					summary.Created++
					result.Created = append(result.Created, *event)
				} else {
					summary.Existing++
					result.Existing = append(result.Existing, *event)
				}
			}
			result.Days = append(result.Days, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
