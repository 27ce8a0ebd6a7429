package worker

import (
	"context"
	"studiobook/db"
	"studiobook/service/timetable"
	"studiobook/util"
	"time"

	"github.com/hibiken/asynq"
)

const (
	CancelUnpaidBookings = "cancel-unpaid-bookings"
	CreateWeeklyClasses  = "create-weekly-classes"
)

type CreateWeeklyClassesPayload struct {
	Week string `json:"week"`           // this or next, defaults to next
	Date string `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
}

func (processor *RedisTaskProcessor) HandleCancelUnpaidBookings(ctx context.Context, task *asynq.Task) error {
	cancelled, err := processor.sweep.CancelUnpaidBookings(ctx, db.Now())
	if err != nil {
		return err
	}
	util.LOGGER.Info("background log", "task", CancelUnpaidBookings, "cancelled", len(cancelled))
	return nil
}

func (processor *RedisTaskProcessor) HandleCreateWeeklyClasses(ctx context.Context, task *asynq.Task) error {
	payload := CreateWeeklyClassesPayload{Week: timetable.NextWeek}
	if err := decode(task, &payload); err != nil {
		return err
	}

	date := db.Now()
	if payload.Date != "" {
		var err error
		if date, err = time.Parse(time.DateOnly, payload.Date); err != nil {
			return err
		}
	}

	result, err := processor.timetable.CreateClasses(ctx, payload.Week, date)
	if err != nil {
		return err
	}
	util.LOGGER.Info("background log", "task", CreateWeeklyClasses, "created", len(result.Created), "existing", len(result.Existing))
	return nil
}

// NewScheduler enqueues the periodic tasks: the unpaid booking sweep and next week's classes
func NewScheduler(redisOpt asynq.RedisClientOpt, sweepCron, timetableCron string) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})

	if _, err := scheduler.Register(sweepCron, asynq.NewTask(CancelUnpaidBookings, nil, asynq.MaxRetry(1))); err != nil {
		return nil, err
	}

	task, err := NewTask(CreateWeeklyClasses, CreateWeeklyClassesPayload{Week: timetable.NextWeek})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(timetableCron, task); err != nil {
		return nil, err
	}
	return scheduler, nil
}
