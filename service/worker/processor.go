package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"studiobook/db"
	"studiobook/service/notify"
	"studiobook/service/sweep"
	"studiobook/service/timetable"
	"studiobook/service/uploader"
	"studiobook/util"

	"github.com/hibiken/asynq"
)

// Task processor interface
type TaskProcessor interface {
	Start() error
	Shutdown()
}

// Redis task processor
type RedisTaskProcessor struct {
	// Asynq server
	server *asynq.Server

	// Dependencies
	queries   *db.Queries
	notifier  *notify.Notifier
	sweep     *sweep.Service
	timetable *timetable.Service
	uploader  uploader.Uploader
}

// Constructor method for Redis task processor
func NewRedisTaskProcessor(
	redisOpts asynq.RedisClientOpt,
	concurrency int,
	queries *db.Queries,
	notifier *notify.Notifier,
	uploader uploader.Uploader,
) TaskProcessor {
	processor := newProcessor(queries, notifier, uploader)
	processor.server = asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			util.LOGGER.Error("background task failed", "task", task.Type(), "error", err)
		}),
	})
	return processor
}

func newProcessor(queries *db.Queries, notifier *notify.Notifier, uploader uploader.Uploader) *RedisTaskProcessor {
	return &RedisTaskProcessor{
		queries:   queries,
		notifier:  notifier,
		sweep:     sweep.NewService(queries.DB, notifier),
		timetable: timetable.NewService(queries.DB),
		uploader:  uploader,
	}
}

// Method to start the worker server
func (processor *RedisTaskProcessor) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(SendEmail, processor.HandleSendEmail)
	mux.HandleFunc(CancelUnpaidBookings, processor.HandleCancelUnpaidBookings)
	mux.HandleFunc(CreateWeeklyClasses, processor.HandleCreateWeeklyClasses)
	mux.HandleFunc(PublishTicketQR, processor.HandlePublishTicketQR)

	return processor.server.Start(mux)
}

func (processor *RedisTaskProcessor) Shutdown() {
	processor.server.Shutdown()
}

// Decode the payload of a task. A payload that can't be decoded is never retried.
func decode(task *asynq.Task, payload any) error {
	if len(task.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(task.Payload(), payload); err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}
