package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"studiobook/util"
	"sync"

	"github.com/hibiken/asynq"
)

// Task distributor interface
type TaskDistributor interface {
	DistributeTask(ctx context.Context, taskName string, payload any, opts ...asynq.Option) error
	Close() error
}

// Redis task distributor
type RedisTaskDistributor struct {
	client *asynq.Client
}

// Constructor method for Redis task distributor
func NewRedisTaskDistributor(redisOpt asynq.RedisClientOpt) TaskDistributor {
	return &RedisTaskDistributor{
		client: asynq.NewClient(redisOpt),
	}
}

// Build the asynq task of a payload
func NewTask(name string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return asynq.NewTask(name, data, opts...), nil
}

// Distribute task.
// `name` should be unique since it's used to identify task
func (distributor *RedisTaskDistributor) DistributeTask(ctx context.Context, name string, payload any, opts ...asynq.Option) error {
	task, err := NewTask(name, payload, opts...)
	if err != nil {
		return err
	}

	// Send task to Redis queue
	info, err := distributor.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}

	util.LOGGER.Info("task enqueued", "task", name, "id", info.ID, "queue", info.Queue, "max_retry", info.MaxRetry)
	return nil
}

func (distributor *RedisTaskDistributor) Close() error {
	return distributor.client.Close()
}

// RecordingDistributor keeps the tasks instead of queueing them. Used in tests.
type RecordingDistributor struct {
	mu    sync.Mutex
	Tasks []*asynq.Task
}

func (distributor *RecordingDistributor) DistributeTask(ctx context.Context, name string, payload any, opts ...asynq.Option) error {
	task, err := NewTask(name, payload, opts...)
	if err != nil {
		return err
	}
	distributor.mu.Lock()
	defer distributor.mu.Unlock()
	distributor.Tasks = append(distributor.Tasks, task)
	return nil
}

func (distributor *RecordingDistributor) Close() error {
	return nil
}
