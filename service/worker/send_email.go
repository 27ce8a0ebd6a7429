package worker

import (
	"context"
	"fmt"
	"studiobook/service/mail"
	"studiobook/util"

	"github.com/hibiken/asynq"
)

type SendEmailPayload struct {
	Message mail.Message `json:"message"`
}

const SendEmail = "send-email"

func (processor *RedisTaskProcessor) HandleSendEmail(ctx context.Context, task *asynq.Task) error {
	var payload SendEmailPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	if len(payload.Message.To) == 0 {
		return fmt.Errorf("email %q has no recipient: %w", payload.Message.Subject, asynq.SkipRetry)
	}

	if err := processor.notifier.Send(ctx, payload.Message); err != nil {
		return err
	}
	util.LOGGER.Info("background log", "task", SendEmail, "to", payload.Message.To[0], "subject", payload.Message.Subject)
	return nil
}
