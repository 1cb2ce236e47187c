// Package notify delivers asynchronous order notifications through a
// Redis-backed task queue, decoupling checkout latency from outbound
// delivery.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Task type names.
const (
	TaskOrderConfirmation = "order:confirmation"
	TaskOrderPaid         = "order:paid"
	TaskOrderRTS          = "order:rts"
)

// OrderPayload is the task payload for order notifications.
type OrderPayload struct {
	OrderKey common.Key `json:"order_key"`
	OrderUID string     `json:"order_uid"`
	Email    string     `json:"email,omitempty"`
}

// Enqueuer submits notification tasks.
type Enqueuer struct {
	client *asynq.Client
	log    zerolog.Logger
}

// NewEnqueuer builds an enqueuer over the asynq client.
func NewEnqueuer(client *asynq.Client, log zerolog.Logger) *Enqueuer {
	return &Enqueuer{client: client, log: log}
}

// Enqueue submits one order notification task. Delivery failures are
// retried by the queue, not by the caller.
func (e *Enqueuer) Enqueue(ctx context.Context, taskType string, payload OrderPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskType, raw)
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return err
	}
	e.log.Debug().Str("task", taskType).Str("id", info.ID).Str("order", payload.OrderKey.String()).Msg("notification enqueued")
	return nil
}

// Sender delivers a rendered notification. The default logs the
// delivery; deployments plug in their mail transport here.
type Sender interface {
	Send(ctx context.Context, taskType string, payload OrderPayload) error
}

// LogSender writes notifications to the log instead of delivering
// them. Useful for development and as a safe default.
type LogSender struct {
	Log zerolog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, taskType string, payload OrderPayload) error {
	s.Log.Info().
		Str("task", taskType).
		Str("order", payload.OrderKey.String()).
		Str("order_uid", payload.OrderUID).
		Str("email", payload.Email).
		Msg("order notification")
	return nil
}

// NewMux builds the asynq handler mux for the worker process.
func NewMux(sender Sender, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	handler := func(ctx context.Context, task *asynq.Task) error {
		var payload OrderPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			log.Error().Err(err).Str("task", task.Type()).Msg("malformed notification payload")
			return err
		}
		return sender.Send(ctx, task.Type(), payload)
	}
	mux.HandleFunc(TaskOrderConfirmation, handler)
	mux.HandleFunc(TaskOrderPaid, handler)
	mux.HandleFunc(TaskOrderRTS, handler)
	return mux
}
