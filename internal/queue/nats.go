package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"policy-search/internal/retry"
)

const (
	subjectPrefix      = "tasks."
	groupPrefix        = "workers-"
	defaultMaxAttempts = 5
)

// NewNATS constructs a thin NATS-based queue.
func NewNATS(log *slog.Logger, nc *nats.Conn) Queue {
	return &natsQueue{log: log, nc: nc}
}

type natsQueue struct {
	log *slog.Logger
	nc  *nats.Conn
}

func subject(t TaskType) string { return subjectPrefix + string(t) }

func (q *natsQueue) Enqueue(_ context.Context, task Task) error {
	if task.Type == "" {
		return errors.New("task type required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.nc.Publish(subject(task.Type), body)
}

// Worker consumes taskType in a queue group until ctx is done. Each task is
// delivered to one worker of the group.
func (q *natsQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	sub, err := q.nc.QueueSubscribe(subject(taskType), groupPrefix+string(taskType), func(msg *nats.Msg) {
		q.handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Drain()
}

func (q *natsQueue) handleMessage(ctx context.Context, msg *nats.Msg, handler Handler) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err, "subject", msg.Subject)
		return
	}

	if wait := time.Until(task.NotBefore); wait > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	if err := handler(ctx, task); err != nil {
		q.retryTask(ctx, task, err)
	}
}

func (q *natsQueue) retryTask(ctx context.Context, task Task, handlerErr error) {
	task.Attempts++
	if task.MaxAttempts == 0 {
		task.MaxAttempts = defaultMaxAttempts
	}

	log := q.log.With("id", task.ID, "type", task.Type, "attempts", task.Attempts)
	if task.Attempts >= task.MaxAttempts {
		log.Error("task permanently failed", "original_err", handlerErr)
		return
	}
	task.NotBefore = time.Now().Add(retry.ExponentialBackoff(task.Attempts, time.Second))
	if err := q.Enqueue(ctx, task); err != nil {
		log.Error("failed to re-enqueue task after failure", "original_err", handlerErr, "enqueue_err", err)
		return
	}
	log.Warn("task failed, re-enqueued", "err", handlerErr, "not_before", task.NotBefore)
}
