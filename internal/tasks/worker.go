package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultRetryBackoff    = 2 * time.Second
	defaultRetryBackoffMax = time.Minute
)

type Worker struct {
	queue       Queue
	handlers    map[string]Handler
	maxAttempts int
	backoff     time.Duration
	backoffMax  time.Duration
	logger      *logrus.Entry
}

func NewWorker(queue Queue, maxAttempts int) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		queue:       queue,
		handlers:    make(map[string]Handler),
		maxAttempts: maxAttempts,
		backoff:     defaultRetryBackoff,
		backoffMax:  defaultRetryBackoffMax,
		logger:      logrus.WithField("component", "worker"),
	}
}

// SetRetryBackoff sets the delay before the first retry. It doubles for every
// further attempt up to max.
func (w *Worker) SetRetryBackoff(base, max time.Duration) {
	if base < 0 {
		base = 0
	}
	if max < base {
		max = base
	}
	w.backoff = base
	w.backoffMax = max
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	delay := w.backoff
	for i := 1; i < attempt && delay < w.backoffMax; i++ {
		delay *= 2
	}
	if delay > w.backoffMax {
		delay = w.backoffMax
	}
	return delay
}

func (w *Worker) Handle(taskType string, handler Handler) {
	w.handlers[taskType] = handler
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithField("max_attempts", w.maxAttempts).Info("Worker started")
	for {
		batch, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker stopped")
				return nil
			}
			w.logger.WithError(err).Error("Failed to receive tasks")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, task := range batch {
			w.Process(ctx, task)
		}
	}
}

// Process runs one task and settles it: ack on success or permanent failure,
// re-enqueue with attempt+1 on transient failure until the budget runs out.
// A delayed retry is held until its NotBefore; if ctx ends first the task
// stays unacked and the queue redelivers it.
func (w *Worker) Process(ctx context.Context, task Task) {
	log := w.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"task_type": task.Type,
		"task_key":  task.Key,
		"attempt":   task.Attempt + 1,
	})

	if wait := time.Until(task.NotBefore); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	err := w.run(ctx, task)
	switch {
	case err == nil:
		log.Info("Task completed")
	case IsPermanent(err):
		log.WithError(err).Warn("Task failed permanently, dropping")
	case task.Attempt+1 >= w.maxAttempts:
		log.WithError(err).Error("Task exhausted retries, dropping")
	default:
		retry := task
		retry.ID = ""
		retry.Attempt++
		retry.NotBefore = time.Now().UTC().Add(w.retryDelay(retry.Attempt))
		if enqueueErr := w.queue.Enqueue(ctx, retry); enqueueErr != nil {
			// Leave it unacked so the queue redelivers it.
			log.WithError(enqueueErr).Error("Failed to re-enqueue task")
			return
		}
		log.WithError(err).WithField("retry_at", retry.NotBefore).Warn("Task failed, retry scheduled")
	}

	if ackErr := w.queue.Ack(ctx, task); ackErr != nil {
		log.WithError(ackErr).Error("Failed to ack task")
	}
}

func (w *Worker) run(ctx context.Context, task Task) (err error) {
	handler, ok := w.handlers[task.Type]
	if !ok {
		return Permanent(fmt.Errorf("no handler for task type %q", task.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return handler(ctx, task)
}
