// Package tasks is the background job layer: a queue with at-least-once
// delivery and a worker that retries transient failures.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const TypeGenerateReceipt = "receipts.generate"

type Task struct {
	// ID is assigned by the queue on receive.
	ID         string                 `json:"id,omitempty"`
	Type       string                 `json:"type"`
	Key        string                 `json:"key"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Attempt    int                    `json:"attempt"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	// NotBefore delays a retry; the worker waits for it before running.
	NotBefore time.Time `json:"not_before,omitempty"`
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Receive blocks until at least one task is available or ctx ends.
	Receive(ctx context.Context) ([]Task, error)
	Ack(ctx context.Context, task Task) error
}

// Handler processes one task. Errors wrapped with Permanent are not retried.
type Handler func(ctx context.Context, task Task) error

var ErrPermanent = errors.New("permanent task failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// PurchaseID reads the purchase id a receipt task refers to.
func (t Task) PurchaseID() (string, error) {
	if id, ok := t.Payload["purchase_id"].(string); ok && id != "" {
		return id, nil
	}
	if t.Key != "" {
		return t.Key, nil
	}
	return "", fmt.Errorf("task %s has no purchase_id", t.ID)
}
