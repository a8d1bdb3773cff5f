package tasks

import (
	"context"
	"strconv"
	"sync"
)

// MemoryQueue is an in-process Queue for tests and single-binary setups.
// Tasks do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  []Task
	seq    int
	notify chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	q.seq++
	task.ID = strconv.Itoa(q.seq)
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) ([]Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			out := q.tasks
			q.tasks = nil
			q.mu.Unlock()
			return out, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, task Task) error {
	return nil
}

// Len is the number of tasks waiting to be received.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot returns a copy of the waiting tasks without receiving them.
func (q *MemoryQueue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
