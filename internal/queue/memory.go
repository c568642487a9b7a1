package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
)

func unmarshalTask(t *asynq.Task, v interface{}) error {
	return json.Unmarshal(t.Payload(), v)
}

// MemoryQueue is an in-process Queue for tests and Redis-less local runs.
// Tasks stay pending until drained through ProcessNext, which keeps
// lifecycle tests deterministic.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []*asynq.Task
	ids     map[string]bool
	handler asynq.Handler
}

// NewMemoryQueue creates a MemoryQueue draining into h. h may be nil when
// only enqueue/cancel behavior is under test.
func NewMemoryQueue(h asynq.Handler) *MemoryQueue {
	return &MemoryQueue{
		ids:     make(map[string]bool),
		handler: h,
	}
}

func (q *MemoryQueue) EnqueueConvert(ctx context.Context, jobID string, payload []byte) error {
	task, err := NewConvertTask(jobID, payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ids[jobID] {
		return nil
	}
	q.ids[jobID] = true
	q.pending = append(q.pending, task)
	return nil
}

func (q *MemoryQueue) CancelPending(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, task := range q.pending {
		var ct ConvertTask
		if err := unmarshalTask(task, &ct); err != nil {
			continue
		}
		if ct.JobID == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			delete(q.ids, jobID)
			return nil
		}
	}
	return fmt.Errorf("job %s: %w", jobID, ErrNotCancelable)
}

func (q *MemoryQueue) Stats(ctx context.Context) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	workers := 0
	if q.handler != nil {
		workers = 1
	}
	return workers, len(q.pending), nil
}

// ProcessNext delivers the oldest pending task to the handler. It returns
// false when the queue is empty.
func (q *MemoryQueue) ProcessNext(ctx context.Context) (bool, error) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false, nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	if q.handler == nil {
		return true, nil
	}
	return true, q.handler.ProcessTask(ctx, task)
}

// Drain processes pending tasks until the queue is empty.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	for {
		ok, err := q.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}
