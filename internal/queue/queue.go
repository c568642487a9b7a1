package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeConvert is the asynq task type for document conversions.
	TaskTypeConvert = "convert:document"
	// QueueConvert is the queue conversions are delivered on.
	QueueConvert = "convert"
)

var (
	// ErrUnavailable wraps broker infrastructure failures. Surfaced to
	// submitters as a retriable broker_unavailable error.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrNotCancelable means the task was already dequeued (or never
	// enqueued); a job in flight runs to completion or timeout.
	ErrNotCancelable = errors.New("task not cancelable")
)

// ConvertTask is the wire payload of a conversion task. Delivery is
// at-least-once: the same task may arrive again after a worker crash, so
// handlers must tolerate repeats.
type ConvertTask struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// Queue is the broker contract consumed by the submission side.
type Queue interface {
	// EnqueueConvert delivers one job to the worker pool. Re-enqueueing
	// an id that is already queued is a no-op success.
	EnqueueConvert(ctx context.Context, jobID string, payload []byte) error
	// CancelPending removes a not-yet-dequeued task.
	CancelPending(ctx context.Context, jobID string) error
	// Stats reports worker count and queue depth for health checks.
	Stats(ctx context.Context) (workers, depth int, err error)
}

// NewConvertTask builds the asynq task for a job.
func NewConvertTask(jobID string, payload []byte) (*asynq.Task, error) {
	data, err := json.Marshal(&ConvertTask{JobID: jobID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeConvert, data), nil
}

// AsynqQueue implements Queue on asynq/Redis.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	retention time.Duration
	maxRetry  int
}

// NewAsynqQueue creates the production queue. retention controls how long
// completed task metadata is kept; maxRetry bounds redelivery of tasks
// whose handler returned an infrastructure error (job-level failures are
// always acked and never retried).
func NewAsynqQueue(opt asynq.RedisClientOpt, retention time.Duration, maxRetry int) *AsynqQueue {
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		retention: retention,
		maxRetry:  maxRetry,
	}
}

func (q *AsynqQueue) EnqueueConvert(ctx context.Context, jobID string, payload []byte) error {
	task, err := NewConvertTask(jobID, payload)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueConvert),
		asynq.TaskID(jobID),
		asynq.MaxRetry(q.maxRetry),
		asynq.Retention(q.retention),
	)
	if err != nil {
		// The same job id is already queued; submission is idempotent.
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *AsynqQueue) CancelPending(ctx context.Context, jobID string) error {
	err := q.inspector.DeleteTask(QueueConvert, jobID)
	if err == nil {
		return nil
	}
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("job %s: %w", jobID, ErrNotCancelable)
	}
	// DeleteTask refuses a task that is currently being worked. An
	// in-flight job runs to completion or timeout; that is not a broker
	// failure.
	if info, ierr := q.inspector.GetTaskInfo(QueueConvert, jobID); ierr == nil && info.State == asynq.TaskStateActive {
		return fmt.Errorf("job %s: %w", jobID, ErrNotCancelable)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (q *AsynqQueue) Stats(ctx context.Context) (int, int, error) {
	servers, err := q.inspector.Servers()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	info, err := q.inspector.GetQueueInfo(QueueConvert)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return len(servers), 0, nil
		}
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return len(servers), info.Pending + info.Active, nil
}

// Close releases the underlying connections.
func (q *AsynqQueue) Close() error {
	cerr := q.client.Close()
	if ierr := q.inspector.Close(); ierr != nil && cerr == nil {
		cerr = ierr
	}
	return cerr
}
