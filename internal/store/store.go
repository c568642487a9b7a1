package store

import (
	"context"
	"errors"

	"github.com/pagemill/api/internal/model"
)

var (
	// ErrNotFound means no record exists for the given id.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a record with the given id already exists.
	ErrConflict = errors.New("record already exists")
	// ErrUnavailable wraps infrastructure failures talking to the backend.
	// Callers surface it as a retriable store_unavailable error, never
	// attributed to any job.
	ErrUnavailable = errors.New("store unavailable")
)

// Store owns job and batch records. Workers upsert transitions through
// UpdateJob; arbitrarily many readers may poll GetJob/GetBatch without
// coordination because records are append-then-frozen once terminal.
type Store interface {
	// CreateJob writes a new pending record. ErrConflict if the id exists.
	CreateJob(ctx context.Context, job *model.Job) error
	// GetJob returns the current record. ErrNotFound if absent.
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	// UpdateJob applies mutate to the current record and persists the
	// outcome atomically. An error returned by mutate aborts the update
	// and is returned unchanged.
	UpdateJob(ctx context.Context, jobID string, mutate func(*model.Job) error) error
	// CreateBatch writes the batch and all member job records in one
	// atomic step. A batch is never created with a partial member set.
	CreateBatch(ctx context.Context, batch *model.Batch, jobs []*model.Job) error
	// GetBatch returns the batch record. ErrNotFound if absent.
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
}
