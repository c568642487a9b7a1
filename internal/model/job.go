package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal records never
// change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Error kinds recorded on failed jobs
type ErrorKind string

const (
	ErrKindInitialization    ErrorKind = "initialization_failure"
	ErrKindConversion        ErrorKind = "conversion_failure"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindBrokerUnavailable ErrorKind = "broker_unavailable"
	ErrKindStoreUnavailable  ErrorKind = "store_unavailable"
	ErrKindCanceled          ErrorKind = "canceled"
)

// ErrorInfo describes why a job failed
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job represents one unit of conversion work. The document payload is not
// part of the persisted record; it travels with the queue task. The store
// owns the terminal record.
type Job struct {
	ID          string          `json:"id"`
	BatchID     string          `json:"batchId,omitempty"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// NewJob creates a pending job record
func NewJob(id, batchID string, now time.Time) *Job {
	return &Job{
		ID:         id,
		BatchID:    batchID,
		Status:     JobStatusPending,
		EnqueuedAt: now,
	}
}

// Start moves a pending job to running and stamps startedAt. A job
// already running starts again: delivery is at-least-once, so a record
// left running by a crashed worker must accept the redelivered
// execution. The restart re-stamps startedAt.
func (j *Job) Start(now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s: cannot start from %q", j.ID, j.Status)
	}
	j.Status = JobStatusRunning
	j.StartedAt = &now
	return nil
}

// Succeed moves a running job to succeeded and attaches the result.
func (j *Job) Succeed(result json.RawMessage, now time.Time) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("job %s: cannot succeed from %q", j.ID, j.Status)
	}
	j.Status = JobStatusSucceeded
	j.Progress = 100
	j.CurrentStep = ""
	j.Result = result
	j.Error = nil
	j.FinishedAt = &now
	return nil
}

// Fail moves a pending or running job to failed with a classified error.
// Failure is terminal; retries are a caller decision, never automatic.
func (j *Job) Fail(kind ErrorKind, message string, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s: cannot fail from %q", j.ID, j.Status)
	}
	j.Status = JobStatusFailed
	j.Error = &ErrorInfo{Kind: kind, Message: message}
	j.Result = nil
	j.FinishedAt = &now
	return nil
}

// SetProgress updates the progress view of a running job. No-op on
// terminal records.
func (j *Job) SetProgress(percent int, step string) {
	if j.Status.Terminal() {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.Progress = percent
	j.CurrentStep = step
}
