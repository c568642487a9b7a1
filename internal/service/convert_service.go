package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/queue"
	"github.com/pagemill/api/internal/store"
)

var (
	// ErrInvalidDocument means the upload could not be decoded or parsed;
	// surfaced synchronously so a broken document never reaches a worker.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrNotCompleted means the job has no result yet.
	ErrNotCompleted = errors.New("job not completed")
	// ErrJobFailed carries the classified failure of a terminal job whose
	// result was requested.
	ErrJobFailed = errors.New("job failed")
)

// ConvertService owns single-job submission and polling
type ConvertService struct {
	store store.Store
	queue queue.Queue
}

func NewConvertService(st store.Store, q queue.Queue) *ConvertService {
	return &ConvertService{store: st, queue: q}
}

// Submit validates the document, writes the pending record and hands the
// payload to the broker. Infrastructure failures surface synchronously;
// they are never attributed to a job.
func (s *ConvertService) Submit(ctx context.Context, req *model.ConvertRequest) (*model.ConvertSubmitResponse, error) {
	doc, err := base64.StdEncoding.DecodeString(req.Document)
	if err != nil {
		return nil, fmt.Errorf("%w: document is not valid base64", ErrInvalidDocument)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidDocument)
	}
	if err := inspectDocument(req.Filename, doc); err != nil {
		return nil, err
	}

	payload := &model.ConvertPayload{
		Filename: req.Filename,
		Document: doc,
		Options:  req.Options,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	jobID := uuid.New().String()
	now := time.Now()
	job := model.NewJob(jobID, "", now)

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := s.queue.EnqueueConvert(ctx, jobID, payloadBytes); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return &model.ConvertSubmitResponse{
		JobID:      jobID,
		Status:     model.JobStatusPending,
		EnqueuedAt: now,
	}, nil
}

// GetStatus returns the polling view of a job. Anything other than the
// two terminal states means "still working".
func (s *ConvertService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		EnqueuedAt:  job.EnqueuedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}, nil
}

// GetResult returns the conversion output of a succeeded job. A failed
// job yields ErrJobFailed with the classified kind and message attached.
func (s *ConvertService) GetResult(ctx context.Context, jobID string) (*model.ConversionResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusSucceeded:
		var result model.ConversionResult
		if err := json.Unmarshal(job.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		return &result, nil
	case model.JobStatusFailed:
		return nil, fmt.Errorf("%w: %s: %s", ErrJobFailed, job.Error.Kind, job.Error.Message)
	default:
		return nil, ErrNotCompleted
	}
}

// Cancel removes a job that has not been dequeued yet and records it as
// terminally failed with kind canceled. A job in flight runs to
// completion or timeout; queue.ErrNotCancelable is returned in that case.
func (s *ConvertService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusPending {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, queue.ErrNotCancelable)
	}
	if err := s.queue.CancelPending(ctx, jobID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		return j.Fail(model.ErrKindCanceled, "canceled before execution", time.Now())
	}); err != nil {
		return nil, err
	}
	return &model.CancelResponse{JobID: jobID, Status: model.JobStatusFailed}, nil
}

// inspectDocument rejects obviously broken uploads before they occupy a
// worker slot. Only PDFs can be checked cheaply; other formats are left
// to the converter.
func inspectDocument(filename string, doc []byte) error {
	if strings.ToLower(filepath.Ext(filename)) != ".pdf" {
		return nil
	}
	if _, err := pdfapi.PageCount(bytes.NewReader(doc), nil); err != nil {
		return fmt.Errorf("%w: %s is not a readable PDF: %v", ErrInvalidDocument, filename, err)
	}
	return nil
}
