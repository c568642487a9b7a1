package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/queue"
	"github.com/pagemill/api/internal/store"
)

// BatchService groups jobs under one batch id and aggregates their
// states. Aggregation reads every member record on each query instead of
// keeping counters, so the view can never drift from the store.
type BatchService struct {
	store        store.Store
	queue        queue.Queue
	policy       model.BatchFailurePolicy
	maxDocuments int
}

func NewBatchService(st store.Store, q queue.Queue, policy model.BatchFailurePolicy, maxDocuments int) *BatchService {
	if policy != model.BatchPolicyPartial {
		policy = model.BatchPolicyStrict
	}
	return &BatchService{store: st, queue: q, policy: policy, maxDocuments: maxDocuments}
}

// Submit creates the batch and all member jobs atomically, then enqueues
// each job independently; members may execute on different workers. A
// member whose enqueue fails is recorded as failed with
// broker_unavailable so the batch still converges to a terminal view.
func (s *BatchService) Submit(ctx context.Context, req *model.BatchRequest) (*model.BatchSubmitResponse, error) {
	if s.maxDocuments > 0 && len(req.Documents) > s.maxDocuments {
		return nil, fmt.Errorf("%w: batch exceeds %d documents", ErrInvalidDocument, s.maxDocuments)
	}

	// Validate every document up front: a batch is created with its full
	// job set or not at all.
	payloads := make([][]byte, 0, len(req.Documents))
	for i := range req.Documents {
		doc, err := base64.StdEncoding.DecodeString(req.Documents[i].Document)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d is not valid base64", ErrInvalidDocument, i)
		}
		if len(doc) == 0 {
			return nil, fmt.Errorf("%w: document %d is empty", ErrInvalidDocument, i)
		}
		if err := inspectDocument(req.Documents[i].Filename, doc); err != nil {
			return nil, err
		}
		data, err := json.Marshal(&model.ConvertPayload{
			Filename: req.Documents[i].Filename,
			Document: doc,
			Options:  req.Documents[i].Options,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload %d: %w", i, err)
		}
		payloads = append(payloads, data)
	}

	batchID := uuid.New().String()
	now := time.Now()
	jobIDs := make([]string, len(payloads))
	jobs := make([]*model.Job, len(payloads))
	for i := range payloads {
		jobIDs[i] = uuid.New().String()
		jobs[i] = model.NewJob(jobIDs[i], batchID, now)
	}
	batch := &model.Batch{ID: batchID, JobIDs: jobIDs, CreatedAt: now}

	if err := s.store.CreateBatch(ctx, batch, jobs); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}

	for i, jobID := range jobIDs {
		if err := s.queue.EnqueueConvert(ctx, jobID, payloads[i]); err != nil {
			log.Printf("Failed to enqueue batch member %s: %v", jobID, err)
			if ferr := s.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
				return j.Fail(model.ErrKindBrokerUnavailable, err.Error(), time.Now())
			}); ferr != nil {
				log.Printf("Failed to record enqueue failure for %s: %v", jobID, ferr)
			}
		}
	}

	return &model.BatchSubmitResponse{
		BatchID:   batchID,
		JobIDs:    jobIDs,
		Total:     len(jobIDs),
		CreatedAt: now,
	}, nil
}

// Get aggregates the batch on demand. Succeeded members expose their
// results even when the aggregate is failed.
func (s *BatchService) Get(ctx context.Context, batchID string) (*model.BatchStatusResponse, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	views := make([]model.BatchJobView, 0, len(batch.JobIDs))
	statuses := make([]model.JobStatus, 0, len(batch.JobIDs))
	for _, jobID := range batch.JobIDs {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("batch %s member: %w", batchID, err)
		}
		view := model.BatchJobView{
			JobID:  job.ID,
			Status: job.Status,
			Error:  job.Error,
		}
		if job.Status == model.JobStatusSucceeded {
			var result model.ConversionResult
			if err := json.Unmarshal(job.Result, &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal result of %s: %w", job.ID, err)
			}
			view.Result = &result
		}
		views = append(views, view)
		statuses = append(statuses, job.Status)
	}

	status, completed := model.AggregateStatus(statuses, s.policy)
	return &model.BatchStatusResponse{
		BatchID:   batch.ID,
		Status:    status,
		Completed: completed,
		Total:     batch.Total(),
		Jobs:      views,
		CreatedAt: batch.CreatedAt,
	}, nil
}
