package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pagemill/api/internal/model"
)

// MemoryStore is an in-process Store used by tests and by local
// development without Redis. Records are deep-copied through JSON so
// callers never share memory with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string][]byte
	batches map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string][]byte),
		batches: make(map[string][]byte),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrConflict)
	}
	s.jobs[job.ID] = data
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	data, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, jobID string, mutate func(*model.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return err
	}
	if err := mutate(&job); err != nil {
		return err
	}
	updated, err := json.Marshal(&job)
	if err != nil {
		return err
	}
	s.jobs[jobID] = updated
	return nil
}

func (s *MemoryStore) CreateBatch(ctx context.Context, batch *model.Batch, jobs []*model.Job) error {
	batchData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	jobData := make(map[string][]byte, len(jobs))
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}
		jobData[job.ID] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; ok {
		return fmt.Errorf("batch %s: %w", batch.ID, ErrConflict)
	}
	s.batches[batch.ID] = batchData
	for id, data := range jobData {
		s.jobs[id] = data
	}
	return nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	s.mu.RLock()
	data, ok := s.batches[batchID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	var batch model.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}
