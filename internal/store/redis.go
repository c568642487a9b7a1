package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagemill/api/internal/model"
)

const (
	jobKeyPrefix   = "job:"
	batchKeyPrefix = "batch:"

	// updateRetries bounds optimistic-update attempts before giving up.
	updateRetries = 16
)

// RedisStore persists job and batch records as JSON blobs in Redis.
// Records survive worker restarts and are readable by any process;
// retention is handled with a TTL, matching the external cleanup policy.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore creates a RedisStore. retention <= 0 keeps records forever.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

func (s *RedisStore) CreateJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrConflict)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateJob re-reads the record under WATCH and writes the mutated copy in
// a transaction, so concurrent writers never clobber each other's
// transitions.
func (s *RedisStore) UpdateJob(ctx context.Context, jobID string, mutate func(*model.Job) error) error {
	key := jobKey(jobID)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
		}
		if err := mutate(&job); err != nil {
			return err
		}
		payload, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", jobID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: job %s update contention", ErrUnavailable, jobID)
}

func (s *RedisStore) CreateBatch(ctx context.Context, batch *model.Batch, jobs []*model.Job) error {
	batchData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	created := pipe.SetNX(ctx, batchKey(batch.ID), batchData, s.retention)
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}
		pipe.Set(ctx, jobKey(job.ID), data, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !created.Val() {
		return fmt.Errorf("batch %s: %w", batch.ID, ErrConflict)
	}
	return nil
}

func (s *RedisStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	data, err := s.rdb.Get(ctx, batchKey(batchID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var batch model.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch %s: %w", batchID, err)
	}
	return &batch, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func batchKey(id string) string {
	return batchKeyPrefix + id
}
