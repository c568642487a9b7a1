package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/queue"
	"github.com/pagemill/api/internal/store"
)

func validConvertRequest() *model.ConvertRequest {
	return &model.ConvertRequest{
		Filename: "notes.txt",
		Document: base64.StdEncoding.EncodeToString([]byte("plain text body")),
	}
}

func TestConvertSubmit_Success(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.NewMemoryQueue(nil)
	svc := NewConvertService(s, q)

	resp, err := svc.Submit(context.Background(), validConvertRequest())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("expected a job id")
	}
	if resp.Status != model.JobStatusPending {
		t.Errorf("expected pending, got %s", resp.Status)
	}

	job, err := s.GetJob(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("job record missing: %v", err)
	}
	if job.Status != model.JobStatusPending {
		t.Errorf("expected pending record, got %s", job.Status)
	}

	_, depth, _ := q.Stats(context.Background())
	if depth != 1 {
		t.Errorf("expected 1 queued task, got %d", depth)
	}
}

func TestConvertSubmit_RejectsBadDocuments(t *testing.T) {
	svc := NewConvertService(store.NewMemoryStore(), queue.NewMemoryQueue(nil))
	ctx := context.Background()

	tests := []struct {
		name string
		req  *model.ConvertRequest
	}{
		{"not base64", &model.ConvertRequest{Filename: "a.txt", Document: "%%%not-base64%%%"}},
		{"empty document", &model.ConvertRequest{Filename: "a.txt", Document: ""}},
		{"broken pdf", &model.ConvertRequest{
			Filename: "a.pdf",
			Document: base64.StdEncoding.EncodeToString([]byte("this is not a pdf")),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tt.req)
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestConvertSubmit_BrokerFailureSurfacesSynchronously(t *testing.T) {
	s := store.NewMemoryStore()
	svc := NewConvertService(s, failingQueue{})

	_, err := svc.Submit(context.Background(), validConvertRequest())
	if !errors.Is(err, queue.ErrUnavailable) {
		t.Errorf("expected queue.ErrUnavailable, got %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	s := store.NewMemoryStore()
	svc := NewConvertService(s, queue.NewMemoryQueue(nil))
	ctx := context.Background()

	resp, err := svc.Submit(ctx, validConvertRequest())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	status, err := svc.GetStatus(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.JobID != resp.JobID || status.Status != model.JobStatusPending {
		t.Errorf("unexpected status view: %+v", status)
	}

	if _, err := svc.GetStatus(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResult(t *testing.T) {
	s := store.NewMemoryStore()
	svc := NewConvertService(s, queue.NewMemoryQueue(nil))
	ctx := context.Background()

	resp, err := svc.Submit(ctx, validConvertRequest())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	jobID := resp.JobID

	// Pending job has no result yet.
	if _, err := svc.GetResult(ctx, jobID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("expected ErrNotCompleted, got %v", err)
	}

	// Drive the record to succeeded the way a worker would.
	result := model.ConversionResult{Markdown: "# done", Meta: model.ConversionMeta{PageCount: 1}}
	data, _ := json.Marshal(&result)
	if err := s.UpdateJob(ctx, jobID, func(j *model.Job) error {
		if err := j.Start(time.Now()); err != nil {
			return err
		}
		return j.Succeed(data, time.Now())
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := svc.GetResult(ctx, jobID)
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if got.Markdown != "# done" {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestGetResult_FailedJobCarriesClassifiedError(t *testing.T) {
	s := store.NewMemoryStore()
	svc := NewConvertService(s, queue.NewMemoryQueue(nil))
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validConvertRequest())
	if err := s.UpdateJob(ctx, resp.JobID, func(j *model.Job) error {
		return j.Fail(model.ErrKindTimeout, "conversion exceeded the execution timeout", time.Now())
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	_, err := svc.GetResult(ctx, resp.JobID)
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
}

func TestCancel_PendingJob(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.NewMemoryQueue(nil)
	svc := NewConvertService(s, q)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validConvertRequest())

	canceled, err := svc.Cancel(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if canceled.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", canceled.Status)
	}

	job, _ := s.GetJob(ctx, resp.JobID)
	if job.Error == nil || job.Error.Kind != model.ErrKindCanceled {
		t.Errorf("expected canceled kind, got %+v", job.Error)
	}
	_, depth, _ := q.Stats(ctx)
	if depth != 0 {
		t.Errorf("canceled task must leave the queue, depth %d", depth)
	}
}

func TestCancel_RunningJobIsNotCancelable(t *testing.T) {
	s := store.NewMemoryStore()
	svc := NewConvertService(s, queue.NewMemoryQueue(nil))
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validConvertRequest())
	if err := s.UpdateJob(ctx, resp.JobID, func(j *model.Job) error {
		return j.Start(time.Now())
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	_, err := svc.Cancel(ctx, resp.JobID)
	if !errors.Is(err, queue.ErrNotCancelable) {
		t.Errorf("expected ErrNotCancelable, got %v", err)
	}
}

// failingQueue simulates an unreachable broker.
type failingQueue struct{}

func (failingQueue) EnqueueConvert(ctx context.Context, jobID string, payload []byte) error {
	return queue.ErrUnavailable
}

func (failingQueue) CancelPending(ctx context.Context, jobID string) error {
	return queue.ErrUnavailable
}

func (failingQueue) Stats(ctx context.Context) (int, int, error) {
	return 0, 0, queue.ErrUnavailable
}
