package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobLifecycle_Success(t *testing.T) {
	now := time.Now()
	job := NewJob("job-1", "", now)

	if job.Status != JobStatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.Status.Terminal() {
		t.Error("pending must not be terminal")
	}

	if err := job.Start(now); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if job.Status != JobStatusRunning {
		t.Errorf("expected running, got %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("expected startedAt to be stamped")
	}

	result := json.RawMessage(`{"markdown":"# Title"}`)
	if err := job.Succeed(result, now); err != nil {
		t.Fatalf("succeed failed: %v", err)
	}
	if job.Status != JobStatusSucceeded {
		t.Errorf("expected succeeded, got %s", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}
	if job.FinishedAt == nil {
		t.Error("expected finishedAt to be stamped")
	}
	if !job.Status.Terminal() {
		t.Error("succeeded must be terminal")
	}
}

func TestJobLifecycle_Failure(t *testing.T) {
	now := time.Now()
	job := NewJob("job-2", "", now)

	if err := job.Start(now); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := job.Fail(ErrKindConversion, "unreadable page", now); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Kind != ErrKindConversion {
		t.Errorf("expected conversion_failure error, got %+v", job.Error)
	}
	if job.Result != nil {
		t.Error("failed job must not carry a result")
	}
}

func TestJobTransitions_NeverMoveBackward(t *testing.T) {
	now := time.Now()

	job := NewJob("job-3", "", now)
	if err := job.Succeed(nil, now); err == nil {
		t.Error("succeed from pending must fail")
	}

	if err := job.Start(now); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := job.Succeed(json.RawMessage(`{}`), now); err != nil {
		t.Fatalf("succeed failed: %v", err)
	}
	if err := job.Fail(ErrKindTimeout, "too late", now); err == nil {
		t.Error("fail from succeeded must fail")
	}
	if err := job.Start(now); err == nil {
		t.Error("start from succeeded must fail")
	}
}

func TestJobStart_ResumesRunning(t *testing.T) {
	now := time.Now()
	job := NewJob("job-6", "", now)
	if err := job.Start(now); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// A record left running by a crashed worker accepts the redelivered
	// execution and re-stamps startedAt.
	later := now.Add(time.Minute)
	if err := job.Start(later); err != nil {
		t.Fatalf("restart of a running job must succeed: %v", err)
	}
	if job.Status != JobStatusRunning {
		t.Errorf("expected running, got %s", job.Status)
	}
	if job.StartedAt == nil || !job.StartedAt.Equal(later) {
		t.Errorf("expected startedAt re-stamped to %v, got %v", later, job.StartedAt)
	}
}

func TestJobFail_FromPending(t *testing.T) {
	now := time.Now()
	job := NewJob("job-4", "", now)

	// A job whose enqueue failed is failed without ever running.
	if err := job.Fail(ErrKindBrokerUnavailable, "broker down", now); err != nil {
		t.Fatalf("fail from pending failed: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.StartedAt != nil {
		t.Error("never-started job must not have startedAt")
	}
}

func TestSetProgress(t *testing.T) {
	now := time.Now()
	job := NewJob("job-5", "", now)
	if err := job.Start(now); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	job.SetProgress(42, "Extracting text...")
	if job.Progress != 42 || job.CurrentStep != "Extracting text..." {
		t.Errorf("unexpected progress view: %d %q", job.Progress, job.CurrentStep)
	}

	job.SetProgress(150, "clamped")
	if job.Progress != 100 {
		t.Errorf("expected clamp to 100, got %d", job.Progress)
	}
	job.SetProgress(-5, "clamped")
	if job.Progress != 0 {
		t.Errorf("expected clamp to 0, got %d", job.Progress)
	}

	if err := job.Succeed(json.RawMessage(`{}`), now); err != nil {
		t.Fatalf("succeed failed: %v", err)
	}
	job.SetProgress(10, "too late")
	if job.Progress != 100 {
		t.Errorf("terminal record must not change, got progress %d", job.Progress)
	}
}
