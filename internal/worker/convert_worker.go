package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pagemill/api/internal/converter"
	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/queue"
	"github.com/pagemill/api/internal/store"
	"github.com/pagemill/api/internal/websocket"
)

// ConvertWorker executes conversion jobs. One worker process owns one
// model cache; execution within the process is sequential (server
// concurrency 1), so a job has the compute resource to itself.
type ConvertWorker struct {
	store     store.Store
	converter converter.Converter
	cache     *converter.ModelCache
	hub       *websocket.Hub
	timeout   time.Duration
}

// NewConvertWorker creates a worker. hub may be nil.
func NewConvertWorker(st store.Store, conv converter.Converter, cache *converter.ModelCache, hub *websocket.Hub, timeout time.Duration) *ConvertWorker {
	return &ConvertWorker{
		store:     st,
		converter: conv,
		cache:     cache,
		hub:       hub,
		timeout:   timeout,
	}
}

// ProcessTask handles one delivery of a conversion task. Job-level
// outcomes (success, conversion failure, timeout) are recorded in the
// store and acked to the broker by returning nil; only infrastructure
// errors propagate, so the broker redelivers and the loop keeps running.
func (w *ConvertWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task queue.ConvertTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := task.JobID
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Job %s has no record, dropping task", jobID)
			return fmt.Errorf("job %s not found: %w", jobID, asynq.SkipRetry)
		}
		return err
	}

	// Redelivery after a crash: the first outcome stands.
	if job.Status.Terminal() {
		log.Printf("Job %s already %s, acking redelivery", jobID, job.Status)
		return nil
	}

	var payload model.ConvertPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, model.ErrorInfo{
			Kind:    model.ErrKindConversion,
			Message: fmt.Sprintf("invalid job payload: %v", err),
		})
		return nil
	}

	if err := w.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		return j.Start(time.Now())
	}); err != nil {
		return err
	}
	log.Printf("Starting conversion job: %s (%s)", jobID, payload.Filename)
	w.updateProgress(ctx, jobID, 10, "Loading document...")

	result, err := w.convert(ctx, &payload)
	if err != nil {
		// Cancellation of the handler context is the server shutting
		// down, not a job outcome. Leave the record untouched and hand
		// the task back to the broker for redelivery.
		if ctx.Err() != nil {
			log.Printf("Job %s interrupted by shutdown, leaving for redelivery", jobID)
			return fmt.Errorf("job %s interrupted: %w", jobID, ctx.Err())
		}
		info := converter.Classify(err)
		if info.Kind == model.ErrKindTimeout {
			// The compute resource may be wedged; operators should
			// consider restarting this process.
			log.Printf("Job %s timed out after %s, worker is suspect", jobID, w.timeout)
		}
		w.failJob(ctx, jobID, info)
		return nil
	}

	w.updateProgress(ctx, jobID, 95, "Finalizing...")
	resultBytes, err := json.Marshal(result)
	if err != nil {
		w.failJob(ctx, jobID, model.ErrorInfo{
			Kind:    model.ErrKindConversion,
			Message: fmt.Sprintf("failed to encode result: %v", err),
		})
		return nil
	}

	if err := w.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		return j.Succeed(resultBytes, time.Now())
	}); err != nil {
		return err
	}

	if w.hub != nil {
		w.hub.BroadcastComplete(jobID, result)
	}
	log.Printf("Conversion job %s completed (%d pages, %d via ocr)", jobID, result.Meta.PageCount, result.Meta.OCRPages)
	return nil
}

// convert runs the converter under the hard execution timeout. The
// conversion goroutine is abandoned on timeout; it observes the expired
// context and unwinds on its next check.
func (w *ConvertWorker) convert(ctx context.Context, payload *model.ConvertPayload) (*model.ConversionResult, error) {
	cctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type outcome struct {
		result *model.ConversionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := w.converter.Convert(cctx, payload, w.cache)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-cctx.Done():
		return nil, cctx.Err()
	}
}

func (w *ConvertWorker) updateProgress(ctx context.Context, jobID string, percent int, step string) {
	if err := w.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		j.SetProgress(percent, step)
		return nil
	}); err != nil {
		log.Printf("Failed to update progress for job %s: %v", jobID, err)
	}
	if w.hub != nil {
		w.hub.BroadcastProgress(jobID, percent, model.JobStatusRunning, step)
	}
}

func (w *ConvertWorker) failJob(ctx context.Context, jobID string, info model.ErrorInfo) {
	if err := w.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		return j.Fail(info.Kind, info.Message, time.Now())
	}); err != nil {
		log.Printf("Failed to mark job %s as failed: %v", jobID, err)
	}
	if w.hub != nil {
		w.hub.BroadcastError(jobID, info)
	}
}
