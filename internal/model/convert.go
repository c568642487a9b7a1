package model

import "time"

// Output formats
type OutputFormat string

const (
	OutputMarkdown OutputFormat = "markdown"
	OutputText     OutputFormat = "text"
)

// ConvertOptions controls a single conversion
type ConvertOptions struct {
	OutputFormat  OutputFormat `json:"outputFormat,omitempty" validate:"omitempty,oneof=markdown text"`
	PageRange     string       `json:"pageRange,omitempty"`
	Paginate      bool         `json:"paginate,omitempty"`
	ExtractImages bool         `json:"extractImages,omitempty"`
	ForceOCR      bool         `json:"forceOcr,omitempty"`
	Languages     []string     `json:"languages,omitempty" validate:"omitempty,max=8,dive,min=2,max=8"`
}

// ConvertPayload is the immutable unit of work carried by the queue task.
// The []byte document round-trips as base64 through JSON.
type ConvertPayload struct {
	Filename string         `json:"filename"`
	Document []byte         `json:"document"`
	Options  ConvertOptions `json:"options"`
}

// Asset references an artifact extracted during conversion (page images,
// figures) stored outside the record.
type Asset struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// ConversionMeta describes how the conversion went
type ConversionMeta struct {
	PageCount  int    `json:"pageCount"`
	OCRPages   int    `json:"ocrPages"`
	Engine     string `json:"engine"`
	DurationMS int64  `json:"durationMs"`
}

// ConversionResult is the structured output of a succeeded job
type ConversionResult struct {
	Markdown string         `json:"markdown"`
	Assets   []Asset        `json:"assets,omitempty"`
	Meta     ConversionMeta `json:"meta"`
}

// ConvertRequest is the submission body for a single document
type ConvertRequest struct {
	Filename string         `json:"filename" validate:"required,max=255"`
	Document string         `json:"document" validate:"required,base64"`
	Options  ConvertOptions `json:"options"`
}

// ConvertSubmitResponse acknowledges an accepted job
type ConvertSubmitResponse struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// JobStatusResponse is the polling view of a job
type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// CancelResponse acknowledges a cancellation
type CancelResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// BatchRequest submits several documents as one batch
type BatchRequest struct {
	Documents []ConvertRequest `json:"documents" validate:"required,min=1,max=100,dive"`
}

// BatchSubmitResponse acknowledges an accepted batch
type BatchSubmitResponse struct {
	BatchID   string    `json:"batchId"`
	JobIDs    []string  `json:"jobIds"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}

// BatchJobView is one member's state inside a batch view
type BatchJobView struct {
	JobID  string            `json:"jobId"`
	Status JobStatus         `json:"status"`
	Error  *ErrorInfo        `json:"error,omitempty"`
	Result *ConversionResult `json:"result,omitempty"`
}

// BatchStatusResponse is the aggregate polling view of a batch.
// Succeeded members expose their results even when the aggregate failed.
type BatchStatusResponse struct {
	BatchID   string         `json:"batchId"`
	Status    BatchStatus    `json:"status"`
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Jobs      []BatchJobView `json:"jobs"`
	CreatedAt time.Time      `json:"createdAt"`
}
