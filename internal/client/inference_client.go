package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pagemill/api/internal/config"
)

// InferenceRunner defines the interface to the model inference sidecar
// that hosts the OCR and layout models.
type InferenceRunner interface {
	RecognizePage(ctx context.Context, req *OCRRequest) (*OCRResponse, error)
	DetectLayout(ctx context.Context, req *LayoutRequest) (*LayoutResponse, error)
	Warmup(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// InferenceClient implements InferenceRunner for the model-serving
// sidecar process.
type InferenceClient struct {
	httpClient *http.Client
	baseURL    string
}

// OCRRequest carries one rendered page image for text recognition
type OCRRequest struct {
	Image     []byte   `json:"image"`
	Languages []string `json:"languages,omitempty"`
}

// TextLine is one recognized line with its position on the page
type TextLine struct {
	Text       string     `json:"text"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

// OCRResponse is the recognized content of one page
type OCRResponse struct {
	Text  string     `json:"text"`
	Lines []TextLine `json:"lines,omitempty"`
}

// LayoutRequest carries one rendered page image for layout detection
type LayoutRequest struct {
	Image []byte `json:"image"`
}

// LayoutBlock is one detected region (text, table, figure, ...)
type LayoutBlock struct {
	Type string     `json:"type"`
	BBox [4]float64 `json:"bbox"`
}

// LayoutResponse lists the detected regions of one page
type LayoutResponse struct {
	Blocks []LayoutBlock `json:"blocks"`
}

// NewInferenceClient creates a new inference sidecar client
func NewInferenceClient(cfg *config.InferenceConfig) *InferenceClient {
	return &InferenceClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// RecognizePage sends a page image to the OCR endpoint
func (c *InferenceClient) RecognizePage(ctx context.Context, req *OCRRequest) (*OCRResponse, error) {
	var result OCRResponse
	if err := c.post(ctx, "/ocr", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DetectLayout sends a page image to the layout-detection endpoint
func (c *InferenceClient) DetectLayout(ctx context.Context, req *LayoutRequest) (*LayoutResponse, error) {
	var result LayoutResponse
	if err := c.post(ctx, "/layout", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Warmup asks the sidecar to load its model weights. Called once per
// worker process before any task is dequeued.
func (c *InferenceClient) Warmup(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/warmup", struct{}{}, &result); err != nil {
		return err
	}
	if result.Status != "ready" {
		return fmt.Errorf("inference service not ready: %q", result.Status)
	}
	return nil
}

// HealthCheck checks if the inference service is available
func (c *InferenceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *InferenceClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("inference service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *InferenceClient) IsConfigured() bool {
	return c.baseURL != ""
}
