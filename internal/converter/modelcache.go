package converter

import (
	"context"
	"time"

	"github.com/pagemill/api/internal/client"
	"github.com/pagemill/api/internal/config"
	"github.com/pagemill/api/internal/model"
)

// ModelCache is the per-process handle to the expensive model runtime.
// It is loaded exactly once, before the worker dequeues anything, and is
// read-only afterwards. It is owned by its process: never shared across
// processes, never serialized. Jobs within one process share it
// sequentially because the underlying compute resource holds one
// invocation at a time.
type ModelCache struct {
	inference client.InferenceRunner
	device    string
	createdAt time.Time
}

// LoadModelCache acquires the model runtime. runner may be nil, which
// yields a native-text-only cache (no OCR). A warmup failure is an
// initialization failure: the caller must not let the process join the
// worker pool with a half-initialized cache.
func LoadModelCache(ctx context.Context, cfg *config.InferenceConfig, runner client.InferenceRunner) (*ModelCache, error) {
	if runner != nil {
		if err := runner.Warmup(ctx); err != nil {
			return nil, Errorf(model.ErrKindInitialization, "model warmup failed: %v", err)
		}
	}
	return &ModelCache{
		inference: runner,
		device:    cfg.Device,
		createdAt: time.Now(),
	}, nil
}

// CreatedAt returns the load time (process start for workers).
func (c *ModelCache) CreatedAt() time.Time {
	return c.createdAt
}

// Device reports the compute device the runtime was loaded on.
func (c *ModelCache) Device() string {
	return c.device
}

// OCREnabled reports whether the cache can recognize rasterized pages.
func (c *ModelCache) OCREnabled() bool {
	return c.inference != nil
}

// RecognizePage runs OCR on one rendered page image.
func (c *ModelCache) RecognizePage(ctx context.Context, image []byte, languages []string) (string, error) {
	if c.inference == nil {
		return "", Errorf(model.ErrKindConversion, "page has no text layer and OCR is not available")
	}
	resp, err := c.inference.RecognizePage(ctx, &client.OCRRequest{Image: image, Languages: languages})
	if err != nil {
		return "", Errorf(model.ErrKindConversion, "ocr failed: %v", err)
	}
	return resp.Text, nil
}

// DetectLayout finds the content regions of one rendered page image.
// A page with no regions is blank.
func (c *ModelCache) DetectLayout(ctx context.Context, image []byte) ([]client.LayoutBlock, error) {
	if c.inference == nil {
		return nil, Errorf(model.ErrKindConversion, "layout detection is not available")
	}
	resp, err := c.inference.DetectLayout(ctx, &client.LayoutRequest{Image: image})
	if err != nil {
		return nil, Errorf(model.ErrKindConversion, "layout detection failed: %v", err)
	}
	return resp.Blocks, nil
}
