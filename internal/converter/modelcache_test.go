package converter

import (
	"context"
	"errors"
	"testing"

	"github.com/pagemill/api/internal/client"
	"github.com/pagemill/api/internal/config"
	"github.com/pagemill/api/internal/model"
)

// fakeRunner is an InferenceRunner that counts calls.
type fakeRunner struct {
	warmups   int
	warmupErr error
	ocrText   string
	ocrErr    error
	blocks    []client.LayoutBlock
	layoutErr error
}

func (f *fakeRunner) Warmup(ctx context.Context) error {
	f.warmups++
	return f.warmupErr
}

func (f *fakeRunner) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeRunner) RecognizePage(ctx context.Context, req *client.OCRRequest) (*client.OCRResponse, error) {
	if f.ocrErr != nil {
		return nil, f.ocrErr
	}
	return &client.OCRResponse{Text: f.ocrText}, nil
}

func (f *fakeRunner) DetectLayout(ctx context.Context, req *client.LayoutRequest) (*client.LayoutResponse, error) {
	if f.layoutErr != nil {
		return nil, f.layoutErr
	}
	return &client.LayoutResponse{Blocks: f.blocks}, nil
}

func TestLoadModelCache_WarmsUpOnce(t *testing.T) {
	runner := &fakeRunner{ocrText: "hello"}
	cfg := &config.InferenceConfig{Device: "cuda"}

	cache, err := LoadModelCache(context.Background(), cfg, runner)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if runner.warmups != 1 {
		t.Errorf("expected exactly one warmup, got %d", runner.warmups)
	}
	if !cache.OCREnabled() {
		t.Error("expected OCR to be enabled")
	}
	if cache.Device() != "cuda" {
		t.Errorf("expected device cuda, got %s", cache.Device())
	}
	if cache.CreatedAt().IsZero() {
		t.Error("expected createdAt to be stamped")
	}

	// Several conversions share the same cache without reloading.
	for i := 0; i < 3; i++ {
		text, err := cache.RecognizePage(context.Background(), []byte("png"), nil)
		if err != nil {
			t.Fatalf("recognize failed: %v", err)
		}
		if text != "hello" {
			t.Errorf("got %q", text)
		}
	}
	if runner.warmups != 1 {
		t.Errorf("recognize must not re-warm, got %d warmups", runner.warmups)
	}
}

func TestLoadModelCache_WarmupFailureIsInitializationFailure(t *testing.T) {
	runner := &fakeRunner{warmupErr: errors.New("cuda out of memory")}

	_, err := LoadModelCache(context.Background(), &config.InferenceConfig{}, runner)
	if err == nil {
		t.Fatal("expected error")
	}
	info := Classify(err)
	if info.Kind != model.ErrKindInitialization {
		t.Errorf("expected initialization_failure, got %s", info.Kind)
	}
}

func TestLoadModelCache_NilRunnerDisablesOCR(t *testing.T) {
	cache, err := LoadModelCache(context.Background(), &config.InferenceConfig{}, nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cache.OCREnabled() {
		t.Error("expected OCR disabled without a runner")
	}

	_, err = cache.RecognizePage(context.Background(), []byte("png"), nil)
	if err == nil {
		t.Fatal("expected error when OCR is unavailable")
	}
	if info := Classify(err); info.Kind != model.ErrKindConversion {
		t.Errorf("expected conversion_failure, got %s", info.Kind)
	}
}

func TestModelCacheDetectLayout(t *testing.T) {
	runner := &fakeRunner{blocks: []client.LayoutBlock{
		{Type: "text", BBox: [4]float64{0, 0, 100, 20}},
		{Type: "figure", BBox: [4]float64{0, 30, 100, 90}},
	}}
	cache, err := LoadModelCache(context.Background(), &config.InferenceConfig{}, runner)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	blocks, err := cache.DetectLayout(context.Background(), []byte("png"))
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(blocks) != 2 || blocks[1].Type != "figure" {
		t.Errorf("unexpected blocks: %+v", blocks)
	}

	runner.layoutErr = errors.New("model crashed")
	_, err = cache.DetectLayout(context.Background(), []byte("png"))
	if err == nil {
		t.Fatal("expected error")
	}
	if info := Classify(err); info.Kind != model.ErrKindConversion {
		t.Errorf("expected conversion_failure, got %s", info.Kind)
	}
}

func TestModelCacheDetectLayout_NilRunner(t *testing.T) {
	cache, err := LoadModelCache(context.Background(), &config.InferenceConfig{}, nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := cache.DetectLayout(context.Background(), []byte("png")); err == nil {
		t.Fatal("expected error without a runner")
	}
}

func TestClassify(t *testing.T) {
	if info := Classify(Errorf(model.ErrKindTimeout, "slow")); info.Kind != model.ErrKindTimeout {
		t.Errorf("expected timeout, got %s", info.Kind)
	}
	if info := Classify(context.DeadlineExceeded); info.Kind != model.ErrKindTimeout {
		t.Errorf("deadline expiry must classify as timeout, got %s", info.Kind)
	}
	if info := Classify(errors.New("boom")); info.Kind != model.ErrKindConversion {
		t.Errorf("unclassified errors must be conversion failures, got %s", info.Kind)
	}
}
