package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pagemill/api/internal/config"
)

func newTestClient(url string) *InferenceClient {
	return NewInferenceClient(&config.InferenceConfig{ServiceURL: url, Timeout: 5})
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).HealthCheck(context.Background()); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestHealthCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if err := newTestClient(srv.URL).HealthCheck(context.Background()); err == nil {
		t.Error("expected error when the sidecar is down")
	}
}

func TestWarmup_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"loading"}`))
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Warmup(context.Background()); err == nil {
		t.Error("expected error while models are still loading")
	}
}
