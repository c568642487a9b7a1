package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"

	"github.com/pagemill/api/internal/auth"
	"github.com/pagemill/api/internal/config"
	"github.com/pagemill/api/internal/converter"
	"github.com/pagemill/api/internal/handler"
	"github.com/pagemill/api/internal/middleware"
	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/queue"
	"github.com/pagemill/api/internal/service"
	"github.com/pagemill/api/internal/store"
	"github.com/pagemill/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing. The queue is the
// in-process one, so tests drain it explicitly to run the worker.
type testApp struct {
	app   *fiber.App
	queue *queue.MemoryQueue
	store *store.MemoryStore
}

// drain runs every queued job through the worker.
func (ta *testApp) drain(t *testing.T) {
	t.Helper()
	if err := ta.queue.Drain(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
}

// setupApp creates a Fiber app wired like main.go but on the in-memory
// store and queue, with a stub converter. Documents named fail.txt fail
// conversion; everything else succeeds.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	jobStore := store.NewMemoryStore()

	cache, err := converter.LoadModelCache(context.Background(), &config.InferenceConfig{}, nil)
	if err != nil {
		t.Fatalf("failed to load model cache: %v", err)
	}
	conv := converter.Func(func(ctx context.Context, p *model.ConvertPayload, c *converter.ModelCache) (*model.ConversionResult, error) {
		if p.Filename == "fail.txt" {
			return nil, converter.Errorf(model.ErrKindConversion, "deliberately unreadable")
		}
		return &model.ConversionResult{
			Markdown: "# " + p.Filename,
			Meta:     model.ConversionMeta{PageCount: 1, Engine: "stub"},
		}, nil
	})
	convertWorker := worker.NewConvertWorker(jobStore, conv, cache, nil, time.Minute)
	convertQueue := queue.NewMemoryQueue(asynq.HandlerFunc(convertWorker.ProcessTask))

	validate := validator.New()

	// Services
	convertService := service.NewConvertService(jobStore, convertQueue)
	batchService := service.NewBatchService(jobStore, convertQueue, model.BatchPolicyStrict, 100)

	// Handlers
	convertHandler := handler.NewConvertHandler(convertService, validate)
	batchHandler := handler.NewBatchHandler(batchService, validate)

	// Auth handler (for /auth/verify)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware - legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		workers, depth, err := convertQueue.Stats(c.Context())
		return c.JSON(fiber.Map{
			"status": "ok",
			"broker": fiber.Map{
				"available": err == nil,
				"workers":   workers,
				"depth":     depth,
			},
			"services": fiber.Map{
				"inference": false,
				"storage":   false,
				"auth":      true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	convert := api.Group("/convert")
	convert.Post("/", convertHandler.Submit)
	convert.Get("/status/:jobId", convertHandler.Status)
	convert.Get("/result/:jobId", convertHandler.Result)
	convert.Post("/cancel/:jobId", convertHandler.Cancel)

	batch := api.Group("/batch")
	batch.Post("/", batchHandler.Submit)
	batch.Get("/:batchId", batchHandler.Get)

	return &testApp{app: app, queue: convertQueue, store: jobStore}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "pagemill-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts the error code from an error envelope.
func errorCode(t *testing.T, result map[string]interface{}) string {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}
