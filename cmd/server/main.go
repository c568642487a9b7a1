package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/pagemill/api/internal/auth"
	"github.com/pagemill/api/internal/client"
	"github.com/pagemill/api/internal/config"
	"github.com/pagemill/api/internal/converter"
	"github.com/pagemill/api/internal/handler"
	"github.com/pagemill/api/internal/middleware"
	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/queue"
	"github.com/pagemill/api/internal/service"
	"github.com/pagemill/api/internal/store"
	"github.com/pagemill/api/internal/worker"
	ws "github.com/pagemill/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize job store and broker queue
	retention := time.Duration(cfg.Store.RetentionHours) * time.Hour
	jobStore := store.NewRedisStore(redisClient, retention)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	convertQueue := queue.NewAsynqQueue(redisOpt, retention, cfg.Worker.MaxRetry)
	defer convertQueue.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	inferenceClient := client.NewInferenceClient(&cfg.Inference)

	// Initialize R2 client (optional - continues if not configured)
	var storageClient client.StorageClient
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storageClient = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, extracted assets are inlined")
	}

	// Initialize OIDC JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.OIDC.Issuer != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.OIDC)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize services
	convertService := service.NewConvertService(jobStore, convertQueue)
	batchService := service.NewBatchService(jobStore, convertQueue,
		model.BatchFailurePolicy(cfg.Batch.FailurePolicy), cfg.Batch.MaxDocuments)

	// Initialize handlers
	convertHandler := handler.NewConvertHandler(convertService, validate)
	batchHandler := handler.NewBatchHandler(batchService, validate)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		workers, depth, err := convertQueue.Stats(c.Context())
		brokerOK := err == nil
		inferenceOK := inferenceClient.IsConfigured()
		if inferenceOK {
			hctx, hcancel := context.WithTimeout(c.Context(), 2*time.Second)
			inferenceOK = inferenceClient.HealthCheck(hctx) == nil
			hcancel()
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"broker": fiber.Map{
				"available": brokerOK,
				"workers":   workers,
				"depth":     depth,
			},
			"services": fiber.Map{
				"inference": inferenceOK,
				"storage":   storageClient != nil,
				"auth":      jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Conversion routes
	convert := api.Group("/convert")
	convert.Post("/", rateLimiter.ConvertLimit(cfg.RateLimit.ConvertPerHour), convertHandler.Submit)
	convert.Get("/status/:jobId", convertHandler.Status)
	convert.Get("/result/:jobId", convertHandler.Result)
	convert.Post("/cancel/:jobId", convertHandler.Cancel)

	// Batch routes
	batch := api.Group("/batch")
	batch.Post("/", rateLimiter.BatchLimit(cfg.RateLimit.BatchPerHour), batchHandler.Submit)
	batch.Get("/:batchId", batchHandler.Get)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	if cfg.Worker.Enabled {
		go startWorkerServer(cfg, redisOpt, jobStore, inferenceClient, storageClient, hub)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	jobStore store.Store,
	inferenceClient *client.InferenceClient,
	storageClient client.StorageClient,
	hub *ws.Hub,
) {
	// Load the model cache before accepting any task. A worker that cannot
	// warm its models must not dequeue work.
	var runner client.InferenceRunner
	if inferenceClient.IsConfigured() {
		runner = inferenceClient
	}
	cache, err := converter.LoadModelCache(context.Background(), &cfg.Inference, runner)
	if err != nil {
		log.Fatalf("Model cache initialization failed: %v", err)
	}
	log.Printf("Model cache ready (device=%s, ocr=%v)", cache.Device(), cache.OCREnabled())

	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				queue.QueueConvert: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	timeout := time.Duration(cfg.Worker.ConvertTimeout) * time.Second
	convertWorker := worker.NewConvertWorker(
		jobStore,
		converter.NewFitzConverter(storageClient),
		cache,
		hub,
		timeout,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeConvert, convertWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
