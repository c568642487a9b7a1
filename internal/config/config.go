package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Inference InferenceConfig
	Storage   StorageConfig
	OIDC      OIDCConfig
	Worker    WorkerConfig
	Store     StoreConfig
	Batch     BatchConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
	// BodyLimitMB bounds upload size; documents are sent inline as base64.
	BodyLimitMB int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	ConvertPerHour int
	BatchPerHour   int
}

// InferenceConfig locates the OCR/layout inference sidecar the ModelCache
// wraps.
type InferenceConfig struct {
	ServiceURL string
	Timeout    int // seconds
	Device     string
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type OIDCConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type WorkerConfig struct {
	Enabled bool
	// Concurrency is jobs-in-flight per process. The model occupies the
	// compute resource exclusively, so the default is 1; scale with more
	// processes, not more goroutines.
	Concurrency    int
	ConvertTimeout int // seconds, hard bound on one conversion
	MaxRetry       int // redelivery bound for infrastructure errors
}

type StoreConfig struct {
	RetentionHours int
}

type BatchConfig struct {
	FailurePolicy string // "strict" or "partial"
	MaxDocuments  int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCOUNT_ID")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.convert_per_hour", "RATELIMIT_CONVERT_PER_HOUR")
	_ = viper.BindEnv("ratelimit.batch_per_hour", "RATELIMIT_BATCH_PER_HOUR")
	_ = viper.BindEnv("inference.service_url", "INFERENCE_SERVICE_URL")
	_ = viper.BindEnv("inference.timeout", "INFERENCE_TIMEOUT")
	_ = viper.BindEnv("inference.device", "INFERENCE_DEVICE")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("oidc.domain", "OIDC_DOMAIN")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("worker.enabled", "WORKER_ENABLED")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.convert_timeout", "WORKER_CONVERT_TIMEOUT")
	_ = viper.BindEnv("worker.max_retry", "WORKER_MAX_RETRY")
	_ = viper.BindEnv("store.retention_hours", "STORE_RETENTION_HOURS")
	_ = viper.BindEnv("batch.failure_policy", "BATCH_FAILURE_POLICY")
	_ = viper.BindEnv("batch.max_documents", "BATCH_MAX_DOCUMENTS")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.body_limit_mb", 100)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.convert_per_hour", 60)
	viper.SetDefault("ratelimit.batch_per_hour", 10)

	// Inference sidecar defaults
	viper.SetDefault("inference.service_url", "http://localhost:8501")
	viper.SetDefault("inference.timeout", 120)
	viper.SetDefault("inference.device", "cpu")

	// Worker defaults
	viper.SetDefault("worker.enabled", true)
	viper.SetDefault("worker.concurrency", 1)
	viper.SetDefault("worker.convert_timeout", 600)
	viper.SetDefault("worker.max_retry", 2)

	// Store / batch defaults
	viper.SetDefault("store.retention_hours", 24)
	viper.SetDefault("batch.failure_policy", "strict")
	viper.SetDefault("batch.max_documents", 100)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("server.port"),
			Env:         viper.GetString("server.env"),
			LogLevel:    viper.GetString("server.log_level"),
			ApiDomain:   viper.GetString("server.api_domain"),
			BodyLimitMB: viper.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			ConvertPerHour: viper.GetInt("ratelimit.convert_per_hour"),
			BatchPerHour:   viper.GetInt("ratelimit.batch_per_hour"),
		},
		Inference: InferenceConfig{
			ServiceURL: viper.GetString("inference.service_url"),
			Timeout:    viper.GetInt("inference.timeout"),
			Device:     viper.GetString("inference.device"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		OIDC: OIDCConfig{
			Domain:   viper.GetString("oidc.domain"),
			ClientID: viper.GetString("oidc.client_id"),
			Issuer:   viper.GetString("oidc.issuer"),
		},
		Worker: WorkerConfig{
			Enabled:        viper.GetBool("worker.enabled"),
			Concurrency:    viper.GetInt("worker.concurrency"),
			ConvertTimeout: viper.GetInt("worker.convert_timeout"),
			MaxRetry:       viper.GetInt("worker.max_retry"),
		},
		Store: StoreConfig{
			RetentionHours: viper.GetInt("store.retention_hours"),
		},
		Batch: BatchConfig{
			FailurePolicy: viper.GetString("batch.failure_policy"),
			MaxDocuments:  viper.GetInt("batch.max_documents"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}

	return cfg, nil
}
