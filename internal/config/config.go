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
	Upload    UploadConfig
	Pipeline  PipelineConfig
	Reaper    ReaperConfig
	Engine    EngineConfig
	R2        R2Config
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// RouteLimit is one token bucket configuration: Burst is the bucket
// capacity, PerSec the steady refill rate in tokens per second.
type RouteLimit struct {
	Burst  int
	PerSec float64
}

type RateLimitConfig struct {
	Upload  RouteLimit
	Convert RouteLimit
	Query   RouteLimit
}

type UploadConfig struct {
	SpoolDir      string
	SessionTTLMin int
	MaxChunkBytes int64
}

type PipelineConfig struct {
	MaxRetries     int
	RetryBaseMs    int
	RetryMaxMs     int
	JobDeadlineMin int
}

type ReaperConfig struct {
	IntervalSec int
}

type EngineConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

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
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.upload_burst", "RATELIMIT_UPLOAD_BURST")
	_ = viper.BindEnv("ratelimit.upload_per_sec", "RATELIMIT_UPLOAD_PER_SEC")
	_ = viper.BindEnv("ratelimit.convert_burst", "RATELIMIT_CONVERT_BURST")
	_ = viper.BindEnv("ratelimit.convert_per_sec", "RATELIMIT_CONVERT_PER_SEC")
	_ = viper.BindEnv("ratelimit.query_burst", "RATELIMIT_QUERY_BURST")
	_ = viper.BindEnv("ratelimit.query_per_sec", "RATELIMIT_QUERY_PER_SEC")
	_ = viper.BindEnv("upload.spool_dir", "UPLOAD_SPOOL_DIR")
	_ = viper.BindEnv("upload.session_ttl_min", "UPLOAD_SESSION_TTL_MIN")
	_ = viper.BindEnv("upload.max_chunk_bytes", "UPLOAD_MAX_CHUNK_BYTES")
	_ = viper.BindEnv("pipeline.max_retries", "PIPELINE_MAX_RETRIES")
	_ = viper.BindEnv("pipeline.retry_base_ms", "PIPELINE_RETRY_BASE_MS")
	_ = viper.BindEnv("pipeline.retry_max_ms", "PIPELINE_RETRY_MAX_MS")
	_ = viper.BindEnv("pipeline.job_deadline_min", "PIPELINE_JOB_DEADLINE_MIN")
	_ = viper.BindEnv("reaper.interval_sec", "REAPER_INTERVAL_SEC")
	_ = viper.BindEnv("engine.service_url", "ENGINE_SERVICE_URL")
	_ = viper.BindEnv("engine.timeout", "ENGINE_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")

	// Rate limit defaults: uploads are bursty, conversions are expensive
	viper.SetDefault("ratelimit.upload_burst", 60)
	viper.SetDefault("ratelimit.upload_per_sec", 2.0)
	viper.SetDefault("ratelimit.convert_burst", 5)
	viper.SetDefault("ratelimit.convert_per_sec", 0.05)
	viper.SetDefault("ratelimit.query_burst", 30)
	viper.SetDefault("ratelimit.query_per_sec", 5.0)

	viper.SetDefault("upload.spool_dir", "./data/uploads")
	viper.SetDefault("upload.session_ttl_min", 30)
	viper.SetDefault("upload.max_chunk_bytes", 8*1024*1024)

	viper.SetDefault("pipeline.max_retries", 2)
	viper.SetDefault("pipeline.retry_base_ms", 2000)
	viper.SetDefault("pipeline.retry_max_ms", 30000)
	viper.SetDefault("pipeline.job_deadline_min", 60)

	viper.SetDefault("reaper.interval_sec", 60)

	viper.SetDefault("engine.timeout", 300)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			Upload: RouteLimit{
				Burst:  viper.GetInt("ratelimit.upload_burst"),
				PerSec: viper.GetFloat64("ratelimit.upload_per_sec"),
			},
			Convert: RouteLimit{
				Burst:  viper.GetInt("ratelimit.convert_burst"),
				PerSec: viper.GetFloat64("ratelimit.convert_per_sec"),
			},
			Query: RouteLimit{
				Burst:  viper.GetInt("ratelimit.query_burst"),
				PerSec: viper.GetFloat64("ratelimit.query_per_sec"),
			},
		},
		Upload: UploadConfig{
			SpoolDir:      viper.GetString("upload.spool_dir"),
			SessionTTLMin: viper.GetInt("upload.session_ttl_min"),
			MaxChunkBytes: viper.GetInt64("upload.max_chunk_bytes"),
		},
		Pipeline: PipelineConfig{
			MaxRetries:     viper.GetInt("pipeline.max_retries"),
			RetryBaseMs:    viper.GetInt("pipeline.retry_base_ms"),
			RetryMaxMs:     viper.GetInt("pipeline.retry_max_ms"),
			JobDeadlineMin: viper.GetInt("pipeline.job_deadline_min"),
		},
		Reaper: ReaperConfig{
			IntervalSec: viper.GetInt("reaper.interval_sec"),
		},
		Engine: EngineConfig{
			ServiceURL: viper.GetString("engine.service_url"),
			Timeout:    viper.GetInt("engine.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
