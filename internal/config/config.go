// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// AuthConfig configures token signing and unauthenticated paths.
type AuthConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	ExcludedPaths []string      `mapstructure:"excluded_paths"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

// DatabaseConfig selects Postgres. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	SummariesTable  string        `mapstructure:"summaries_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend  string `mapstructure:"backend"`
	Name     string `mapstructure:"name"`
	Capacity int    `mapstructure:"capacity"`
}

// RedisConfig configures the Redis queue.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PromoteBatch int           `mapstructure:"promote_batch"`
	// RequeueOnStart returns unsettled deliveries to the ready list when a
	// worker process starts. Enable it only for a single consumer process.
	RequeueOnStart bool `mapstructure:"requeue_on_start"`
}

// PubSubConfig configures the Pub/Sub queue.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// WorkerConfig controls the consumer pool.
type WorkerConfig struct {
	Count       int           `mapstructure:"count"`
	Embedded    bool          `mapstructure:"embedded"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
}

// ProbeConfig controls the submission-time URL check.
type ProbeConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MinContentLength int64         `mapstructure:"min_content_length"`
	// UserAgent is sent with probe requests. It is a browser agent so sites
	// that turn away bots are not misreported as non-pages.
	UserAgent string `mapstructure:"user_agent"`
}

// SummarizerConfig sizes the map-reduce pipeline and its inner retry.
type SummarizerConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	TokenMax          int           `mapstructure:"token_max"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

// LLMConfig configures the chat completion endpoint.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// FetcherConfig configures document loading.
type FetcherConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBodySize int           `mapstructure:"max_body_size"`
}

// HeadlessConfig configures the JavaScript rendering fallback.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	Settle             time.Duration `mapstructure:"settle"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// RateLimitConfig paces document fetches per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
	// Hosts overrides RPS per host; zero disables pacing for that host.
	Hosts []HostRate `mapstructure:"hosts"`
}

// HostRate is one per-host pacing override. A list is used because viper
// splits map keys on dots.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// HostRPS returns the overrides keyed by host.
func (c RateLimitConfig) HostRPS() map[string]float64 {
	out := make(map[string]float64, len(c.Hosts))
	for _, h := range c.Hosts {
		out[h.Host] = h.RPS
	}
	return out
}

// StorageConfig selects the summary archive.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. Environment variables use the
// USM_ prefix with dots replaced by underscores, e.g. USM_DATABASE_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("USM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.token_ttl", 60*time.Minute)
	v.SetDefault("auth.excluded_paths", []string{"/health", "/readyz", "/metrics", "/v1/auth/login", "/v1/auth/signup"})
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.summaries_table", "summaries")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.name", "summarization_queue")
	v.SetDefault("queue.capacity", 1024)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poll_interval", time.Second)
	v.SetDefault("redis.promote_batch", 100)
	v.SetDefault("redis.requeue_on_start", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "summarization_queue")
	v.SetDefault("pubsub.subscription", "summarization_queue-workers")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_delay", 60*time.Second)
	v.SetDefault("worker.job_timeout", 5*time.Minute)

	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("probe.min_content_length", 100)
	v.SetDefault("probe.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	v.SetDefault("summarizer.chunk_size", 4000)
	v.SetDefault("summarizer.token_max", 4000)
	v.SetDefault("summarizer.max_parallel", 4)
	v.SetDefault("summarizer.retry_attempts", 3)
	v.SetDefault("summarizer.retry_initial_delay", 4*time.Second)
	v.SetDefault("summarizer.retry_max_delay", 10*time.Second)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("fetcher.user_agent", "usm-summarizer/1.0")
	v.SetDefault("fetcher.timeout", 15*time.Second)
	v.SetDefault("fetcher.max_body_size", 10<<20)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", 45*time.Second)
	v.SetDefault("headless.settle", 500*time.Millisecond)
	v.SetDefault("headless.promotion_threshold", 2048)

	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 2)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "summaries")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("telemetry.service_name", "usm")
	v.SetDefault("telemetry.environment", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if len(c.Auth.SecretKey) < 16 {
		errs = append(errs, errors.New("auth.secret_key must be at least 16 characters"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be > 0"))
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis queue"))
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" || c.PubSub.Subscription == "" {
			errs = append(errs, errors.New("pubsub.project_id, pubsub.topic and pubsub.subscription are required for the pubsub queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q must be memory, redis or pubsub", c.Queue.Backend))
	}
	if c.Worker.Count < 0 {
		errs = append(errs, errors.New("worker.count must be >= 0"))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, errors.New("worker.max_attempts must be > 0"))
	}
	if c.Summarizer.ChunkSize <= 0 || c.Summarizer.TokenMax <= 0 {
		errs = append(errs, errors.New("summarizer.chunk_size and summarizer.token_max must be > 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local archive"))
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be none, memory, local or gcs", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// NeedsModel reports whether the process runs workers and therefore needs
// llm.api_key.
func (c Config) NeedsModel(workerMode bool) bool {
	return workerMode || (c.Worker.Embedded && c.Worker.Count > 0)
}
