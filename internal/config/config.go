package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the AI chat relay service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8016"`

	// Upstream chat-completions API configuration
	UpstreamBaseURL string `envconfig:"UPSTREAM_BASE_URL" default:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	UpstreamAPIKey  string `envconfig:"UPSTREAM_API_KEY" required:"true"`
	Model           string `envconfig:"MODEL" default:"qwen-omni-turbo"`
	UpstreamTimeout int    `envconfig:"UPSTREAM_TIMEOUT" default:"60"` // seconds

	// Audio configuration
	SampleRate int `envconfig:"SAMPLE_RATE" default:"24000"` // PCM16 sample rate in Hz

	// Adaptive playback buffer policy. Depth thresholds are counted in
	// fragments, waits are milliseconds.
	MinBuffer       int `envconfig:"MIN_BUFFER" default:"8"`         // Fragments buffered before a merged flush
	MaxMerge        int `envconfig:"MAX_MERGE" default:"12"`         // Max fragments merged into one playback call
	MinMerge        int `envconfig:"MIN_MERGE" default:"4"`          // Below this, wait for more before playing
	BufferShortWait int `envconfig:"BUFFER_SHORT_WAIT" default:"50"` // ms to wait when close to MinBuffer
	BufferTailWait  int `envconfig:"BUFFER_TAIL_WAIT" default:"100"` // ms to wait before flushing a short tail
	BufferIdleWait  int `envconfig:"BUFFER_IDLE_WAIT" default:"10"`  // ms to sleep when the queue is empty

	// Call relay flush policy: buffered call audio is submitted upstream
	// once either threshold is crossed
	FlushChunks   int `envconfig:"FLUSH_CHUNKS" default:"5"`     // Chunks accumulated before an upstream flush
	FlushInterval int `envconfig:"FLUSH_INTERVAL" default:"300"` // ms since last flush before forcing one

	// WebSocket liveness configuration
	PingInterval int `envconfig:"PING_INTERVAL" default:"30"` // seconds between server pings
	IdleTimeout  int `envconfig:"IDLE_TIMEOUT" default:"120"` // seconds of inactivity before teardown

	// Silence detection on inbound call audio (triggers an early flush)
	SilenceThreshold float64 `envconfig:"SILENCE_THRESHOLD" default:"500.0"` // RMS energy threshold
	SilenceFrames    int     `envconfig:"SILENCE_FRAMES" default:"10"`       // Silent frames to mark end of speech

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Client reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"3000"`           // Client reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.UpstreamAPIKey == "" {
		return nil, fmt.Errorf("UPSTREAM_API_KEY is required")
	}
	if cfg.MinMerge > cfg.MinBuffer {
		return nil, fmt.Errorf("MIN_MERGE (%d) must not exceed MIN_BUFFER (%d)", cfg.MinMerge, cfg.MinBuffer)
	}
	if cfg.MaxMerge < cfg.MinBuffer {
		return nil, fmt.Errorf("MAX_MERGE (%d) must not be below MIN_BUFFER (%d)", cfg.MaxMerge, cfg.MinBuffer)
	}

	return &cfg, nil
}

// UpstreamRequestTimeout returns the upstream request timeout as a duration
func (c *Config) UpstreamRequestTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Second
}

// FlushIntervalDuration returns the call relay flush interval as a duration
func (c *Config) FlushIntervalDuration() time.Duration {
	return time.Duration(c.FlushInterval) * time.Millisecond
}

// PingIntervalDuration returns the WebSocket ping interval as a duration
func (c *Config) PingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

// IdleTimeoutDuration returns the WebSocket idle timeout as a duration
func (c *Config) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}
