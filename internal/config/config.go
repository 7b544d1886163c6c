package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the dictation gateway service.
type Config struct {
	// Server configuration
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"` // grace period for draining sessions

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2-medical"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`

	// Session limits
	MaxSessions         int           `envconfig:"MAX_SESSIONS" default:"100"`           // concurrent session ceiling
	SessionIdleTimeout  time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"300s"`  // idle eviction threshold
	MaxRecordingSeconds int           `envconfig:"MAX_RECORDING_SECONDS" default:"1800"` // accumulated audio ceiling
	HeartbeatInterval   time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`

	// Persistence configuration. An empty DATABASE_URL falls back to
	// in-memory transcript records; an empty AUDIO_STORE_DIR keeps
	// finalized recordings in memory as well.
	DatabaseURL   string `envconfig:"DATABASE_URL" default:""`
	AudioStoreDir string `envconfig:"AUDIO_STORE_DIR" default:""`

	// Auth tokens accepted at connect time, comma separated as
	// token:user_id pairs. Empty means any token maps to itself.
	AuthTokens map[string]string `envconfig:"AUTH_TOKENS"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`
	ReconnectMaxAttempts       int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`
	ReconnectBackoff           time.Duration `envconfig:"RECONNECT_BACKOFF" default:"1s"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from the environment, first merging in a
// .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads configuration from environment variables only,
// skipping .env lookup (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("MAX_SESSIONS must be positive, got %d", cfg.MaxSessions)
	}
	if cfg.MaxRecordingSeconds <= 0 {
		return nil, fmt.Errorf("MAX_RECORDING_SECONDS must be positive, got %d", cfg.MaxRecordingSeconds)
	}
	if cfg.ReconnectMaxAttempts < 0 {
		return nil, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", cfg.ReconnectMaxAttempts)
	}

	return &cfg, nil
}

// MaxRecordingDuration returns the accumulated audio ceiling.
func (c *Config) MaxRecordingDuration() time.Duration {
	return time.Duration(c.MaxRecordingSeconds) * time.Second
}
