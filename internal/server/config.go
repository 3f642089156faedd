package server

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/relay"
)

// Defaults applied when a setting is missing or out of range.
const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 32768
	defaultBurst          = 5
	defaultRefillInterval = time.Second
	defaultTokenMinutes   = 30
	defaultShutdown       = 10 * time.Second
	maxReplayLimit        = sendBufferSize / 2
)

// RateLimitConfig defines per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds every runtime setting of the server.
type Config struct {
	Port           string   `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" envDefault:"32768"`
	RateLimit      RateLimitConfig

	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:roomchat.db?_foreign_keys=on"`

	SecretKey                string `env:"SECRET_KEY" envDefault:"change-me"`
	Algorithm                string `env:"ALGORITHM" envDefault:"HS256"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	BcryptCost               int    `env:"BCRYPT_COST" envDefault:"12"`

	RelayBackend relay.Backend `env:"RELAY_BACKEND" envDefault:"none"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	NATSURL      string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	ReplayLimit int              `env:"HISTORY_REPLAY_LIMIT" envDefault:"50"`
	ReplayOrder chat.ReplayOrder `env:"HISTORY_REPLAY_ORDER" envDefault:"asc"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// DefaultConfig returns the configuration used when no environment is set.
func DefaultConfig() Config {
	var cfg Config
	// Defaults come from struct tags; an empty environment cannot fail.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg.Sanitize()
}

// ParseConfig reads the environment and then applies command-line
// overrides from args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Port, "addr", cfg.Port, "listen address")
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "SQLite DSN")
	relayBackend := fs.String("relay", string(cfg.RelayBackend), "broadcast relay backend: none, memory, redis or nats")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.RelayBackend = relay.Backend(*relayBackend)

	cfg = cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitize replaces out-of-range values with defaults and normalizes the
// origin list. MaxMessageSize never drops below chat.MaxFrameSize, so a
// message of valid length is never cut off by the read limit.
func (cfg Config) Sanitize() Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.MaxMessageSize < chat.MaxFrameSize {
		cfg.MaxMessageSize = chat.MaxFrameSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.AccessTokenExpireMinutes <= 0 {
		cfg.AccessTokenExpireMinutes = defaultTokenMinutes
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = chat.DefaultReplayLimit
	}
	if cfg.ReplayLimit > maxReplayLimit {
		cfg.ReplayLimit = maxReplayLimit
	}
	if cfg.ReplayOrder != chat.ReplayDescending {
		cfg.ReplayOrder = chat.ReplayAscending
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdown
	}
	if cfg.RelayBackend == "" {
		cfg.RelayBackend = relay.BackendNone
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins
	return cfg
}

// Validate rejects settings the server cannot run with.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY must not be empty"))
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must not be empty"))
	}
	switch cfg.RelayBackend {
	case relay.BackendNone, relay.BackendMemory, relay.BackendRedis, relay.BackendNATS:
	default:
		errs = append(errs, fmt.Errorf("RELAY_BACKEND %q is not one of none, memory, redis, nats", cfg.RelayBackend))
	}
	return errors.Join(errs...)
}

// TokenTTL is the access token lifetime.
func (cfg Config) TokenTTL() time.Duration {
	return time.Duration(cfg.AccessTokenExpireMinutes) * time.Minute
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (cfg Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
