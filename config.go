package pinboard

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const dayInMillis int64 = 24 * 60 * 60 * 1000

// Config controls a single store. A zero ExpireDays keeps records forever.
type Config struct {
	ExpireDays int
	Now        func() time.Time
	NewID      func() string
	Logger     *slog.Logger
}

type Option func(cfg *Config)

func WithExpireDays(days int) Option {
	return func(cfg *Config) {
		cfg.ExpireDays = days
	}
}

func WithClock(now func() time.Time) Option {
	return func(cfg *Config) {
		cfg.Now = now
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(cfg *Config) {
		cfg.NewID = fn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func newConfig(opts []Option) Config {
	var cfg Config
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.ExpireDays < 0 {
		cfg.ExpireDays = 0
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg
}
