package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"data/tambola.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisURL selects the Redis claim locker. Empty keeps locks in
	// process, which is only safe with a single server instance.
	RedisURL     string        `env:"REDIS_URL"`
	ClaimLockTTL time.Duration `env:"CLAIM_LOCK_TTL" envDefault:"5s"`

	HostTokenSecret string        `env:"HOST_TOKEN_SECRET" envDefault:"dev-secret-change-me"`
	HostTokenTTL    time.Duration `env:"HOST_TOKEN_TTL" envDefault:"168h"`

	CORSOrigins        []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	PatternPresetsFile string   `env:"PATTERN_PRESETS_FILE"`

	// StaticDir, when set, is a built web client served for every path the
	// API does not handle.
	StaticDir string `env:"STATIC_DIR"`
}

// Load reads an optional .env file, then the environment. Variables already
// set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required with DB_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.ClaimLockTTL <= 0 {
		return nil, errors.New("CLAIM_LOCK_TTL must be positive")
	}
	return &cfg, nil
}
