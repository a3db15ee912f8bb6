package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	authapi "pulse/internal/auth/api"
	"pulse/internal/auth/session"
	"pulse/internal/realtime"
)

// Config is the full runtime configuration, loaded from PULSE_* environment
// variables. Nested sections carry their own prefixes so each subsystem owns
// its knob names.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`

	// RedisAddr selects Redis-backed session storage when set and no
	// database is configured.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// ReadinessRequireDB makes /readyz fail unless a reachable database
	// is configured.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB" envDefault:"false"`

	// DevSeedEmail and DevSeedPassword, when both set and no database is
	// configured, seed a single admin principal into the in-memory
	// directory so local logins work without Postgres.
	DevSeedEmail    string `env:"DEV_SEED_EMAIL"`
	DevSeedPassword string `env:"DEV_SEED_PASSWORD"`

	Session session.Config         `envPrefix:"SESSION_"`
	Auth    authapi.Config         `envPrefix:"AUTH_"`
	Gateway realtime.GatewayConfig `envPrefix:"WS_"`
}

// LoadConfig reads a .env file when present, then parses the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PULSE_"}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Session.Validate(); err != nil {
		return Config{}, fmt.Errorf("session config: %w", err)
	}
	return cfg, nil
}
