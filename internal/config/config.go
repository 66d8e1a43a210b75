package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	PresencePostgres = "postgres"
	PresenceRedis    = "redis"
	PresenceMemory   = "memory"

	BroadcastRedis = "redis"
	BroadcastLocal = "local"
)

type Config struct {
	Addr           string        `env:"ADDR,default=:8080"`
	DatabaseDSN    string        `env:"DB_DSN,required=true" validate:"required"`
	JWTSecret      string        `env:"JWT_SECRET,required=true" validate:"required,min=16"`
	RedisAddr      string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL,default=60m" validate:"gt=0"`
	// PresenceBackend selects where online/last-seen flags are written.
	PresenceBackend string `env:"PRESENCE_BACKEND,default=postgres" validate:"oneof=postgres redis memory"`
	// BroadcastBackend selects between cross-instance fan-out through Redis
	// pub/sub and a purely in-process registry.
	BroadcastBackend string        `env:"BROADCAST_BACKEND,default=redis" validate:"oneof=redis local"`
	SendBufferSize   int           `env:"SEND_BUFFER_SIZE,default=256" validate:"min=1"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT,default=5s" validate:"gt=0"`
	ShutdownGrace    time.Duration `env:"SHUTDOWN_GRACE,default=10s" validate:"gt=0"`
	AllowedOrigins   string        `env:"ALLOWED_ORIGINS"`
}

var validate = validator.New()

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Origins returns the configured websocket origin allow-list. An empty list
// means every origin is accepted.
func (c Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	parts = lo.Map(parts, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Compact(parts)
}

// NeedsRedis reports whether any configured backend talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.PresenceBackend == PresenceRedis || c.BroadcastBackend == BroadcastRedis
}
