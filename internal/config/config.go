package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration
type Config struct {
	// Database
	DBDriver    string `envconfig:"DB_DRIVER" default:"mysql"`
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBPort      string `envconfig:"DB_PORT" default:"3306"`
	DBUser      string `envconfig:"DB_USER"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME"`
	DBPath      string `envconfig:"DB_PATH" default:"potluck.db"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	// Server
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	Env        string `envconfig:"ENV" default:"development"`

	// CORS and websocket origin check
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://127.0.0.1:3000"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET" default:"potluck-dev-secret"`

	// Empty disables cross-instance wake-ups and shared presence.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// Realtime cadences
	MessagePollInterval time.Duration `envconfig:"MESSAGE_POLL_INTERVAL" default:"2s"`
	ReceiptPollInterval time.Duration `envconfig:"RECEIPT_POLL_INTERVAL" default:"5s"`
	KeepaliveInterval   time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"25s"`

	// Rows younger than this are not yet pushed. Covers out of order commits
	// of concurrent inserts; 0 disables it.
	CommitGrace time.Duration `envconfig:"COMMIT_GRACE" default:"300ms"`
}

// DevJWTSecret is the JWT_SECRET default, accepted only in development.
const DevJWTSecret = "potluck-dev-secret"

// Load loads configuration from environment variables
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	switch cfg.DBDriver {
	case "mysql", "sqlite3":
	default:
		return Config{}, fmt.Errorf("load config: unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if cfg.Env != "development" && (cfg.JWTSecret == "" || cfg.JWTSecret == DevJWTSecret) {
		return Config{}, fmt.Errorf("load config: JWT_SECRET must be set outside development (ENV=%s)", cfg.Env)
	}
	if cfg.CommitGrace < 0 {
		return Config{}, fmt.Errorf("load config: COMMIT_GRACE must not be negative")
	}

	return cfg, nil
}
