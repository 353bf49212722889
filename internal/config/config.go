package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddr     string   `ignored:"true"`
	DatabaseDSN    string   `ignored:"true"`
	SigningKey     []byte   `ignored:"true"`
	AllowedOrigins []string `ignored:"true"`

	// BroadcastGrace bounds how long a publish waits for a first room
	// subscriber before broadcasting anyway.
	BroadcastGrace time.Duration `envconfig:"broadcast_grace" default:"300ms"`
	// PollInterval is the cadence of the polling fallback resync.
	PollInterval time.Duration `envconfig:"poll_interval" default:"3s"`
	// DedupWindow is how long a rendered message id stays in the
	// deduplication ledger.
	DedupWindow time.Duration `envconfig:"dedup_window" default:"5s"`
	// NotifyThreshold is how stale a participant's read cursor must be
	// before a new message triggers a best-effort notification.
	NotifyThreshold time.Duration `envconfig:"notify_threshold" default:"15m"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}

	// operational tunables come from the environment
	if err := envconfig.Process("chat", cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if cfg.BroadcastGrace < 0 || cfg.PollInterval <= 0 || cfg.DedupWindow <= 0 || cfg.NotifyThreshold <= 0 {
		return nil, fmt.Errorf("intervals must be positive")
	}

	return cfg, nil
}
