package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		dsn  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key  = "c29tZV9zZWNyZXQ="
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name string
		addr string
		dsn  string
		key  string
		orig []string
		err  bool
	}{
		{
			name: "valid config",
			addr: addr,
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  false,
		},
		{
			name: "empty address",
			addr: "",
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty DSN",
			addr: addr,
			dsn:  "",
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty signing key",
			addr: addr,
			dsn:  dsn,
			key:  "",
			orig: orig,
			err:  true,
		},
		{
			name: "invalid base64 signing key",
			addr: addr,
			dsn:  dsn,
			key:  "not_base64!",
			orig: orig,
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.dsn, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, tc.orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.Equal(t, []byte("some_secret"), config.SigningKey, "expected signing key to be decoded")
		})
	}
}

func TestNewConfigTunableDefaults(t *testing.T) {
	cfg, err := NewConfig("localhost:8080", "host=localhost", "c29tZV9zZWNyZXQ=", nil)
	assert.NoError(t, err)

	assert.Equal(t, 300*time.Millisecond, cfg.BroadcastGrace)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.DedupWindow)
	assert.Equal(t, 15*time.Minute, cfg.NotifyThreshold)
}

func TestNewConfigTunablesFromEnv(t *testing.T) {
	t.Setenv("CHAT_BROADCAST_GRACE", "150ms")
	t.Setenv("CHAT_POLL_INTERVAL", "10s")

	cfg, err := NewConfig("localhost:8080", "host=localhost", "c29tZV9zZWNyZXQ=", nil)
	assert.NoError(t, err)

	assert.Equal(t, 150*time.Millisecond, cfg.BroadcastGrace)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
}

func TestNewConfigRejectsNonPositiveIntervals(t *testing.T) {
	t.Setenv("CHAT_POLL_INTERVAL", "0s")

	_, err := NewConfig("localhost:8080", "host=localhost", "c29tZV9zZWNyZXQ=", nil)
	assert.Error(t, err, "a zero poll interval would disable the fallback path")
}
