package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messaging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
server:
  host: 127.0.0.1
  port: 9090
  shutdown_timeout: 5s
store:
  driver: postgres
  dsn: postgres://localhost/messaging
limits:
  max_body_size: 2048
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 2048, cfg.Limits.MaxBodySize)
	assert.Equal(t, "json", cfg.Log.Format)
	// Unset keys keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")
	t.Setenv("MESSAGING_PORT", "7070")
	t.Setenv("MESSAGING_STORE_DRIVER", "mongo")
	t.Setenv("MESSAGING_STORE_DSN", "mongodb://localhost:27017")
	t.Setenv("MESSAGING_OTEL_ENABLED", "true")
	t.Setenv("MESSAGING_SHUTDOWN_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "messaging", cfg.Store.Database)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "server: [1, 2"))
		assert.Error(t, err)
	})

	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("MESSAGING_PORT", "eighty")
		_, err := Load("")
		assert.ErrorContains(t, err, "MESSAGING_PORT")
	})

	t.Run("bad env bool", func(t *testing.T) {
		t.Setenv("MESSAGING_OTEL_ENABLED", "maybe")
		_, err := Load("")
		assert.ErrorContains(t, err, "MESSAGING_OTEL_ENABLED")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store"},
		{"pgx with dsn", func(c *Config) {
			c.Store.Driver = DriverPgx
			c.Store.DSN = "postgres://localhost/messaging"
		}, ""},
		{"mongo without database", func(c *Config) {
			c.Store.Driver = DriverMongo
			c.Store.DSN = "mongodb://localhost"
			c.Store.Database = ""
		}, "store"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
