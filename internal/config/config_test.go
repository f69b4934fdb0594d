package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"expense-api/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, storage.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "expenses.db", cfg.DBPath)
	assert.Equal(t, 720*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.HasAdmin())
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/expenses")
	t.Setenv("TOKEN_TTL", "0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("ADMIN_USER", "root")
	t.Setenv("ADMIN_PASSWORD", "toor")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, storage.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, time.Duration(0), cfg.TokenTTL)
	assert.True(t, cfg.HasAdmin())

	opts := cfg.StorageOptions()
	assert.Equal(t, "postgres://u:p@localhost/expenses", opts.DatabaseURL)

	logCfg := cfg.LoggerConfig()
	assert.Equal(t, slog.LevelDebug, logCfg.Level)
	assert.Equal(t, "json", logCfg.Format)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\ndb_path: /tmp/x.db\ntoken_ttl: 1h\n"), 0o600))
	t.Setenv("PORT", "6060")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Port, "environment wins over the file")
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := &Config{
		Port:            "http",
		DBDriver:        "oracle",
		TokenTTL:        -time.Second,
		ShutdownTimeout: 0,
		AdminUser:       "root",
		LogLevel:        "loud",
		LogFormat:       "xml",
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"invalid port", "invalid db driver", "token ttl", "shutdown timeout", "ADMIN_USER", "unknown log level", "invalid log format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateDriverRequirements(t *testing.T) {
	base := Config{Port: "8080", ShutdownTimeout: time.Second, LogLevel: "info", LogFormat: "text"}

	sqlite := base
	sqlite.DBDriver = storage.DriverSQLite
	assert.ErrorContains(t, sqlite.Validate(), "DB_PATH")

	pg := base
	pg.DBDriver = storage.DriverPostgres
	assert.ErrorContains(t, pg.Validate(), "DATABASE_URL")

	port := base
	port.DBDriver = storage.DriverSQLite
	port.DBPath = "x.db"
	port.Port = "70000"
	assert.ErrorContains(t, port.Validate(), "between 1 and 65535")
}
