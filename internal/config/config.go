package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"expense-api/internal/log"
	"expense-api/internal/storage"

	"github.com/spf13/viper"
)

// Config holds the server settings.
type Config struct {
	// HTTP Server
	Port            string
	ShutdownTimeout time.Duration

	// Database
	DBDriver    string
	DBPath      string
	DatabaseURL string

	// Identity
	TokenTTL      time.Duration
	AdminUser     string
	AdminPassword string

	// Logging
	LogLevel  string
	LogFormat string
}

// Configuration keys. Each is also read from the upper-cased environment variable.
const (
	KeyPort            = "port"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyDBDriver        = "db_driver"
	KeyDBPath          = "db_path"
	KeyDatabaseURL     = "database_url"
	KeyTokenTTL        = "token_ttl"
	KeyAdminUser       = "admin_user"
	KeyAdminPassword   = "admin_password"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
)

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyShutdownTimeout, 10*time.Second)
	v.SetDefault(KeyDBDriver, storage.DriverSQLite)
	v.SetDefault(KeyDBPath, "expenses.db")
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyTokenTTL, 720*time.Hour)
	v.SetDefault(KeyAdminUser, "")
	v.SetDefault(KeyAdminPassword, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, log.FormatText)
	v.AutomaticEnv()
	return v
}

// Load reads configuration from the environment and, when configFile is
// set, from that file. Environment variables take precedence.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Config{
		Port:            v.GetString(KeyPort),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
		DBDriver:        strings.ToLower(v.GetString(KeyDBDriver)),
		DBPath:          v.GetString(KeyDBPath),
		DatabaseURL:     v.GetString(KeyDatabaseURL),
		TokenTTL:        v.GetDuration(KeyTokenTTL),
		AdminUser:       v.GetString(KeyAdminUser),
		AdminPassword:   v.GetString(KeyAdminPassword),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       strings.ToLower(v.GetString(KeyLogFormat)),
	}, nil
}

// Validate validates the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DBDriver {
	case storage.DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty when using the sqlite driver"))
		}
	case storage.DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when using the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid db driver '%s': must be one of [%s %s]",
			c.DBDriver, storage.DriverSQLite, storage.DriverPostgres))
	}

	if c.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid token ttl %s: must not be negative", c.TokenTTL))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid shutdown timeout %s: must be positive", c.ShutdownTimeout))
	}

	if (c.AdminUser == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_USER and ADMIN_PASSWORD must be set together"))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != log.FormatText && c.LogFormat != log.FormatJSON {
		errs = append(errs, fmt.Errorf("invalid log format '%s': must be %s or %s", c.LogFormat, log.FormatText, log.FormatJSON))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// StorageOptions returns the storage backend settings.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver:      c.DBDriver,
		Path:        c.DBPath,
		DatabaseURL: c.DatabaseURL,
	}
}

// LoggerConfig returns the logger settings. Validate must have passed.
func (c *Config) LoggerConfig() log.Config {
	level, _ := log.ParseLevel(c.LogLevel)
	cfg := log.DefaultConfig()
	cfg.Level = level
	cfg.Format = c.LogFormat
	return cfg
}

// HasAdmin reports whether a bootstrap staff account is configured.
func (c *Config) HasAdmin() bool {
	return c.AdminUser != "" && c.AdminPassword != ""
}
