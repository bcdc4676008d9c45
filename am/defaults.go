package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var defaultAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "zbulk.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", defaultAllowedOrigins)

	v.SetDefault("bulk.default_concurrency", 1)
	v.SetDefault("bulk.max_concurrency", 10)
	v.SetDefault("bulk.default_delay_seconds", 0)
	v.SetDefault("bulk.default_stop_after_failures", 0)
	v.SetDefault("bulk.countdown", true)
	v.SetDefault("bulk.item_timeout_seconds", 60)
	v.SetDefault("bulk.max_retries", 0)
	v.SetDefault("bulk.retry_backoff_ms", 500)
	v.SetDefault("bulk.max_items", 10000)

	v.SetDefault("zoho.data_center", "com")
	v.SetDefault("zoho.request_timeout_seconds", 30)
	v.SetDefault("zoho.requests_per_minute", 0)
	v.SetDefault("zoho.allow_private_hosts", false)

	v.SetDefault("profiles.path", "profiles.toml")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "ZBULK_DATABASE_PATH")
	v.BindEnv("profiles.path", "ZBULK_PROFILES_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "zbulk.db"
	}
	return c.Database.Path
}

// GetServerPort returns the configured port, or DefaultServerPort when unset
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS/websocket origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return defaultAllowedOrigins
	}
	return c.Server.AllowedOrigins
}

// ItemTimeout returns the per-item remote call timeout (0 = none)
func (b BulkConfig) ItemTimeout() time.Duration {
	return time.Duration(b.ItemTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base retry backoff
func (b BulkConfig) RetryBackoff() time.Duration {
	return time.Duration(b.RetryBackoffMS) * time.Millisecond
}

// DefaultDelay returns the default wait between windows
func (b BulkConfig) DefaultDelay() time.Duration {
	return time.Duration(b.DefaultDelaySeconds) * time.Second
}

// RequestTimeout returns the HTTP client timeout for remote calls
func (z ZohoConfig) RequestTimeout() time.Duration {
	if z.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(z.RequestTimeoutSeconds) * time.Second
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Bulk: {Concurrency: %d/%d, StopAfter: %d}, Zoho: {DC: %s}}",
		c.Database.Path, c.Server.Port, c.Bulk.DefaultConcurrency, c.Bulk.MaxConcurrency,
		c.Bulk.DefaultStopAfterFailures, c.Zoho.DataCenter)
}
