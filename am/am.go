package am

// Config represents the zbulk configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Bulk     BulkConfig     `mapstructure:"bulk"`
	Zoho     ZohoConfig     `mapstructure:"zoho"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
}

// DatabaseConfig configures the SQLite progress database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the websocket server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// BulkConfig configures defaults applied to bulk jobs that don't set their own
// options, and the limits every job is held to.
type BulkConfig struct {
	DefaultConcurrency       int  `mapstructure:"default_concurrency"`         // Items in flight per window (default: 1)
	MaxConcurrency           int  `mapstructure:"max_concurrency"`             // Upper bound a client may request (default: 10)
	DefaultDelaySeconds      int  `mapstructure:"default_delay_seconds"`       // Wait between windows (default: 0)
	DefaultStopAfterFailures int  `mapstructure:"default_stop_after_failures"` // Auto-pause threshold, 0 = disabled
	Countdown                bool `mapstructure:"countdown"`                   // Emit job_countdown during delays (default: true)
	ItemTimeoutSeconds       int  `mapstructure:"item_timeout_seconds"`        // Per remote call, 0 = none (default: 60)
	MaxRetries               int  `mapstructure:"max_retries"`                 // Retries for retryable failures (default: 0)
	RetryBackoffMS           int  `mapstructure:"retry_backoff_ms"`            // Base backoff between retries (default: 500)
	MaxItems                 int  `mapstructure:"max_items"`                   // Rows accepted per job, 0 = unlimited (default: 10000)
}

// ZohoConfig configures remote calls to Zoho products
type ZohoConfig struct {
	DataCenter            string `mapstructure:"data_center"`             // com, eu, in, com.au, jp, ca, com.cn, sa
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"` // HTTP client timeout (default: 30)
	RequestsPerMinute     int    `mapstructure:"requests_per_minute"`     // Per profile, 0 = unlimited
	AllowPrivateHosts     bool   `mapstructure:"allow_private_hosts"`     // Allow loopback/private base URLs (testing, proxies)
}

// ProfilesConfig configures where connection profiles live
type ProfilesConfig struct {
	Path string `mapstructure:"path"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
