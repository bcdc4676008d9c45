package am

import "github.com/teranos/zbulk/errors"

var knownDataCenters = map[string]bool{
	"com": true, "eu": true, "in": true, "com.au": true,
	"jp": true, "ca": true, "com.cn": true, "sa": true,
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	// Concurrency: zero falls back to 1 at job start, negative is invalid
	if c.Bulk.DefaultConcurrency < 0 {
		return errors.Newf("bulk.default_concurrency must be >= 0, got %d", c.Bulk.DefaultConcurrency)
	}
	if c.Bulk.MaxConcurrency < 1 {
		return errors.Newf("bulk.max_concurrency must be >= 1, got %d", c.Bulk.MaxConcurrency)
	}
	if c.Bulk.DefaultConcurrency > c.Bulk.MaxConcurrency {
		return errors.Newf("bulk.default_concurrency (%d) exceeds bulk.max_concurrency (%d)",
			c.Bulk.DefaultConcurrency, c.Bulk.MaxConcurrency)
	}
	if c.Bulk.DefaultDelaySeconds < 0 {
		return errors.Newf("bulk.default_delay_seconds must be >= 0, got %d", c.Bulk.DefaultDelaySeconds)
	}
	if c.Bulk.DefaultStopAfterFailures < 0 {
		return errors.Newf("bulk.default_stop_after_failures must be >= 0, got %d", c.Bulk.DefaultStopAfterFailures)
	}
	if c.Bulk.ItemTimeoutSeconds < 0 {
		return errors.Newf("bulk.item_timeout_seconds must be >= 0, got %d", c.Bulk.ItemTimeoutSeconds)
	}
	if c.Bulk.MaxRetries < 0 {
		return errors.Newf("bulk.max_retries must be >= 0, got %d", c.Bulk.MaxRetries)
	}
	if c.Bulk.RetryBackoffMS < 0 {
		return errors.Newf("bulk.retry_backoff_ms must be >= 0, got %d", c.Bulk.RetryBackoffMS)
	}
	if c.Bulk.MaxItems < 0 {
		return errors.Newf("bulk.max_items must be >= 0, got %d", c.Bulk.MaxItems)
	}

	if c.Zoho.DataCenter != "" && !knownDataCenters[c.Zoho.DataCenter] {
		return errors.WithHint(
			errors.Newf("zoho.data_center %q is not a known Zoho data center", c.Zoho.DataCenter),
			"use one of: com, eu, in, com.au, jp, ca, com.cn, sa")
	}
	if c.Zoho.RequestsPerMinute < 0 {
		return errors.Newf("zoho.requests_per_minute must be >= 0, got %d", c.Zoho.RequestsPerMinute)
	}

	return nil
}
