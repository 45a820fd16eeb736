// Package config loads the daemon's runtime configuration from the
// environment, using the exact variable names and defaults the external
// interface defines.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of tunables the scheduler, querier, store, and
// master-list client read at startup. Every field maps to a single
// environment variable; there is no file-based configuration surface.
type Config struct {
	PostgresDSN string `envconfig:"POSTGRES_DSN" required:"true"`

	MasterListPollIntervalS int `envconfig:"MASTER_LIST_POLL_INTERVAL_S" default:"60"`
	MasterListMaxBackoffS   int `envconfig:"MASTER_LIST_MAX_BACKOFF_S" default:"300"`

	PollIntervalActiveS  int `envconfig:"POLL_INTERVAL_ACTIVE_S" default:"20"`
	PollIntervalEmptyS   int `envconfig:"POLL_INTERVAL_EMPTY_S" default:"180"`
	PollIntervalOfflineS int `envconfig:"POLL_INTERVAL_OFFLINE_S" default:"900"`

	OfflineFailureThreshold int     `envconfig:"OFFLINE_FAILURE_THRESHOLD" default:"3"`
	ServerQueryTimeoutS     float64 `envconfig:"SERVER_QUERY_TIMEOUT_S" default:"4.0"`
	WorkerCount             int     `envconfig:"WORKER_COUNT" default:"200"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	MasterListURL string `envconfig:"MASTER_LIST_URL" default:"http://master.bf1942.org/json"`
}

// Load reads Config from the process environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations that would make the scheduler's
// invariants impossible to hold (for example, a zero worker count would
// leave every Poll Entry queued and never probed).
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.MasterListPollIntervalS <= 0 {
		return fmt.Errorf("MASTER_LIST_POLL_INTERVAL_S must be positive")
	}
	if c.MasterListMaxBackoffS < c.MasterListPollIntervalS {
		return fmt.Errorf("MASTER_LIST_MAX_BACKOFF_S must be >= MASTER_LIST_POLL_INTERVAL_S")
	}
	if c.PollIntervalActiveS <= 0 || c.PollIntervalEmptyS <= 0 || c.PollIntervalOfflineS <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.OfflineFailureThreshold <= 0 {
		return fmt.Errorf("OFFLINE_FAILURE_THRESHOLD must be positive")
	}
	if c.ServerQueryTimeoutS <= 0 {
		return fmt.Errorf("SERVER_QUERY_TIMEOUT_S must be positive")
	}
	return nil
}

// QueryTimeout is ServerQueryTimeoutS as a time.Duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.ServerQueryTimeoutS * float64(time.Second))
}

// MasterListPollInterval is MasterListPollIntervalS as a time.Duration.
func (c *Config) MasterListPollInterval() time.Duration {
	return time.Duration(c.MasterListPollIntervalS) * time.Second
}

// MasterListMaxBackoff is MasterListMaxBackoffS as a time.Duration.
func (c *Config) MasterListMaxBackoff() time.Duration {
	return time.Duration(c.MasterListMaxBackoffS) * time.Second
}

// PollIntervalActive is PollIntervalActiveS as a time.Duration.
func (c *Config) PollIntervalActive() time.Duration {
	return time.Duration(c.PollIntervalActiveS) * time.Second
}

// PollIntervalEmpty is PollIntervalEmptyS as a time.Duration.
func (c *Config) PollIntervalEmpty() time.Duration {
	return time.Duration(c.PollIntervalEmptyS) * time.Second
}

// PollIntervalOffline is PollIntervalOfflineS as a time.Duration.
func (c *Config) PollIntervalOffline() time.Duration {
	return time.Duration(c.PollIntervalOfflineS) * time.Second
}
