package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Logging LoggingConfig `yaml:"logging"`
	App     AppConfig     `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds on-disk artifact configuration
type StorageConfig struct {
	// DownloadDir is where fetched and transformed files are written.
	// Empty means the user's Downloads folder.
	DownloadDir string `yaml:"download_dir"`
}

// JobsConfig holds job orchestration settings
type JobsConfig struct {
	// ChannelBuffer bounds each job's event channel; the oldest progress
	// snapshots are dropped on overflow.
	ChannelBuffer int `yaml:"channel_buffer"`
	// StreamIdleTimeout is how long an SSE stream waits for a snapshot
	// before emitting a keep-alive.
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
	// SweepInterval is how often abandoned jobs are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Retention is how long a terminal job is kept waiting for its
	// artifact to be fetched.
	Retention time.Duration `yaml:"retention"`
}

// FetchConfig holds fetch engine settings
type FetchConfig struct {
	// AutoInstall downloads a yt-dlp binary at startup when none is
	// found on the host.
	AutoInstall bool `yaml:"auto_install"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills zero values with working defaults
func (c *Config) applyDefaults() {
	if c.Jobs.ChannelBuffer == 0 {
		c.Jobs.ChannelBuffer = 64
	}
	if c.Jobs.StreamIdleTimeout == 0 {
		c.Jobs.StreamIdleTimeout = 30 * time.Second
	}
	if c.Jobs.SweepInterval == 0 {
		c.Jobs.SweepInterval = 5 * time.Minute
	}
	if c.Jobs.Retention == 0 {
		c.Jobs.Retention = time.Hour
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Jobs.ChannelBuffer < 2 {
		return fmt.Errorf("jobs channel_buffer must be at least 2")
	}

	if c.Jobs.StreamIdleTimeout <= 0 {
		return fmt.Errorf("jobs stream_idle_timeout must be greater than 0")
	}

	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("jobs sweep_interval must be greater than 0")
	}

	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs retention must be greater than 0")
	}

	return nil
}
