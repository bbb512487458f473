package s3

import (
	"time"
)

// Context properties read by the client factory.
const (
	// PropertySessionToken is the STS session token paired with the access key
	PropertySessionToken = "aws.session_token"

	// PropertyPathStyle forces path-style bucket addressing when "true"
	PropertyPathStyle = "aws.force_path_style"
)

// Config represents S3 driver configuration
type Config struct {
	// DefaultRegion is used when the provider context names no region
	DefaultRegion  string `yaml:"default_region"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	UseDualStack   bool   `yaml:"use_dual_stack"`

	// MaxRetries bounds the SDK's own retries of a single call
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		DefaultRegion:  "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	defaults := NewDefaultConfig()
	if c == nil {
		return defaults
	}
	cfg := *c
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = defaults.DefaultRegion
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	return &cfg
}
