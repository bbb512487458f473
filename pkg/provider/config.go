package provider

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/cloudspi/cloudspi/pkg/utils"
)

// Config configures a CloudProvider
type Config struct {
	// HoldPollInterval is how often a deferred close rechecks outstanding holds
	HoldPollInterval time.Duration

	// MaxHoldWait bounds how long a deferred close waits for holds before wiping anyway
	MaxHoldWait time.Duration

	// Clock drives the deferred close; the wall clock when nil
	Clock clock.Clock

	// Recorder receives lifecycle metrics
	Recorder Recorder

	// Logger for connection events
	Logger *utils.StructuredLogger
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		HoldPollInterval: time.Second,
		MaxHoldWait:      20 * time.Minute,
	}
}

// Recorder receives provider lifecycle events. internal/metrics.Collector implements it.
type Recorder interface {
	ProviderHolds(provider string, holds int)
	ProviderClosePending(provider string, pending bool)
	CredentialsWiped(provider string, forced bool)
}

type nopRecorder struct{}

func (nopRecorder) ProviderHolds(string, int)         {}
func (nopRecorder) ProviderClosePending(string, bool) {}
func (nopRecorder) CredentialsWiped(string, bool)     {}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.HoldPollInterval <= 0 {
		c.HoldPollInterval = defaults.HoldPollInterval
	}
	if c.MaxHoldWait <= 0 {
		c.MaxHoldWait = defaults.MaxHoldWait
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Logger == nil {
		logger, _ := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
		c.Logger = logger
	}
	return c
}
