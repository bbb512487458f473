package cache

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/cloudspi/cloudspi/pkg/utils"
)

const (
	// DefaultTimeout is how long an entry lives after it was last stored.
	DefaultTimeout = time.Hour

	// HardCeiling is the age after which a whole cache is discarded regardless of activity.
	HardCeiling = 24 * time.Hour
)

// clear reasons reported to the Recorder
const (
	reasonManual         = "manual"
	reasonInvalidate     = "invalidate"
	reasonEntryExpired   = "entry_expired"
	reasonCeiling        = "ceiling"
	reasonMemoryPressure = "memory_pressure"
	reasonReset          = "reset"
)

// Recorder receives cache activity. internal/metrics.Collector implements it.
type Recorder interface {
	CacheRequest(cache string, hit bool)
	CacheCleared(cache string, reason string)
}

type nopRecorder struct{}

func (nopRecorder) CacheRequest(string, bool)    {}
func (nopRecorder) CacheCleared(string, string) {}

type options struct {
	timeout  time.Duration
	clock    clock.PassiveClock
	recorder Recorder
	logger   *utils.StructuredLogger
}

// Option configures a cache when it is first created. Options passed when an existing
// cache is looked up are ignored.
type Option func(*options)

// WithTimeout sets the entry timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout >= 0 {
			o.timeout = timeout
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.PassiveClock) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithRecorder reports requests and clears to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		timeout:  DefaultTimeout,
		clock:    clock.RealClock{},
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.NewDefaultLogger()
	}
	o.logger = o.logger.WithComponent("cache")
	return o
}
