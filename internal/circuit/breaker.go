package circuit

import (
	"context"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/cloudspi/cloudspi/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down expires
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config contains circuit breaker configuration
type Config struct {
	// MaxRequests is the number of probes allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval clears the closed-state counts periodically
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration `yaml:"timeout"`

	// ConsecutiveFailures trips the breaker when ReadyToTrip is unset
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	ReadyToTrip   func(counts Counts) bool                 `yaml:"-"`
	OnStateChange func(endpoint string, from, to State) `yaml:"-"`

	// IsFailure decides which errors count against the endpoint. By default only
	// connection and throttling failures do; a missing bucket or a denied request
	// says nothing about the endpoint's health.
	IsFailure func(err error) bool `yaml:"-"`

	Clock clock.PassiveClock `yaml:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxRequests == 0 {
		c.MaxRequests = defaults.MaxRequests
	}
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if c.ReadyToTrip == nil {
		threshold := c.ConsecutiveFailures
		c.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	}
	if c.IsFailure == nil {
		c.IsFailure = isEndpointFailure
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c
}

func isEndpointFailure(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrCodeConnectionFailed, errors.ErrCodeConnectionTimeout,
		errors.ErrCodeNetworkError, errors.ErrCodeThrottled, errors.ErrCodeOperationTimeout:
		return true
	}
	return false
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// Breaker guards calls to one cloud endpoint.
type Breaker struct {
	endpoint string
	config   Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker creates a closed breaker for endpoint.
func NewBreaker(endpoint string, config Config) *Breaker {
	config = config.withDefaults()
	return &Breaker{
		endpoint: endpoint,
		config:   config,
		state:    StateClosed,
		expiry:   config.Clock.Now().Add(config.Interval),
	}
}

// Execute runs fn unless the breaker is open. A rejected call returns a
// CONNECTION_CIRCUIT_OPEN error without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Clock.Now()
	state := b.currentState(now)

	switch {
	case state == StateOpen:
		return b.openError("circuit open", now)
	case state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests:
		return b.openError("circuit half-open, probe in flight", now)
	}

	b.counts.onRequest(now)
	return nil
}

func (b *Breaker) openError(msg string, now time.Time) error {
	ce := errors.NewError(errors.ErrCodeCircuitOpen, msg).
		WithComponent("circuit").
		WithContext("endpoint", b.endpoint).
		WithRetryable(false)
	if b.state == StateOpen {
		ce = ce.WithDetail("retry_after", b.expiry.Sub(now).String())
	}
	return ce
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Clock.Now()
	state := b.currentState(now)

	if err != nil && b.config.IsFailure(err) {
		b.counts.onFailure()
		switch state {
		case StateClosed:
			if b.config.ReadyToTrip(b.counts) {
				b.setState(StateOpen, now)
			}
		case StateHalfOpen:
			b.setState(StateOpen, now)
		}
		return
	}

	b.counts.onSuccess()
	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if !now.Before(b.expiry) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.endpoint, prev, state)
	}
}

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.config.Clock.Now())
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed, b.config.Clock.Now())
	b.counts = Counts{}
}

// Endpoint returns the guarded endpoint
func (b *Breaker) Endpoint() string {
	return b.endpoint
}

func (c *Counts) onRequest(now time.Time) {
	c.Requests++
	c.LastActivity = now
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Stats describes one breaker for the admin API.
type Stats struct {
	Endpoint string `json:"endpoint"`
	State    State  `json:"state"`
	Counts   Counts `json:"counts"`
}

// Manager hands out one breaker per endpoint.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager creates a manager whose breakers share config.
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// Breaker gets or creates the breaker for endpoint.
func (m *Manager) Breaker(endpoint string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[endpoint]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[endpoint]; ok {
		return b
	}
	b = NewBreaker(endpoint, m.config)
	m.breakers[endpoint] = b
	return b
}

// Execute runs fn through the breaker for endpoint.
func (m *Manager) Execute(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	return m.Breaker(endpoint).Execute(ctx, fn)
}

// Stats returns every breaker sorted by endpoint.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, Stats{Endpoint: b.endpoint, State: b.State(), Counts: b.Counts()})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Endpoint < stats[j].Endpoint })
	return stats
}

// OpenEndpoints lists the endpoints whose breakers currently reject calls.
func (m *Manager) OpenEndpoints() []string {
	var open []string
	for _, s := range m.Stats() {
		if s.State == StateOpen {
			open = append(open, s.Endpoint)
		}
	}
	return open
}

// ResetAll closes every breaker.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
