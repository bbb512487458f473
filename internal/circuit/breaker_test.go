package circuit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/cloudspi/cloudspi/pkg/errors"
)

var (
	errThrottled = errors.NewError(errors.ErrCodeThrottled, "slow down")
	errDenied    = errors.NewError(errors.ErrCodeAccessDenied, "denied")
)

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func succeed(context.Context) error { return nil }

func newTestBreaker(t *testing.T, config Config) (*Breaker, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	config.Clock = clk
	return NewBreaker("https://s3.example.com", config), clk
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"Closed state", StateClosed, "CLOSED"},
		{"Open state", StateOpen, "OPEN"},
		{"Half-open state", StateHalfOpen, "HALF_OPEN"},
		{"Unknown state", State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker("endpoint", Config{})

	if b.Endpoint() != "endpoint" {
		t.Errorf("Endpoint() = %q, want %q", b.Endpoint(), "endpoint")
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want %v", b.State(), StateClosed)
	}
	defaults := DefaultConfig()
	if b.config.MaxRequests != defaults.MaxRequests {
		t.Errorf("MaxRequests = %d, want %d", b.config.MaxRequests, defaults.MaxRequests)
	}
	if b.config.Timeout != defaults.Timeout {
		t.Errorf("Timeout = %v, want %v", b.config.Timeout, defaults.Timeout)
	}
	if b.config.ConsecutiveFailures != defaults.ConsecutiveFailures {
		t.Errorf("ConsecutiveFailures = %d, want %d", b.config.ConsecutiveFailures, defaults.ConsecutiveFailures)
	}
}

func TestBreaker_TripsOnEndpointFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, Config{ConsecutiveFailures: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail(errThrottled)); !errors.HasCode(err, errors.ErrCodeThrottled) {
			t.Fatalf("call %d: err = %v, want THROTTLED", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", b.State())
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("open breaker must not invoke the call")
	}
	if !errors.HasCode(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("err = %v, want CONNECTION_CIRCUIT_OPEN", err)
	}
}

func TestBreaker_IgnoresRequestErrors(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, Config{ConsecutiveFailures: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail(errDenied))
	}

	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", b.State())
	}
	if got := b.Counts().TotalFailures; got != 0 {
		t.Errorf("TotalFailures = %d, want 0", got)
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, Config{ConsecutiveFailures: 2})
	ctx := context.Background()

	_ = b.Execute(ctx, fail(errThrottled))
	_ = b.Execute(ctx, succeed)
	_ = b.Execute(ctx, fail(errThrottled))

	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", b.State())
	}
	counts := b.Counts()
	if counts.ConsecutiveFailures != 1 || counts.TotalFailures != 2 || counts.Requests != 3 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{"probe succeeds", succeed, StateClosed},
		{"probe fails", fail(errThrottled), StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var transitions []State
			b, clk := newTestBreaker(t, Config{
				ConsecutiveFailures: 1,
				Timeout:             10 * time.Second,
				OnStateChange: func(_ string, _, to State) {
					transitions = append(transitions, to)
				},
			})
			ctx := context.Background()

			_ = b.Execute(ctx, fail(errThrottled))
			clk.Step(9 * time.Second)
			if b.State() != StateOpen {
				t.Fatalf("state before timeout = %v, want OPEN", b.State())
			}

			clk.Step(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after timeout = %v, want HALF_OPEN", b.State())
			}

			_ = b.Execute(ctx, tt.probe)
			if b.State() != tt.want {
				t.Errorf("state after probe = %v, want %v", b.State(), tt.want)
			}
			if want := []State{StateOpen, StateHalfOpen, tt.want}; len(transitions) != 3 || transitions[2] != want[2] {
				t.Errorf("transitions = %v, want %v", transitions, want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(t, Config{ConsecutiveFailures: 1, Timeout: time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail(errThrottled))
	clk.Step(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(ctx, func(context.Context) error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	err := b.Execute(ctx, succeed)
	if !errors.HasCode(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("second probe err = %v, want CONNECTION_CIRCUIT_OPEN", err)
	}

	close(release)
	wg.Wait()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", b.State())
	}
}

func TestBreaker_IntervalClearsCounts(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(t, Config{ConsecutiveFailures: 2, Interval: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail(errThrottled))
	clk.Step(2 * time.Minute)
	_ = b.Execute(ctx, fail(errThrottled))

	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, Config{ConsecutiveFailures: 1})
	_ = b.Execute(context.Background(), fail(errThrottled))

	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", b.State())
	}
	if b.Counts() != (Counts{}) {
		t.Errorf("counts = %+v, want zero", b.Counts())
	}
}

func TestManager(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{ConsecutiveFailures: 1})
	ctx := context.Background()

	if m.Breaker("b") != m.Breaker("b") {
		t.Error("Breaker must return the same instance per endpoint")
	}

	_ = m.Execute(ctx, "a", fail(errThrottled))
	_ = m.Execute(ctx, "b", succeed)

	stats := m.Stats()
	if len(stats) != 2 || stats[0].Endpoint != "a" || stats[1].Endpoint != "b" {
		t.Fatalf("stats = %+v", stats)
	}
	if open := m.OpenEndpoints(); len(open) != 1 || open[0] != "a" {
		t.Errorf("OpenEndpoints() = %v, want [a]", open)
	}

	data, err := json.Marshal(stats[0])
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["state"] != "OPEN" {
		t.Errorf("state JSON = %v, want OPEN", decoded["state"])
	}

	m.ResetAll()
	if open := m.OpenEndpoints(); len(open) != 0 {
		t.Errorf("OpenEndpoints() after reset = %v", open)
	}
}
