package provider

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/naming"
	"github.com/cloudspi/cloudspi/pkg/types"
	"github.com/cloudspi/cloudspi/pkg/utils"
)

// State represents the connection state of a provider
type State int

const (
	// StateDisconnected indicates no provider context
	StateDisconnected State = iota

	// StateConnected indicates an active provider context
	StateConnected

	// StateClosing indicates a close deferred until outstanding holds are released
	StateClosing
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// CloudProvider owns the connection to one cloud account and region. Callers Hold the
// provider for the duration of an API call so that Close cannot wipe the credentials in use.
type CloudProvider struct {
	name   string
	config Config
	logger *utils.StructuredLogger

	// signalled on every Release
	released chan struct{}

	mu          sync.Mutex
	context     *types.ProviderContext
	sessionID   string
	connectedAt time.Time
	holdCount   int
	drain       *drainTask

	// compute is the root compute provider a storage provider runs over; storage is the
	// storage provider attached to this compute provider.
	compute *CloudProvider
	storage *CloudProvider
}

// drainTask is a close waiting for holds to be released. pctxs lists every context it will
// wipe, in close order, and is guarded by the provider's mutex.
type drainTask struct {
	pctxs  []*types.ProviderContext
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *drainTask) covers(pctx *types.ProviderContext) bool {
	return slices.Contains(t.pctxs, pctx)
}

// closingLocked reports whether the current context is waiting to be wiped.
func (p *CloudProvider) closingLocked() bool {
	return p.context != nil && p.drain != nil && p.drain.covers(p.context)
}

// Stats describes a provider for status reporting
type Stats struct {
	Name         string     `json:"name"`
	State        State      `json:"state"`
	SessionID    string     `json:"session_id,omitempty"`
	Holds        int        `json:"holds"`
	ClosePending bool       `json:"close_pending"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
	Storage      string     `json:"storage,omitempty"`
}

// New creates a disconnected provider.
func New(name string, config Config) *CloudProvider {
	config = config.withDefaults()
	return &CloudProvider{
		name:     name,
		config:   config,
		logger:   config.Logger.WithComponent("provider").WithField("provider", name),
		released: make(chan struct{}, 1),
	}
}

// Name returns the provider name.
func (p *CloudProvider) Name() string {
	return p.name
}

// Connect closes any previous connection and connects with pctx.
func (p *CloudProvider) Connect(pctx *types.ProviderContext) error {
	if err := validateContext(pctx); err != nil {
		return err
	}

	p.Close()

	p.mu.Lock()
	p.context = pctx
	p.sessionID = uuid.NewString()
	p.connectedAt = p.config.Clock.Now()
	session := p.sessionID
	p.mu.Unlock()

	p.logger.Info("Connected", map[string]interface{}{
		"session":  session,
		"endpoint": pctx.CloudEndpoint(),
		"region":   pctx.Region(),
		"account":  pctx.Account(),
	})
	return nil
}

// ConnectWithCompute connects p as a storage provider running over compute. Holds on p are
// taken on the root compute provider, which detaches p when it wipes its credentials.
func (p *CloudProvider) ConnectWithCompute(pctx *types.ProviderContext, compute *CloudProvider) error {
	if compute == nil || compute == p {
		return errors.NewError(errors.ErrCodeInvalidState, "a distinct compute provider is required").
			WithComponent("provider").
			WithOperation("ConnectWithCompute")
	}
	if err := validateContext(pctx); err != nil {
		return err
	}
	root := compute.root()
	if !root.IsConnected() {
		return errors.NewError(errors.ErrCodeNotConnected, "compute provider is not connected").
			WithComponent("provider").
			WithOperation("ConnectWithCompute").
			WithDetail("compute", root.name)
	}

	p.Close()

	p.mu.Lock()
	p.context = pctx
	p.compute = root
	p.sessionID = uuid.NewString()
	p.connectedAt = p.config.Clock.Now()
	p.mu.Unlock()

	root.mu.Lock()
	previous := root.storage
	root.storage = p
	root.mu.Unlock()
	if previous != nil && previous != p {
		previous.detach()
	}

	p.logger.Info("Connected over compute provider", map[string]interface{}{
		"compute": root.name,
	})
	return nil
}

func validateContext(pctx *types.ProviderContext) error {
	if pctx == nil {
		return errors.NewError(errors.ErrCodeInvalidContext, "provider context is required").
			WithComponent("provider").
			WithOperation("Connect")
	}
	return pctx.Validate()
}

// root returns the compute provider holds are counted on.
func (p *CloudProvider) root() *CloudProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.compute != nil {
		return p.compute
	}
	return p
}

// Hold marks an operation in flight. Every Hold must be paired with a Release.
func (p *CloudProvider) Hold() {
	if r := p.root(); r != p {
		r.Hold()
		return
	}

	p.mu.Lock()
	p.holdCount++
	holds := p.holdCount
	p.mu.Unlock()

	p.config.Recorder.ProviderHolds(p.name, holds)
}

// Release ends an operation started with Hold. The count never drops below zero.
func (p *CloudProvider) Release() {
	if r := p.root(); r != p {
		r.Release()
		return
	}

	p.mu.Lock()
	if p.holdCount > 0 {
		p.holdCount--
	} else {
		p.logger.Debug("Release without matching hold", nil)
	}
	holds := p.holdCount
	p.mu.Unlock()

	p.config.Recorder.ProviderHolds(p.name, holds)

	select {
	case p.released <- struct{}{}:
	default:
	}
}

// HoldCount returns the number of outstanding holds.
func (p *CloudProvider) HoldCount() int {
	if r := p.root(); r != p {
		return r.HoldCount()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdCount
}

// IsConnected reports whether the provider has a context. A provider whose close is waiting
// for holds is still connected.
func (p *CloudProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.context != nil
}

// IsClosing reports whether the current connection has a close waiting for holds. A close
// left pending for an earlier connection does not count.
func (p *CloudProvider) IsClosing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closingLocked()
}

// State returns the connection state.
func (p *CloudProvider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.context == nil:
		return StateDisconnected
	case p.closingLocked():
		return StateClosing
	default:
		return StateConnected
	}
}

// Context returns the provider context, or nil when disconnected.
func (p *CloudProvider) Context() *types.ProviderContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.context
}

// RequireContext returns the provider context or a NOT_CONNECTED error.
func (p *CloudProvider) RequireContext() (*types.ProviderContext, error) {
	if pctx := p.Context(); pctx != nil {
		return pctx, nil
	}
	return nil, errors.NewError(errors.ErrCodeNotConnected, "provider is not connected").
		WithComponent("provider").
		WithDetail("provider", p.name)
}

// SessionID identifies the current connection; empty when disconnected.
func (p *CloudProvider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// ComputeProvider returns the compute provider a storage provider runs over.
func (p *CloudProvider) ComputeProvider() *CloudProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compute
}

// StorageProvider returns the storage provider attached to a compute provider.
func (p *CloudProvider) StorageProvider() *CloudProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storage
}

// Stats returns a snapshot for status reporting.
func (p *CloudProvider) Stats() Stats {
	holds := p.HoldCount()
	state := p.State()

	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Name:         p.name,
		State:        state,
		SessionID:    p.sessionID,
		Holds:        holds,
		ClosePending: p.drain != nil,
	}
	if p.context != nil {
		connectedAt := p.connectedAt
		stats.ConnectedAt = &connectedAt
	}
	if p.storage != nil {
		stats.Storage = p.storage.name
	}
	return stats
}

// FindUniqueName resolves a free name within ns while holding the provider, so the
// credentials ns uses stay valid for the whole search.
func (p *CloudProvider) FindUniqueName(ctx context.Context, baseName string, constraints naming.Constraints, ns naming.ResourceNamespace) (string, bool, error) {
	if _, err := p.RequireContext(); err != nil {
		return "", false, err
	}

	p.Hold()
	defer p.Release()

	return naming.FindUniqueName(ctx, baseName, constraints, ns)
}
