package provider

import (
	"context"

	"github.com/cloudspi/cloudspi/pkg/types"
)

// Close disconnects the provider. With no outstanding holds the credentials are wiped before
// Close returns. Otherwise a background task waits for the holds to be released, or for
// MaxHoldWait at most, and wipes them then; the provider stays connected meanwhile.
//
// A storage provider running over a compute provider only detaches itself: the credentials
// belong to the compute provider.
func (p *CloudProvider) Close() {
	p.mu.Lock()
	if compute := p.compute; compute != nil {
		p.mu.Unlock()
		compute.detachStorage(p)
		return
	}

	pctx := p.context
	if pctx == nil || (p.drain != nil && p.drain.covers(pctx)) {
		p.mu.Unlock()
		return
	}

	if task := p.drain; task != nil {
		// a reconnect left an earlier close pending; this context is wiped with it
		task.pctxs = append(task.pctxs, pctx)
		holds, pending := p.holdCount, len(task.pctxs)
		p.mu.Unlock()

		p.logger.Info("Close deferred until holds are released", map[string]interface{}{
			"holds":   holds,
			"pending": pending,
		})
		return
	}

	if p.holdCount > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		task := &drainTask{pctxs: []*types.ProviderContext{pctx}, cancel: cancel, done: make(chan struct{})}
		p.drain = task
		holds := p.holdCount
		p.mu.Unlock()

		p.config.Recorder.ProviderClosePending(p.name, true)
		p.logger.Info("Close deferred until holds are released", map[string]interface{}{
			"holds":    holds,
			"max_wait": p.config.MaxHoldWait.String(),
		})
		go p.drainHolds(ctx, task)
		return
	}
	p.mu.Unlock()

	p.wipe(pctx, false)
}

// Shutdown disconnects immediately, cancelling a pending deferred close and wiping the
// credentials regardless of outstanding holds.
func (p *CloudProvider) Shutdown() {
	p.mu.Lock()
	if compute := p.compute; compute != nil {
		p.mu.Unlock()
		compute.detachStorage(p)
		return
	}
	task := p.drain
	p.drain = nil
	pctx := p.context
	var pending []*types.ProviderContext
	if task != nil {
		pending = task.pctxs
	}
	p.mu.Unlock()

	if task != nil {
		task.cancel()
		<-task.done
		p.config.Recorder.ProviderClosePending(p.name, false)
		for _, old := range pending {
			if old != pctx {
				p.wipe(old, true)
			}
		}
	}
	if pctx != nil {
		p.wipe(pctx, task != nil)
	}
}

// WaitClosed blocks until a pending deferred close has finished or ctx is done.
func (p *CloudProvider) WaitClosed(ctx context.Context) error {
	p.mu.Lock()
	task := p.drain
	p.mu.Unlock()

	if task == nil {
		return nil
	}
	select {
	case <-task.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *CloudProvider) drainHolds(ctx context.Context, task *drainTask) {
	defer close(task.done)

	clk := p.config.Clock
	deadline := clk.Now().Add(p.config.MaxHoldWait)
	forced := false

	for {
		p.mu.Lock()
		holds := p.holdCount
		p.mu.Unlock()

		if holds < 1 {
			break
		}
		if !clk.Now().Before(deadline) {
			forced = true
			p.logger.Warn("Holds not released in time, wiping credentials anyway", map[string]interface{}{
				"holds":    holds,
				"max_wait": p.config.MaxHoldWait.String(),
			})
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-p.released:
		case <-clk.After(p.config.HoldPollInterval):
		}
	}

	p.mu.Lock()
	if p.drain != task {
		// Shutdown took over
		p.mu.Unlock()
		return
	}
	p.drain = nil
	pending := task.pctxs
	p.mu.Unlock()

	p.config.Recorder.ProviderClosePending(p.name, false)
	for _, pctx := range pending {
		p.wipe(pctx, forced)
	}
}

// wipe destroys the credentials of pctx, detaches the storage provider and forgets pctx if
// it is still the current context.
func (p *CloudProvider) wipe(pctx *types.ProviderContext, forced bool) {
	pctx.Credentials.Wipe()

	p.mu.Lock()
	storage := p.storage
	p.storage = nil
	current := p.context == pctx
	if current {
		p.context = nil
		p.sessionID = ""
	}
	p.mu.Unlock()

	if storage != nil {
		storage.detach()
	}

	p.config.Recorder.CredentialsWiped(p.name, forced)
	p.logger.Info("Credentials wiped", map[string]interface{}{
		"forced":  forced,
		"current": current,
	})
}

// detachStorage unlinks storage from p if it is p's storage provider.
func (p *CloudProvider) detachStorage(storage *CloudProvider) {
	p.mu.Lock()
	if p.storage == storage {
		p.storage = nil
	}
	p.mu.Unlock()

	storage.detach()
}

// detach disconnects a storage provider from its compute provider.
func (p *CloudProvider) detach() {
	p.mu.Lock()
	wasAttached := p.compute != nil
	p.compute = nil
	p.context = nil
	p.sessionID = ""
	p.mu.Unlock()

	if wasAttached {
		p.logger.Info("Storage provider detached", nil)
	}
}
