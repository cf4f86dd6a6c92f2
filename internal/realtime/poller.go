package realtime

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultPollInterval is used when the caller does not configure one.
const DefaultPollInterval = 10 * time.Second

// FetchFunc re-reads current server state during polling fallback. Errors
// and panics are absorbed by the poller; a failed poll never stops the loop.
type FetchFunc func(ctx context.Context) error

// Poller runs the fixed-interval polling fallback loop. Start and Stop are
// idempotent: starting while running is a no-op, so two consecutive failure
// statuses can both call Start without creating two concurrent tickers.
type Poller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	// onError, if set, receives each fetch failure after it is logged.
	// The orchestrator uses it to record lastErr.
	onError func(error)
}

// SetErrorHook registers a callback invoked with each absorbed fetch error.
func (p *Poller) SetErrorHook(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// Start arms the polling loop: one immediate fetch, then one per interval.
// Returns false without side effects when the loop is already running.
func (p *Poller) Start(fetch FetchFunc, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	go p.loop(ctx, fetch, interval)
	return true
}

// Stop cancels the loop. Safe to call when not running and safe to call twice.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether the loop is currently armed.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, fetch FetchFunc, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.tick(ctx, fetch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, fetch)
		}
	}
}

// tick runs one fetch, absorbing errors and panics so the loop continues.
func (p *Poller) tick(ctx context.Context, fetch FetchFunc) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = normalizeError(r)
			}
		}()
		return fetch(ctx)
	}()
	if err == nil || ctx.Err() != nil {
		return
	}
	log.Printf("poll fetch error: %v", err)
	p.mu.Lock()
	hook := p.onError
	p.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}
