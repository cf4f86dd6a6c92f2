package realtime

import (
	"context"
	"log"
	"net"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the watcher re-checks connectivity.
const DefaultProbeInterval = 5 * time.Second

// ProbeFunc reports whether the host can currently reach the feed server.
type ProbeFunc func(ctx context.Context) bool

// DialProbe probes connectivity with a short TCP dial to addr (host:port).
func DialProbe(addr string, timeout time.Duration) ProbeFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// NetWatcher observes host connectivity and fires edge-triggered callbacks
// on transitions. It combines a periodic probe with an external Set path so
// host online/offline signals can be injected directly (and so tests can
// drive transitions without a network).
type NetWatcher struct {
	probe    ProbeFunc
	interval time.Duration

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	onUp   func()
	onDown func()
}

// NewNetWatcher creates a watcher that starts in the online state. probe may
// be nil, in which case only the Set path drives transitions.
func NewNetWatcher(probe ProbeFunc, interval time.Duration) *NetWatcher {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &NetWatcher{probe: probe, interval: interval, online: true}
}

// Notify registers the transition callbacks. Must be called before Start.
func (w *NetWatcher) Notify(onUp, onDown func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onUp = onUp
	w.onDown = onDown
}

// Online reports the last observed connectivity state.
func (w *NetWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Set records an externally observed connectivity state and fires the
// matching callback if the state changed.
func (w *NetWatcher) Set(online bool) {
	w.mu.Lock()
	if online == w.online {
		w.mu.Unlock()
		return
	}
	w.online = online
	onUp, onDown := w.onUp, w.onDown
	w.mu.Unlock()

	if online {
		log.Printf("[netwatch] online")
		if onUp != nil {
			onUp()
		}
	} else {
		log.Printf("[netwatch] offline")
		if onDown != nil {
			onDown()
		}
	}
}

// Start begins periodic probing. No-op when no probe is configured or the
// watcher is already running.
func (w *NetWatcher) Start() {
	w.mu.Lock()
	if w.probe == nil || w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop halts probing. Idempotent.
func (w *NetWatcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *NetWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Set(w.probe(ctx))
		}
	}
}
