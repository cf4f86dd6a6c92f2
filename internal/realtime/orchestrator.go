// Package realtime keeps a consumer synchronized with server-pushed feed
// events over a push channel, falling back to interval polling when the
// channel cannot be established or drops, and recovering as network and
// session conditions change.
package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// State is the observable connection state. Exactly one is active at a time
// and every change goes through the orchestrator's transition logic.
type State string

const (
	StateDisconnected State = "disconnected"
	StateRealtime     State = "realtime"
	StatePolling      State = "polling"
	StateError        State = "error"
)

// Snapshot is the read-only view exposed to the UI binding after every
// transition.
type Snapshot struct {
	State           State
	Subscribed      bool
	PollingFallback bool
	Err             error
	RetryAttempts   uint
}

// Options configures one subscription. The record is immutable per
// activation: reconfiguring a target destroys the old session and creates a
// new one, it never mutates identity fields in place.
type Options struct {
	Target  feed.Target
	Enabled bool

	// OnInsert/OnRemove receive delivered change events. They may panic;
	// a panicking callback is recorded as the session's last error and
	// never destabilizes the channel.
	OnInsert func(feed.Event)
	OnRemove func(feed.Event)

	// OnTransition, if set, is invoked with a snapshot after each state
	// transition. Called outside the orchestrator lock.
	OnTransition func(Snapshot)

	// PollFetch enables the polling fallback. Nil disables it: channel
	// failures then surface as StateError once no retry path remains.
	PollFetch    FetchFunc
	PollInterval time.Duration

	// Capped exponential backoff for readiness retries and reconnects.
	RetryBase time.Duration
	RetryMax  time.Duration

	// Online reports host connectivity at activation time. Nil means
	// always online. Usually wired to NetWatcher.Online via Bind.
	Online func() bool
}

// session is the runtime record for one activation. It is owned and mutated
// exclusively by the orchestrator under its mutex. Continuations hold a
// pointer to their session and become no-ops once the orchestrator has moved
// on to a newer one; the context cancels their in-flight I/O.
type session struct {
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	subscribed bool
	polling    bool
	handle     Handle
}

// Orchestrator is the top-level state machine composing the retry scheduler,
// readiness gate, channel transport, polling fallback, and connectivity
// signals. All transition logic is serialized by one mutex, so callbacks
// arriving from timer, transport, and watcher goroutines apply one at a time.
type Orchestrator struct {
	transport Transport
	gate      ReadinessGate

	mu      sync.Mutex
	opts    Options
	retry   *RetryScheduler
	poller  *Poller
	gen     uint64
	sess    *session
	state   State
	lastErr error
}

// New creates an orchestrator in the Disconnected state. Call Start to
// activate the subscription.
func New(transport Transport, gate ReadinessGate, opts Options) *Orchestrator {
	if gate == nil {
		gate = AlwaysReady
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	o := &Orchestrator{
		transport: transport,
		gate:      gate,
		opts:      opts,
		retry:     NewRetryScheduler(opts.RetryBase, opts.RetryMax),
		poller:    &Poller{},
		state:     StateDisconnected,
	}
	o.poller.SetErrorHook(o.recordPollError)
	return o
}

// Bind wires a connectivity watcher to this orchestrator: the watcher's
// transitions drive HandleOffline/HandleOnline and its state answers the
// activation precondition.
func (o *Orchestrator) Bind(w *NetWatcher) {
	o.mu.Lock()
	o.opts.Online = w.Online
	o.mu.Unlock()
	w.Notify(o.HandleOnline, o.HandleOffline)
}

// Start activates the subscription if the preconditions hold (enabled,
// non-empty target, host online). Otherwise the orchestrator stays
// Disconnected and the transport is never touched.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	o.activateLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// Stop tears the session down: clears any pending retry, stops polling,
// releases the channel, cancels the session context. The session is
// superseded synchronously, so no timer or listener outlives it even if an
// in-flight call resolves later.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.teardownLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// SetTarget reconfigures the subscription to a new target. The old session
// is destroyed and a fresh one created; identity fields are never mutated on
// a live session.
func (o *Orchestrator) SetTarget(t feed.Target) {
	o.mu.Lock()
	o.teardownLocked()
	o.opts.Target = t
	o.lastErr = nil
	o.activateLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// SetEnabled flips the enabled gate, tearing down or activating as needed.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.mu.Lock()
	if o.opts.Enabled == enabled {
		o.mu.Unlock()
		return
	}
	o.opts.Enabled = enabled
	if enabled {
		o.activateLocked()
	} else {
		o.teardownLocked()
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// HandleOffline is invoked on a host connectivity loss: the channel is torn
// down but retry attempts are preserved so backoff progress survives.
func (o *Orchestrator) HandleOffline() {
	o.mu.Lock()
	o.teardownLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// HandleOnline restarts the connect sequence from the top when connectivity
// returns and the subscription is still enabled with a valid target.
func (o *Orchestrator) HandleOnline() {
	o.mu.Lock()
	if o.sess != nil {
		o.mu.Unlock()
		return
	}
	o.activateLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// Snapshot returns the current read-only connection view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         o.state,
		Err:           o.lastErr,
		RetryAttempts: o.retry.Attempts(),
	}
	if o.sess != nil {
		snap.Subscribed = o.sess.subscribed
		snap.PollingFallback = o.sess.polling
	}
	return snap
}

func (o *Orchestrator) notify(snap Snapshot) {
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(snap)
	}
}

// staleLocked reports whether s has been superseded by teardown or
// reconfiguration. Continuations check this before applying any effect.
func (o *Orchestrator) staleLocked(s *session) bool {
	return o.sess != s
}

func (o *Orchestrator) activateLocked() {
	if o.sess != nil {
		return
	}
	online := o.opts.Online == nil || o.opts.Online()
	if !o.opts.Enabled || !o.opts.Target.Valid() || !online {
		o.state = StateDisconnected
		return
	}
	o.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{gen: o.gen, ctx: ctx, cancel: cancel}
	o.sess = s
	o.state = StateDisconnected
	go o.connect(s)
}

func (o *Orchestrator) teardownLocked() {
	o.retry.Clear()
	o.poller.Stop()
	if s := o.sess; s != nil {
		s.subscribed = false
		s.polling = false
		s.cancel()
		release(s.handle)
		s.handle = nil
		o.sess = nil
	}
	o.state = StateDisconnected
}

// connect runs the async connect sequence for session s: readiness probe,
// then channel open. It runs on its own goroutine (or a retry timer's) and
// re-acquires the lock around every state application.
func (o *Orchestrator) connect(s *session) {
	ready, err := o.gate.Ready(s.ctx)

	o.mu.Lock()
	if o.staleLocked(s) {
		o.mu.Unlock()
		return
	}
	if err != nil || !ready {
		if err != nil {
			o.lastErr = normalizeError(err)
		}
		d := o.retry.Schedule(func() { o.refire(s) })
		log.Printf("[realtime] session not ready for %s, retry in %v", o.opts.Target.Topic(), d)
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.notify(snap)
		return
	}
	target := o.opts.Target
	o.mu.Unlock()

	// Open without holding the lock: dialing can block, and status
	// callbacks may start arriving before Open returns.
	handle, err := o.transport.Open(s.ctx, target,
		func(ev feed.Event) { o.handleChange(s, ev) },
		func(st Status) { o.handleStatus(s, st) },
	)

	o.mu.Lock()
	if o.staleLocked(s) {
		o.mu.Unlock()
		release(handle)
		return
	}
	if err != nil {
		o.lastErr = normalizeError(err)
		if o.opts.PollFetch != nil {
			o.startPollingLocked(s)
			o.state = StatePolling
		} else {
			o.state = StateError
		}
		log.Printf("[realtime] channel open failed for %s: %v (state=%s)", target.Topic(), err, o.state)
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.notify(snap)
		return
	}
	s.handle = handle
	// Remain Disconnected until the first status callback arrives.
	o.mu.Unlock()
}

// refire is the retry-timer continuation: it re-runs the connect sequence
// unless the session was superseded while the timer was pending.
func (o *Orchestrator) refire(s *session) {
	o.mu.Lock()
	stale := o.staleLocked(s)
	o.mu.Unlock()
	if stale {
		return
	}
	o.connect(s)
}

func (o *Orchestrator) handleStatus(s *session, st Status) {
	o.mu.Lock()
	if o.staleLocked(s) {
		o.mu.Unlock()
		return
	}

	switch st.Kind {
	case StatusSubscribed:
		s.subscribed = true
		if s.polling {
			o.poller.Stop()
			s.polling = false
		}
		o.retry.Reset()
		o.state = StateRealtime
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.notify(snap)

	case StatusFailure:
		s.subscribed = false
		h := s.handle
		s.handle = nil
		if o.opts.PollFetch != nil {
			o.startPollingLocked(s)
			o.state = StatePolling
			log.Printf("[realtime] channel %s for %s, polling fallback", st.Reason, o.opts.Target.Topic())
		} else {
			o.state = StateDisconnected
			d := o.retry.Schedule(func() { o.refire(s) })
			log.Printf("[realtime] channel %s for %s, reconnect in %v", st.Reason, o.opts.Target.Topic(), d)
		}
		snap := o.snapshotLocked()
		o.mu.Unlock()
		release(h)
		o.notify(snap)

	default:
		// Unrecognized status values cause no transition and no error.
		o.mu.Unlock()
	}
}

func (o *Orchestrator) handleChange(s *session, ev feed.Event) {
	o.mu.Lock()
	if o.staleLocked(s) {
		o.mu.Unlock()
		return
	}
	var cb func(feed.Event)
	switch ev.Kind {
	case feed.EventInsert:
		cb = o.opts.OnInsert
	case feed.EventRemove:
		cb = o.opts.OnRemove
	}
	o.mu.Unlock()

	if cb == nil {
		return
	}
	// Delivery failures are caller-side: record them, keep the channel.
	if err := dispatch(cb, ev); err != nil {
		o.mu.Lock()
		if o.staleLocked(s) {
			o.mu.Unlock()
			return
		}
		o.lastErr = err
		snap := o.snapshotLocked()
		o.mu.Unlock()
		log.Printf("[realtime] %s callback error: %v", ev.Kind, err)
		o.notify(snap)
	}
}

// startPollingLocked arms the fallback loop once per session. The flag check
// makes a second failure status a no-op rather than a second ticker.
func (o *Orchestrator) startPollingLocked(s *session) {
	if s.polling {
		return
	}
	s.polling = true
	o.poller.Start(o.opts.PollFetch, o.opts.PollInterval)
}

// recordPollError stores an absorbed poll failure as the session's last
// error without leaving the Polling state.
func (o *Orchestrator) recordPollError(err error) {
	o.mu.Lock()
	if o.sess != nil && o.sess.polling {
		o.lastErr = err
	}
	o.mu.Unlock()
}

// dispatch invokes a caller callback, converting a panic into an error.
func dispatch(cb func(feed.Event), ev feed.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = normalizeError(r)
		}
	}()
	cb(ev)
	return nil
}
