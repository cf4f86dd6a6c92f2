package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// fakeHandle counts releases; double release must be harmless.
type fakeHandle struct {
	releases atomic.Int32
}

func (h *fakeHandle) Release() { h.releases.Add(1) }

// fakeTransport records opens and exposes the registered callbacks so tests
// can push statuses and change events by hand.
type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	openErr  error
	onChange func(feed.Event)
	onStatus func(Status)
	handle   *fakeHandle
}

func (f *fakeTransport) Open(_ context.Context, _ feed.Target, onChange func(feed.Event), onStatus func(Status)) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.onChange = onChange
	f.onStatus = onStatus
	f.handle = &fakeHandle{}
	return f.handle, nil
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onStatus != nil
}

func (f *fakeTransport) pushStatus(raw string) {
	f.mu.Lock()
	cb := f.onStatus
	f.mu.Unlock()
	cb(ParseStatus(raw))
}

func (f *fakeTransport) pushChange(ev feed.Event) {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	cb(ev)
}

// fakeGate flips readiness on demand and counts probes.
type fakeGate struct {
	ready atomic.Bool
	err   atomic.Value
	calls atomic.Int32
}

func (g *fakeGate) Ready(context.Context) (bool, error) {
	g.calls.Add(1)
	if err, ok := g.err.Load().(error); ok && err != nil {
		return false, err
	}
	return g.ready.Load(), nil
}

func readyGate() *fakeGate {
	g := &fakeGate{}
	g.ready.Store(true)
	return g
}

func testTarget() feed.Target {
	return feed.Target{Type: feed.TargetPost, ID: "post-1"}
}

func fastRetry(o Options) Options {
	o.RetryBase = 10 * time.Millisecond
	o.RetryMax = 40 * time.Millisecond
	return o
}

func likeRow(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(feed.LikeRow{ID: "l1", TargetID: "post-1", ActorID: "ada", CreatedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestPreconditionsPreventConnect(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"disabled", Options{Target: testTarget(), Enabled: false}},
		{"empty target", Options{Target: feed.Target{Type: feed.TargetPost}, Enabled: true}},
		{"offline", Options{Target: testTarget(), Enabled: true, Online: func() bool { return false }}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			gate := readyGate()
			o := New(tr, gate, fastRetry(tt.opts))
			o.Start()
			defer o.Stop()

			time.Sleep(40 * time.Millisecond)
			if n := tr.openCount(); n != 0 {
				t.Errorf("transport opened %d times, want 0", n)
			}
			if n := gate.calls.Load(); n != 0 {
				t.Errorf("gate probed %d times, want 0", n)
			}
			if snap := o.Snapshot(); snap.State != StateDisconnected {
				t.Errorf("state = %s, want disconnected", snap.State)
			}
		})
	}
}

func TestOnlineTransitionTriggersSingleConnect(t *testing.T) {
	var online atomic.Bool
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{
		Target:  testTarget(),
		Enabled: true,
		Online:  online.Load,
	}))
	o.Start()
	defer o.Stop()

	time.Sleep(30 * time.Millisecond)
	if n := tr.openCount(); n != 0 {
		t.Fatalf("transport opened %d times while offline, want 0", n)
	}

	online.Store(true)
	o.HandleOnline()
	waitUntil(t, time.Second, func() bool { return tr.openCount() == 1 })

	// A second online signal while a session exists must not reconnect.
	o.HandleOnline()
	time.Sleep(30 * time.Millisecond)
	if n := tr.openCount(); n != 1 {
		t.Errorf("transport opened %d times, want exactly 1", n)
	}
}

func TestSubscribedStatusYieldsRealtime(t *testing.T) {
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, tr.attached)
	tr.pushStatus("subscribed")

	waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StateRealtime })
	snap := o.Snapshot()
	if !snap.Subscribed {
		t.Error("Subscribed = false, want true")
	}
	if snap.PollingFallback {
		t.Error("PollingFallback = true, want false")
	}
	if snap.RetryAttempts != 0 {
		t.Errorf("RetryAttempts = %d, want 0 after subscribe", snap.RetryAttempts)
	}
}

func TestFailureStatusFallsBackToPollingOnce(t *testing.T) {
	var polls atomic.Int32
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{
		Target:  testTarget(),
		Enabled: true,
		PollFetch: func(context.Context) error {
			polls.Add(1)
			return nil
		},
		PollInterval: 20 * time.Millisecond,
	}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, tr.attached)
	// Repeated failure statuses must not stack poll loops.
	tr.pushStatus("channel_error")
	tr.pushStatus("timed_out")
	tr.pushStatus("closed")

	snap := o.Snapshot()
	if snap.State != StatePolling {
		t.Fatalf("state = %s, want polling", snap.State)
	}
	if !snap.PollingFallback {
		t.Error("PollingFallback = false, want true")
	}
	if snap.Subscribed {
		t.Error("Subscribed = true, want false")
	}

	time.Sleep(110 * time.Millisecond)
	got := polls.Load()
	if got < 1 || got > 8 {
		t.Errorf("pollFetch ran %d times over 110ms at 20ms, want 1..8 (single loop)", got)
	}
}

func TestOpenFailureWithoutFallbackIsTerminalError(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("boom")}
	o := New(tr, readyGate(), fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StateError })
	snap := o.Snapshot()
	if snap.Err == nil || snap.Err.Error() != "boom" {
		t.Errorf("Err = %v, want boom", snap.Err)
	}
	if snap.PollingFallback {
		t.Error("PollingFallback = true, want false")
	}
}

func TestOpenFailureWithFallbackPolls(t *testing.T) {
	var polls atomic.Int32
	tr := &fakeTransport{openErr: errors.New("dial refused")}
	o := New(tr, readyGate(), fastRetry(Options{
		Target:  testTarget(),
		Enabled: true,
		PollFetch: func(context.Context) error {
			polls.Add(1)
			return nil
		},
		PollInterval: 15 * time.Millisecond,
	}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StatePolling })
	waitUntil(t, time.Second, func() bool { return polls.Load() >= 1 })
	if snap := o.Snapshot(); snap.Err == nil {
		t.Error("Err = nil, want the open failure recorded")
	}
}

func TestCallbackPanicStaysRealtime(t *testing.T) {
	tests := []struct {
		name    string
		panicV  any
		wantMsg string
	}{
		{"error value", errors.New("handler broke"), "handler broke"},
		{"string value", "kaboom", "kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			o := New(tr, readyGate(), fastRetry(Options{
				Target:   testTarget(),
				Enabled:  true,
				OnInsert: func(feed.Event) { panic(tt.panicV) },
			}))
			o.Start()
			defer o.Stop()

			waitUntil(t, time.Second, tr.attached)
			tr.pushStatus("subscribed")
			waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StateRealtime })

			tr.pushChange(feed.Event{Kind: feed.EventInsert, Topic: "post:post-1", Row: likeRow(t)})

			waitUntil(t, time.Second, func() bool { return o.Snapshot().Err != nil })
			snap := o.Snapshot()
			if snap.State != StateRealtime {
				t.Errorf("state = %s after callback panic, want realtime", snap.State)
			}
			if !snap.Subscribed {
				t.Error("Subscribed = false after callback panic, want true")
			}
			if snap.Err.Error() != tt.wantMsg {
				t.Errorf("Err = %q, want %q", snap.Err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestChangeEventsDispatchByKind(t *testing.T) {
	var inserts, removes atomic.Int32
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{
		Target:   testTarget(),
		Enabled:  true,
		OnInsert: func(feed.Event) { inserts.Add(1) },
		OnRemove: func(feed.Event) { removes.Add(1) },
	}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, tr.attached)
	tr.pushStatus("subscribed")
	tr.pushChange(feed.Event{Kind: feed.EventInsert, Row: likeRow(t)})
	tr.pushChange(feed.Event{Kind: feed.EventInsert, Row: likeRow(t)})
	tr.pushChange(feed.Event{Kind: feed.EventRemove, Row: likeRow(t)})

	if got := inserts.Load(); got != 2 {
		t.Errorf("inserts = %d, want 2", got)
	}
	if got := removes.Load(); got != 1 {
		t.Errorf("removes = %d, want 1", got)
	}
}

func TestNotReadySchedulesRetryThenConnects(t *testing.T) {
	tr := &fakeTransport{}
	gate := &fakeGate{}
	o := New(tr, gate, fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	// Gate stays not-ready: probes keep coming via backoff retries.
	waitUntil(t, time.Second, func() bool { return gate.calls.Load() >= 2 })
	if n := tr.openCount(); n != 0 {
		t.Fatalf("transport opened %d times while not ready, want 0", n)
	}
	if snap := o.Snapshot(); snap.State != StateDisconnected {
		t.Fatalf("state = %s while not ready, want disconnected", snap.State)
	}

	gate.ready.Store(true)
	waitUntil(t, time.Second, func() bool { return tr.openCount() == 1 })
	tr.pushStatus("subscribed")
	waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StateRealtime })
}

func TestStopCancelsPendingRetry(t *testing.T) {
	tr := &fakeTransport{}
	gate := &fakeGate{} // never ready
	o := New(tr, gate, Options{
		Target:    testTarget(),
		Enabled:   true,
		RetryBase: 40 * time.Millisecond,
		RetryMax:  time.Second,
	})
	o.Start()

	waitUntil(t, time.Second, func() bool { return gate.calls.Load() == 1 })
	o.Stop()
	time.Sleep(50 * time.Millisecond) // drain any in-flight retry continuation
	at := gate.calls.Load()

	time.Sleep(120 * time.Millisecond)
	if got := gate.calls.Load(); got != at {
		t.Errorf("gate probed after Stop: %d -> %d", at, got)
	}
	if snap := o.Snapshot(); snap.State != StateDisconnected {
		t.Errorf("state = %s after Stop, want disconnected", snap.State)
	}
}

func TestOfflinePreservesRetryAttempts(t *testing.T) {
	tr := &fakeTransport{}
	gate := &fakeGate{} // not ready: attempts accumulate
	o := New(tr, gate, fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, func() bool { return o.Snapshot().RetryAttempts >= 2 })
	before := o.Snapshot().RetryAttempts

	o.HandleOffline()
	snap := o.Snapshot()
	if snap.State != StateDisconnected {
		t.Errorf("state = %s after offline, want disconnected", snap.State)
	}
	if snap.RetryAttempts < before {
		t.Errorf("RetryAttempts = %d after offline, want >= %d (preserved)", snap.RetryAttempts, before)
	}

	// No further probes while torn down.
	time.Sleep(60 * time.Millisecond) // drain any in-flight retry continuation
	at := gate.calls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := gate.calls.Load(); got != at {
		t.Errorf("gate probed while offline: %d -> %d", at, got)
	}
}

func TestFailureWithoutFallbackReconnects(t *testing.T) {
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, tr.attached)
	time.Sleep(20 * time.Millisecond) // let connect finish attaching the handle
	first := tr.handle
	tr.pushStatus("channel_error")

	if snap := o.Snapshot(); snap.State != StateDisconnected {
		t.Errorf("state = %s after failure without fallback, want disconnected", snap.State)
	}
	if n := first.releases.Load(); n == 0 {
		t.Error("failed channel handle was not released")
	}
	waitUntil(t, time.Second, func() bool { return tr.openCount() == 2 })
}

func TestUnknownStatusIsIgnored(t *testing.T) {
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, tr.attached)
	tr.pushStatus("presence_diff")
	tr.pushStatus("some_future_status")

	snap := o.Snapshot()
	if snap.State != StateDisconnected {
		t.Errorf("state = %s after unknown statuses, want disconnected", snap.State)
	}
	if snap.Err != nil {
		t.Errorf("Err = %v after unknown statuses, want nil", snap.Err)
	}

	// The channel still works afterwards.
	tr.pushStatus("subscribed")
	waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StateRealtime })
}

func TestSetTargetCreatesFreshSession(t *testing.T) {
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, tr.attached)
	time.Sleep(20 * time.Millisecond) // let connect finish attaching the handle
	first := tr.handle
	tr.pushStatus("subscribed")
	waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StateRealtime })

	o.SetTarget(feed.Target{Type: feed.TargetPost, ID: "post-2"})
	waitUntil(t, time.Second, func() bool { return tr.openCount() == 2 })

	if n := first.releases.Load(); n == 0 {
		t.Error("old session handle was not released on reconfigure")
	}
	if snap := o.Snapshot(); snap.Subscribed {
		t.Error("Subscribed = true right after reconfigure, want false until new subscribe")
	}
}

func TestStaleStatusAfterStopIsDiscarded(t *testing.T) {
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()

	waitUntil(t, time.Second, tr.attached)
	o.Stop()

	// The transport still holds the old callbacks; a late status must not
	// mutate the superseded session.
	tr.pushStatus("subscribed")
	snap := o.Snapshot()
	if snap.State != StateDisconnected || snap.Subscribed {
		t.Errorf("stale status applied: state=%s subscribed=%v", snap.State, snap.Subscribed)
	}
}

func TestSetEnabledTogglesSession(t *testing.T) {
	tr := &fakeTransport{}
	o := New(tr, readyGate(), fastRetry(Options{Target: testTarget(), Enabled: true}))
	o.Start()
	defer o.Stop()

	waitUntil(t, time.Second, tr.attached)
	tr.pushStatus("subscribed")
	waitUntil(t, time.Second, func() bool { return o.Snapshot().State == StateRealtime })

	o.SetEnabled(false)
	if snap := o.Snapshot(); snap.State != StateDisconnected {
		t.Errorf("state = %s after disable, want disconnected", snap.State)
	}

	o.SetEnabled(true)
	waitUntil(t, time.Second, func() bool { return tr.openCount() == 2 })
}
