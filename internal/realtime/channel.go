package realtime

import (
	"context"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// Transport opens push channels. Open may fail synchronously (dial error,
// bad URL); every failure surfaces as an error return. After a successful
// Open the transport invokes onStatus asynchronously, possibly many times,
// and onChange for each delivered row change. Both callbacks may be invoked
// from a transport-owned goroutine; the orchestrator serializes them.
type Transport interface {
	Open(ctx context.Context, target feed.Target, onChange func(feed.Event), onStatus func(Status)) (Handle, error)
}

// Handle is an open channel. Release unsubscribes and must be idempotent.
type Handle interface {
	Release()
}

// release is a nil-safe idempotent release helper. Implementations guard
// double-release themselves; this guards the nil case.
func release(h Handle) {
	if h != nil {
		h.Release()
	}
}
