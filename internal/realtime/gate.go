package realtime

import "context"

// ReadinessGate reports whether the caller currently holds a usable session.
// It is a single asynchronous probe: no retry logic lives here, the
// orchestrator drives retries through its RetryScheduler. Implementations
// must be safe for repeated and concurrent calls.
type ReadinessGate interface {
	Ready(ctx context.Context) (bool, error)
}

// GateFunc adapts a function to the ReadinessGate interface.
type GateFunc func(ctx context.Context) (bool, error)

func (f GateFunc) Ready(ctx context.Context) (bool, error) { return f(ctx) }

// AlwaysReady is a gate for unauthenticated setups (dev server without a
// token) and tests.
var AlwaysReady ReadinessGate = GateFunc(func(context.Context) (bool, error) {
	return true, nil
})
