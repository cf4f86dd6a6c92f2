package realtime

import "github.com/pulsefeed/pulsefeed/internal/feed"

// StatusKind is the closed set of channel status outcomes the orchestrator
// acts on. The provider's raw status strings are an open set; everything not
// recognized maps to StatusUnknown and causes no transition.
type StatusKind int

const (
	StatusUnknown StatusKind = iota
	StatusSubscribed
	StatusFailure
)

// Status is the parsed form of one channel status callback.
type Status struct {
	Kind StatusKind
	// Reason holds the failure cause for StatusFailure (channel_error,
	// timed_out, closed). Raw preserves the original string for logging.
	Reason string
	Raw    string
}

// ParseStatus maps a raw provider status string onto the closed variant.
func ParseStatus(raw string) Status {
	switch raw {
	case feed.StatusSubscribed:
		return Status{Kind: StatusSubscribed, Raw: raw}
	case feed.StatusChannelError, feed.StatusTimedOut, feed.StatusClosed:
		return Status{Kind: StatusFailure, Reason: raw, Raw: raw}
	default:
		return Status{Kind: StatusUnknown, Raw: raw}
	}
}
