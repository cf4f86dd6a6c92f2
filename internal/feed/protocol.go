package feed

import "encoding/json"

type MessageType string

const (
	MsgSubscribe MessageType = "subscribe"
	MsgStatus    MessageType = "status"
	MsgChange    MessageType = "change"
	MsgError     MessageType = "error"
)

// Envelope is the wire format for all channel messages, both directions.
// Payload stays raw so unrecognized message types can be skipped without
// a decode error.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload is sent client to server to attach to a topic.
type SubscribePayload struct {
	Topic string `json:"topic"`
}

// StatusPayload reports a channel lifecycle change for a topic. Status is an
// open string set: servers may send values this client has never heard of.
type StatusPayload struct {
	Topic  string `json:"topic"`
	Status string `json:"status"`
}

// Channel status strings this client understands. Anything else is ignored.
const (
	StatusSubscribed   = "subscribed"
	StatusChannelError = "channel_error"
	StatusTimedOut     = "timed_out"
	StatusClosed       = "closed"
)

// ChangePayload carries one row change on a topic.
type ChangePayload struct {
	Topic string          `json:"topic"`
	Kind  EventKind       `json:"kind"`
	Row   json.RawMessage `json:"row"`
}

// Marshal wraps a payload into an envelope and encodes it.
func Marshal(t MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}
