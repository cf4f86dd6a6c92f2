// Package feed defines the pulsefeed domain model and the wire protocol
// shared by the client transport and the dev server. It is a leaf package
// with no internal imports.
package feed

import (
	"encoding/json"
	"time"
)

// TargetType discriminates what kind of entity a subscription follows.
type TargetType string

const (
	TargetPost     TargetType = "post"
	TargetActivity TargetType = "activity"
)

// Target identifies one subscribable entity. An empty ID means
// "do not connect".
type Target struct {
	Type TargetType
	ID   string
}

// Topic returns the channel topic string for this target, e.g. "post:42".
func (t Target) Topic() string {
	return string(t.Type) + ":" + t.ID
}

// Valid reports whether the target can be subscribed to.
func (t Target) Valid() bool {
	return t.Type != "" && t.ID != ""
}

// LikeRow is one like on a post.
type LikeRow struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"targetId"`
	ActorID   string    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationRow is one activity-feed entry (e.g. a follow notification).
type NotificationRow struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	ActorID     string    `json:"actorId"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EventKind classifies a change event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventRemove EventKind = "remove"
)

// Event is a single change delivered by the push channel or produced by a
// poll resync. Row holds the raw row payload; use Like or Notification to
// decode it based on the subscription's target type.
type Event struct {
	Kind  EventKind
	Topic string
	Row   json.RawMessage
}

// Like decodes the event row as a LikeRow.
func (e Event) Like() (LikeRow, error) {
	var row LikeRow
	err := json.Unmarshal(e.Row, &row)
	return row, err
}

// Notification decodes the event row as a NotificationRow.
func (e Event) Notification() (NotificationRow, error) {
	var row NotificationRow
	err := json.Unmarshal(e.Row, &row)
	return row, err
}
