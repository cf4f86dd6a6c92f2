package server

import (
	"sync"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// Store holds the dev server's feed state: likes per post and notifications
// per recipient. Reads return copies so handlers can't race with writers.
type Store struct {
	mu            sync.RWMutex
	likes         map[string][]feed.LikeRow         // keyed by target (post) ID
	notifications map[string][]feed.NotificationRow // keyed by recipient ID
}

func NewStore() *Store {
	return &Store{
		likes:         make(map[string][]feed.LikeRow),
		notifications: make(map[string][]feed.NotificationRow),
	}
}

func (s *Store) Likes(targetID string) []feed.LikeRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.likes[targetID]
	out := make([]feed.LikeRow, len(rows))
	copy(out, rows)
	return out
}

func (s *Store) AddLike(row feed.LikeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likes[row.TargetID] = append(s.likes[row.TargetID], row)
}

// RemoveLike deletes a like by ID and returns the removed row, if any.
func (s *Store) RemoveLike(targetID, likeID string) (feed.LikeRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.likes[targetID]
	for i, row := range rows {
		if row.ID == likeID {
			s.likes[targetID] = append(rows[:i:i], rows[i+1:]...)
			return row, true
		}
	}
	return feed.LikeRow{}, false
}

func (s *Store) Notifications(recipientID string) []feed.NotificationRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.notifications[recipientID]
	out := make([]feed.NotificationRow, len(rows))
	copy(out, rows)
	return out
}

func (s *Store) AddNotification(row feed.NotificationRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[row.RecipientID] = append(s.notifications[row.RecipientID], row)
}
