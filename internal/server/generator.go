package server

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// Generator produces synthetic feed activity for demo/dev mode: random
// actors like and unlike a fixed set of posts and occasionally follow the
// demo user, so a connected client always has events to render.
type Generator struct {
	store *Store
	hub   *Hub

	posts     []string
	actors    []string
	recipient string
}

func NewGenerator(store *Store, hub *Hub) *Generator {
	return &Generator{
		store:     store,
		hub:       hub,
		posts:     []string{"post-1", "post-2", "post-3"},
		actors:    []string{"ada", "grace", "linus", "margaret", "dennis"},
		recipient: "demo",
	}
}

// Start emits one synthetic event per tick until the context is cancelled.
func (g *Generator) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("mock generator started (interval=%v)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("mock generator stopped")
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Generator) tick() {
	switch rand.Intn(10) {
	case 0, 1:
		// Unlike: drop a random existing like, if any.
		post := g.posts[rand.Intn(len(g.posts))]
		likes := g.store.Likes(post)
		if len(likes) == 0 {
			return
		}
		row := likes[rand.Intn(len(likes))]
		if _, ok := g.store.RemoveLike(post, row.ID); ok {
			g.hub.BroadcastChange(likeTopic(post), feed.EventRemove, row)
		}
	case 2:
		// Follow notification for the demo user.
		row := feed.NotificationRow{
			ID:          fmt.Sprintf("notif-%d", time.Now().UnixNano()),
			RecipientID: g.recipient,
			ActorID:     g.actors[rand.Intn(len(g.actors))],
			Kind:        "follow",
			CreatedAt:   time.Now(),
		}
		g.store.AddNotification(row)
		g.hub.BroadcastChange(activityTopic(g.recipient), feed.EventInsert, row)
	default:
		post := g.posts[rand.Intn(len(g.posts))]
		row := feed.LikeRow{
			ID:        fmt.Sprintf("like-%d", time.Now().UnixNano()),
			TargetID:  post,
			ActorID:   g.actors[rand.Intn(len(g.actors))],
			CreatedAt: time.Now(),
		}
		g.store.AddLike(row)
		g.hub.BroadcastChange(likeTopic(post), feed.EventInsert, row)
	}
}
