package gallery

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Feed is the change-notification transport behind the live gallery view.
// Publish signals that the artwork collection changed; Subscribe yields a
// channel that receives one token per change notification. Notifications
// carry no payload: each one means "reload and re-emit".
type Feed interface {
	Publish(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan struct{}, func(), error)
}

// RedisFeed implements Feed over a Redis pub/sub channel so that every API
// instance observes writes made by any of them.
type RedisFeed struct {
	client  *redis.Client
	channel string
}

func NewRedisFeed(redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFeedWithClient(redis.NewClient(opts)), nil
}

// NewRedisFeedWithClient creates a feed from an existing Redis client.
func NewRedisFeedWithClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, channel: "atelier:artworks"}
}

func (f *RedisFeed) Publish(ctx context.Context) error {
	if err := f.client.Publish(ctx, f.channel, "changed").Err(); err != nil {
		return fmt.Errorf("publish artwork change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe artwork feed: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range pubsub.Channel() {
			// Coalesce: one pending notification is enough to trigger a reload.
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				log.Printf("gallery: close feed subscription: %v", err)
			}
		})
	}
	return out, cancel, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

// MemoryFeed is an in-process Feed for single-instance deployments without
// Redis, and for tests.
type MemoryFeed struct {
	mu      sync.Mutex
	nextSub int
	subs    map[int]chan struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[int]chan struct{})}
}

func (f *MemoryFeed) Publish(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan struct{}, 1)
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
