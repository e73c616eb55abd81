package gallery

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"atelier/api/internal/identity"
	"atelier/api/internal/store"
)

// Lister is the read slice of the artwork store the synchronizer needs.
type Lister interface {
	ListArtworks(ctx context.Context) ([]store.Artwork, error)
}

// PendingWrites reports how many gallery mutations are currently in flight.
// The synchronizer suppresses the seed fallback while any write is pending so
// a half-committed first upload never flickers into demo content.
type PendingWrites interface {
	InFlight() int
}

type noPendingWrites struct{}

func (noPendingWrites) InFlight() int { return 0 }

// Synchronizer maintains the live, sorted artwork snapshot. It loads once at
// Start, then reloads on every feed notification, emitting each new snapshot
// to its subscribers. While the store is empty and no write is pending it
// serves the bundled seed gallery instead.
type Synchronizer struct {
	lister  Lister
	feed    Feed
	pending PendingWrites

	mu       sync.Mutex
	started  bool
	loading  bool
	snapshot []store.Artwork
	nextSub  int
	subs     map[int]chan []store.Artwork
	stop     func()
	done     chan struct{}
}

func NewSynchronizer(lister Lister, feed Feed, pending PendingWrites) *Synchronizer {
	if pending == nil {
		pending = noPendingWrites{}
	}
	return &Synchronizer{
		lister:  lister,
		feed:    feed,
		pending: pending,
		loading: true,
		subs:    make(map[int]chan []store.Artwork),
	}
}

// Start performs the initial load and begins following the change feed.
// It requires an established identity; starting before identity resolution
// is a programming error, not a runtime condition.
func (s *Synchronizer) Start(ctx context.Context, ident identity.Identity) error {
	if ident.IsZero() {
		return errors.New("gallery: synchronizer started without an identity")
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("gallery: synchronizer already started")
	}
	s.started = true
	s.mu.Unlock()

	s.refresh(ctx)

	notify, cancel, err := s.feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.stop = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for range notify {
			s.refresh(ctx)
		}
	}()
	return nil
}

// Stop detaches from the feed. Safe to call repeatedly; existing snapshots
// stay readable after Stop.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	stop := s.stop
	done := s.done
	s.stop = nil
	s.done = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
}

// Loading reports whether the first snapshot has not been produced yet.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Snapshot returns the current sorted view. Callers must not mutate it.
func (s *Synchronizer) Snapshot() []store.Artwork {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe registers a snapshot listener. Each new snapshot is delivered on
// the returned channel; a slow consumer only misses intermediate states, the
// latest snapshot is always retrievable via Snapshot.
func (s *Synchronizer) Subscribe() (<-chan []store.Artwork, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan []store.Artwork, 1)
	s.subs[id] = ch
	if !s.loading {
		ch <- s.snapshot
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// refresh reloads the collection and emits the resulting snapshot. A load
// error keeps the previous snapshot in place so readers never regress to
// empty because of a transient store failure.
func (s *Synchronizer) refresh(ctx context.Context) {
	items, err := s.lister.ListArtworks(ctx)
	if err != nil {
		log.Printf("gallery: snapshot refresh failed, keeping previous view: %v", err)
		return
	}

	if len(items) == 0 && s.pending.InFlight() == 0 {
		items = SeedArtworks()
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt > items[j].CreatedAt
	})

	s.mu.Lock()
	s.loading = false
	s.snapshot = items
	for _, ch := range s.subs {
		// Replace any undelivered snapshot with the newest one.
		select {
		case <-ch:
		default:
		}
		ch <- items
	}
	s.mu.Unlock()
}
