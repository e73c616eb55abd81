package gallery

import (
	"context"
	"errors"
	"testing"
	"time"

	"atelier/api/internal/identity"
	"atelier/api/internal/store"
)

type fakeLister struct {
	listFn func(context.Context) ([]store.Artwork, error)
}

func (f *fakeLister) ListArtworks(ctx context.Context) ([]store.Artwork, error) {
	return f.listFn(ctx)
}

type fixedPending int

func (p fixedPending) InFlight() int { return int(p) }

func anonIdent() identity.Identity {
	return identity.Identity{UserID: "guest_test", Anonymous: true}
}

func waitSnapshot(t *testing.T, ch <-chan []store.Artwork) []store.Artwork {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestStartRequiresIdentity(t *testing.T) {
	s := NewSynchronizer(&fakeLister{}, NewMemoryFeed(), nil)
	if err := s.Start(context.Background(), identity.Identity{}); err == nil {
		t.Fatal("expected error starting without an identity")
	}
}

func TestSnapshotSortedNewestFirst(t *testing.T) {
	lister := &fakeLister{listFn: func(context.Context) ([]store.Artwork, error) {
		return []store.Artwork{
			{ID: "a", Title: "Oldest", CreatedAt: 100},
			{ID: "b", Title: "Newest", CreatedAt: 300},
			{ID: "c", Title: "Middle", CreatedAt: 200},
		}, nil
	}}
	s := NewSynchronizer(lister, NewMemoryFeed(), nil)
	if err := s.Start(context.Background(), anonIdent()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d items, want 3", len(snap))
	}
	for i, want := range []string{"b", "c", "a"} {
		if snap[i].ID != want {
			t.Fatalf("snapshot[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}
	if s.Loading() {
		t.Fatal("Loading() should be false after the first snapshot")
	}
}

func TestEmptyStoreServesSeedGallery(t *testing.T) {
	lister := &fakeLister{listFn: func(context.Context) ([]store.Artwork, error) {
		return nil, nil
	}}
	s := NewSynchronizer(lister, NewMemoryFeed(), nil)
	if err := s.Start(context.Background(), anonIdent()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	snap := s.Snapshot()
	want := SeedArtworks()
	if len(snap) != len(want) {
		t.Fatalf("snapshot has %d items, want %d seeds", len(snap), len(want))
	}
	for i := range want {
		if snap[i] != want[i] {
			t.Fatalf("snapshot[%d] = %+v, want seed %+v", i, snap[i], want[i])
		}
	}
}

func TestSeedSuppressedWhileWritePending(t *testing.T) {
	lister := &fakeLister{listFn: func(context.Context) ([]store.Artwork, error) {
		return nil, nil
	}}
	s := NewSynchronizer(lister, NewMemoryFeed(), fixedPending(1))
	if err := s.Start(context.Background(), anonIdent()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if snap := s.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty snapshot while a write is pending, got %d items", len(snap))
	}
	if s.Loading() {
		t.Fatal("an empty snapshot is still a snapshot")
	}
}

func TestRefreshErrorKeepsPreviousSnapshot(t *testing.T) {
	healthy := true
	lister := &fakeLister{listFn: func(context.Context) ([]store.Artwork, error) {
		if !healthy {
			return nil, errors.New("connection reset")
		}
		return []store.Artwork{{ID: "a", Title: "Kept", CreatedAt: 1}}, nil
	}}
	feed := NewMemoryFeed()
	s := NewSynchronizer(lister, feed, nil)
	if err := s.Start(context.Background(), anonIdent()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	healthy = false
	if err := feed.Publish(context.Background()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// The failed reload must not clear the view.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if snap := s.Snapshot(); len(snap) != 1 || snap[0].ID != "a" {
			t.Fatalf("snapshot regressed to %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscriberSeesReload(t *testing.T) {
	items := []store.Artwork{{ID: "a", Title: "First", CreatedAt: 1}}
	lister := &fakeLister{listFn: func(context.Context) ([]store.Artwork, error) {
		out := make([]store.Artwork, len(items))
		copy(out, items)
		return out, nil
	}}
	feed := NewMemoryFeed()
	s := NewSynchronizer(lister, feed, nil)
	if err := s.Start(context.Background(), anonIdent()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ch, cancel := s.Subscribe()
	defer cancel()
	if snap := waitSnapshot(t, ch); len(snap) != 1 {
		t.Fatalf("initial snapshot has %d items, want 1", len(snap))
	}

	items = append(items, store.Artwork{ID: "b", Title: "Second", CreatedAt: 2})
	if err := feed.Publish(context.Background()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for {
		snap := waitSnapshot(t, ch)
		if len(snap) == 2 {
			if snap[0].ID != "b" {
				t.Fatalf("newest item should lead, got %s", snap[0].ID)
			}
			return
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	lister := &fakeLister{listFn: func(context.Context) ([]store.Artwork, error) {
		return []store.Artwork{{ID: "a", CreatedAt: 1}}, nil
	}}
	s := NewSynchronizer(lister, NewMemoryFeed(), nil)
	if err := s.Start(context.Background(), anonIdent()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	s.Stop()

	if snap := s.Snapshot(); len(snap) != 1 {
		t.Fatal("snapshot should remain readable after Stop")
	}
}
