package gallery

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"atelier/api/internal/identity"
	"atelier/api/internal/store"
)

// fakeStore is a map-backed MutationStore that counts every mutation call.
type fakeStore struct {
	mu        sync.Mutex
	arts      map[string]store.Artwork
	revisions []store.ArtworkRevision

	insertErr error
	deleteErr error

	mutations int
}

func newFakeStore() *fakeStore {
	return &fakeStore{arts: make(map[string]store.Artwork)}
}

func (f *fakeStore) GetArtwork(_ context.Context, id string) (store.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.arts[id]
	if !ok {
		return store.Artwork{}, sql.ErrNoRows
	}
	return a, nil
}

func (f *fakeStore) InsertArtwork(_ context.Context, a store.Artwork) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if f.insertErr != nil {
		return f.insertErr
	}
	f.arts[a.ID] = a
	return nil
}

func (f *fakeStore) UpdateArtwork(_ context.Context, id, title, medium string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	a, ok := f.arts[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.Title, a.Medium = title, medium
	f.arts[id] = a
	return nil
}

func (f *fakeStore) DeleteArtwork(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.arts, id)
	return nil
}

func (f *fakeStore) InsertArtworkRevision(_ context.Context, rev store.ArtworkRevision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revisions = append(f.revisions, rev)
	return nil
}

func (f *fakeStore) ListArtworks(context.Context) ([]store.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Artwork, 0, len(f.arts))
	for _, a := range f.arts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

func adminIdent() identity.Identity {
	return identity.Identity{UserID: "user-1", Email: "artist@example.com"}
}

func allowAll(identity.Identity) bool { return true }
func denyAll(identity.Identity) bool  { return false }

func uploadFile(name string, data []byte) UploadFile {
	return UploadFile{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func TestMutationsRequireAdmin(t *testing.T) {
	st := newFakeStore()
	g := NewGateway(st, NewMemoryFeed(), denyAll, nil, 0)
	ctx := context.Background()
	visitor := identity.Identity{UserID: "guest_1", Anonymous: true}

	if _, err := g.Create(ctx, visitor, Draft{URL: "https://img"}); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("Create: expected ErrNotAdmin, got %v", err)
	}
	if _, err := g.Update(ctx, visitor, "art_1", Patch{}); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("Update: expected ErrNotAdmin, got %v", err)
	}
	if err := g.Delete(ctx, visitor, "art_1", true); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("Delete: expected ErrNotAdmin, got %v", err)
	}
	if _, err := g.BulkCreate(ctx, visitor, []UploadFile{uploadFile("a.png", []byte("x"))}, "", "", nil); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("BulkCreate: expected ErrNotAdmin, got %v", err)
	}

	if n := st.mutationCount(); n != 0 {
		t.Fatalf("rejected mutations must not touch the store, saw %d calls", n)
	}
}

func TestCreateDefaultsAndSanitizes(t *testing.T) {
	st := newFakeStore()
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)

	art, err := g.Create(context.Background(), adminIdent(), Draft{
		Title:  "  ",
		Medium: "<b>Oil</b> on Canvas",
		URL:    "https://example.com/img.jpg",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if art.Title != "Untitled" {
		t.Fatalf("blank title should default to Untitled, got %q", art.Title)
	}
	if art.Medium != "Oil on Canvas" {
		t.Fatalf("medium should be sanitized, got %q", art.Medium)
	}
	if art.CreatedAt == 0 {
		t.Fatal("CreatedAt must be assigned at write time")
	}
}

func TestCreateRequiresImage(t *testing.T) {
	g := NewGateway(newFakeStore(), NewMemoryFeed(), allowAll, nil, 0)
	if _, err := g.Create(context.Background(), adminIdent(), Draft{Title: "No picture"}); !errors.Is(err, ErrMissingImage) {
		t.Fatalf("expected ErrMissingImage, got %v", err)
	}
}

func TestUpdateRecordsRevision(t *testing.T) {
	st := newFakeStore()
	st.arts["art_1"] = store.Artwork{ID: "art_1", Title: "Before", Medium: "Oil", URL: "u", CreatedAt: 1}
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)

	title := "After"
	got, err := g.Update(context.Background(), adminIdent(), "art_1", Patch{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "After" || got.Medium != "Oil" {
		t.Fatalf("unexpected result %+v", got)
	}
	if len(st.revisions) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(st.revisions))
	}
	rev := st.revisions[0]
	if rev.Title != "Before" || rev.EditedBy != "artist@example.com" {
		t.Fatalf("revision should capture prior state and editor, got %+v", rev)
	}
}

func TestUpdateUnknownArtworkIsNotFound(t *testing.T) {
	g := NewGateway(newFakeStore(), NewMemoryFeed(), allowAll, nil, 0)
	if _, err := g.Update(context.Background(), adminIdent(), "art_missing", Patch{}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSeedRecordsAreImmutable(t *testing.T) {
	st := newFakeStore()
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)
	ctx := context.Background()

	if _, err := g.Update(ctx, adminIdent(), "demo-1", Patch{}); !errors.Is(err, ErrSeedImmutable) {
		t.Fatalf("Update: expected ErrSeedImmutable, got %v", err)
	}
	if err := g.Delete(ctx, adminIdent(), "demo-1", true); !errors.Is(err, ErrSeedImmutable) {
		t.Fatalf("Delete: expected ErrSeedImmutable, got %v", err)
	}
	if n := st.mutationCount(); n != 0 {
		t.Fatalf("seed mutations must not touch the store, saw %d calls", n)
	}
}

func TestSeedDeleteRejectedEvenWithoutConfirmation(t *testing.T) {
	st := newFakeStore()
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)

	if err := g.Delete(context.Background(), adminIdent(), "demo-2", false); !errors.Is(err, ErrSeedImmutable) {
		t.Fatalf("seed check must precede the confirmation check, got %v", err)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	st := newFakeStore()
	st.arts["art_1"] = store.Artwork{ID: "art_1"}
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)

	if err := g.Delete(context.Background(), adminIdent(), "art_1", false); !errors.Is(err, ErrConfirmRequired) {
		t.Fatalf("expected ErrConfirmRequired, got %v", err)
	}
	if _, ok := st.arts["art_1"]; !ok {
		t.Fatal("unconfirmed delete must not remove the artwork")
	}
}

func TestDeleteFailureIsSwallowed(t *testing.T) {
	st := newFakeStore()
	st.arts["art_1"] = store.Artwork{ID: "art_1"}
	st.deleteErr = errors.New("connection reset")
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)

	if err := g.Delete(context.Background(), adminIdent(), "art_1", true); err != nil {
		t.Fatalf("delete transport failures are logged, not surfaced: %v", err)
	}
}

func TestBulkCreateRequiresFiles(t *testing.T) {
	g := NewGateway(newFakeStore(), NewMemoryFeed(), allowAll, nil, 0)
	if _, err := g.BulkCreate(context.Background(), adminIdent(), nil, "", "", nil); !errors.Is(err, ErrNoFilesSelected) {
		t.Fatalf("expected ErrNoFilesSelected, got %v", err)
	}
}

func TestBulkCreateSkipsOversizedFileAndContinues(t *testing.T) {
	st := newFakeStore()
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 16)

	files := []UploadFile{
		uploadFile("first.png", []byte("small")),
		uploadFile("huge.png", bytes.Repeat([]byte("x"), 64)),
		uploadFile("third.png", []byte("small")),
	}

	var progress []string
	res, err := g.BulkCreate(context.Background(), adminIdent(), files, "Ink", "", func(p string) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}

	if len(res.Created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(res.Created))
	}
	if len(res.Failed) != 1 || res.Failed[0].Name != "huge.png" {
		t.Fatalf("expected huge.png to fail, got %+v", res.Failed)
	}
	if !errors.Is(res.Failed[0].Err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", res.Failed[0].Err)
	}
	if len(st.arts) != 2 {
		t.Fatalf("store should hold 2 artworks, has %d", len(st.arts))
	}

	want := []string{"1/3", "2/3", "3/3"}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("progress = %v, want %v", progress, want)
		}
	}
}

func TestBulkCreateTitleAndMediumDerivation(t *testing.T) {
	st := newFakeStore()
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)

	files := []UploadFile{
		uploadFile("", []byte("a")),
		uploadFile("  ", []byte("b")),
		uploadFile("sunset.png", []byte("c")),
	}
	res, err := g.BulkCreate(context.Background(), adminIdent(), files, "", "", nil)
	if err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}
	if len(res.Created) != 3 {
		t.Fatalf("expected 3 created, got %d (failed: %+v)", len(res.Created), res.Failed)
	}

	titles := []string{res.Created[0].Title, res.Created[1].Title, res.Created[2].Title}
	want := []string{"Study 1", "Study 2", "sunset"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("titles = %v, want %v", titles, want)
		}
	}
	for _, a := range res.Created {
		if a.Medium != "Mixed Media" {
			t.Fatalf("blank medium should default, got %q", a.Medium)
		}
		if !strings.HasPrefix(a.URL, "data:") {
			t.Fatalf("without a blob store images embed as data URLs, got %q", a.URL)
		}
	}

	// A title prefix overrides filenames: numbered across a batch.
	res, err = g.BulkCreate(context.Background(), adminIdent(), []UploadFile{
		uploadFile("sunset.png", []byte("d")),
		uploadFile("dawn.jpg", []byte("e")),
	}, "", "Study", nil)
	if err != nil {
		t.Fatalf("BulkCreate with prefix: %v", err)
	}
	if res.Created[0].Title != "Study 1" || res.Created[1].Title != "Study 2" {
		t.Fatalf("prefixed batch titles = [%s %s], want [Study 1 Study 2]",
			res.Created[0].Title, res.Created[1].Title)
	}

	// A single file takes the prefix verbatim.
	res, err = g.BulkCreate(context.Background(), adminIdent(), []UploadFile{
		uploadFile("sunset.png", []byte("f")),
	}, "", "Nocturne", nil)
	if err != nil {
		t.Fatalf("BulkCreate single with prefix: %v", err)
	}
	if res.Created[0].Title != "Nocturne" {
		t.Fatalf("single-file prefixed title = %q, want %q", res.Created[0].Title, "Nocturne")
	}
}

func TestBulkCreateStopsFailureFromAborting(t *testing.T) {
	st := newFakeStore()
	g := NewGateway(st, NewMemoryFeed(), allowAll, nil, 0)

	files := []UploadFile{
		{Name: "broken.png", Size: 4, Open: func() (io.ReadCloser, error) {
			return nil, errors.New("disk unplugged")
		}},
		uploadFile("fine.png", []byte("ok")),
	}
	res, err := g.BulkCreate(context.Background(), adminIdent(), files, "", "", nil)
	if err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}
	if len(res.Created) != 1 || res.Created[0].Title != "fine" {
		t.Fatalf("expected the second file to import, got %+v", res.Created)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %+v", res.Failed)
	}
}

func TestCreateReachesLiveSnapshot(t *testing.T) {
	st := newFakeStore()
	feed := NewMemoryFeed()
	g := NewGateway(st, feed, allowAll, nil, 0)
	s := NewSynchronizer(st, feed, g)
	if err := s.Start(context.Background(), anonIdent()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ch, cancel := s.Subscribe()
	defer cancel()
	waitSnapshot(t, ch) // seed snapshot

	art, err := g.Create(context.Background(), adminIdent(), Draft{Title: "New Piece", URL: "https://img"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for {
		snap := waitSnapshot(t, ch)
		if len(snap) == 1 && snap[0].ID == art.ID {
			return
		}
	}
}
