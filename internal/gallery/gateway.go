package gallery

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"atelier/api/internal/identity"
	"atelier/api/internal/store"
	"atelier/api/internal/util"
)

var (
	// ErrNotAdmin rejects mutations from identities the policy does not admit.
	ErrNotAdmin = errors.New("only the gallery administrator can modify artworks")

	// ErrSeedImmutable rejects mutations aimed at the bundled demo records.
	ErrSeedImmutable = errors.New("this is a demo piece, upload your own art to manage it")

	// ErrConfirmRequired rejects deletions that were not explicitly confirmed.
	ErrConfirmRequired = errors.New("deletion requires confirmation")

	// ErrNoFilesSelected rejects bulk uploads without any file.
	ErrNoFilesSelected = errors.New("no files selected")

	// ErrMissingImage rejects single creates without an image reference.
	ErrMissingImage = errors.New("an image is required")

	// ErrFileTooLarge marks a single file rejected by the upload ceiling.
	ErrFileTooLarge = errors.New("file exceeds the upload size limit")

	// ErrPersistence wraps store failures surfaced to callers.
	ErrPersistence = errors.New("failed to save artwork")
)

// MutationStore is the write slice of the artwork store.
type MutationStore interface {
	GetArtwork(ctx context.Context, id string) (store.Artwork, error)
	InsertArtwork(ctx context.Context, a store.Artwork) error
	UpdateArtwork(ctx context.Context, id, title, medium string) error
	DeleteArtwork(ctx context.Context, id string) error
	InsertArtworkRevision(ctx context.Context, rev store.ArtworkRevision) error
}

// BlobStore uploads an image and returns its public URL. Optional; without
// one, bulk uploads embed images as data URLs.
type BlobStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (string, error)
}

// Draft is the input for a single create.
type Draft struct {
	Title  string
	Medium string
	URL    string
}

// Patch carries the editable fields of an artwork; nil means unchanged.
type Patch struct {
	Title  *string
	Medium *string
}

// UploadFile is one file of a bulk upload. Open is called at most once,
// only after the file passes the size check.
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// BulkFailure records one file that could not be imported.
type BulkFailure struct {
	Name string
	Err  error
}

// BulkResult summarizes a bulk upload: which pieces were created and which
// files failed. A failed file never aborts the rest of the batch.
type BulkResult struct {
	Created []store.Artwork
	Failed  []BulkFailure
}

// Gateway is the single write path into the gallery. Every mutation is
// policy-gated before any store access, serialized under one mutex, and
// followed by a feed notification so live views reload.
type Gateway struct {
	store     MutationStore
	feed      Feed
	policy    identity.Policy
	blobs     BlobStore
	maxUpload int64
	sanitize  *bluemonday.Policy

	mu       sync.Mutex
	inFlight atomic.Int32

	now func() int64
}

const defaultMaxUploadBytes = 800 * 1024

func NewGateway(st MutationStore, feed Feed, policy identity.Policy, blobs BlobStore, maxUploadBytes int64) *Gateway {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Gateway{
		store:     st,
		feed:      feed,
		policy:    policy,
		blobs:     blobs,
		maxUpload: maxUploadBytes,
		sanitize:  bluemonday.StrictPolicy(),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// InFlight reports the number of writes currently committing.
func (g *Gateway) InFlight() int {
	return int(g.inFlight.Load())
}

// Create adds a single artwork. Title and medium fall back to defaults; the
// image reference is mandatory.
func (g *Gateway) Create(ctx context.Context, ident identity.Identity, draft Draft) (store.Artwork, error) {
	if !g.policy(ident) {
		return store.Artwork{}, ErrNotAdmin
	}
	url := strings.TrimSpace(draft.URL)
	if url == "" {
		return store.Artwork{}, ErrMissingImage
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	art := store.Artwork{
		ID:        util.NewID("art"),
		Title:     g.cleanOr(draft.Title, "Untitled"),
		Medium:    g.cleanOr(draft.Medium, "Mixed Media"),
		URL:       url,
		CreatedAt: g.now(),
	}
	if err := g.insert(ctx, art); err != nil {
		return store.Artwork{}, err
	}
	g.publish(ctx)
	return art, nil
}

// Update edits title and medium of an existing artwork, recording the prior
// values as a revision. Seed records cannot be edited.
func (g *Gateway) Update(ctx context.Context, ident identity.Identity, id string, patch Patch) (store.Artwork, error) {
	if !g.policy(ident) {
		return store.Artwork{}, ErrNotAdmin
	}
	if IsSeed(id) {
		return store.Artwork{}, ErrSeedImmutable
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prior, err := g.store.GetArtwork(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Artwork{}, err
		}
		return store.Artwork{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	next := prior
	if patch.Title != nil {
		next.Title = g.cleanOr(*patch.Title, "Untitled")
	}
	if patch.Medium != nil {
		next.Medium = g.cleanOr(*patch.Medium, "Mixed Media")
	}

	g.inFlight.Add(1)
	err = g.store.UpdateArtwork(ctx, id, next.Title, next.Medium)
	g.inFlight.Add(-1)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Artwork{}, err
		}
		return store.Artwork{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	rev := store.ArtworkRevision{
		ArtworkID: id,
		Title:     prior.Title,
		Medium:    prior.Medium,
		EditedBy:  ident.Email,
	}
	if err := g.store.InsertArtworkRevision(ctx, rev); err != nil {
		log.Printf("gallery: record revision for %s: %v", id, err)
	}

	g.publish(ctx)
	return next, nil
}

// Delete removes an artwork. Seed records are refused outright, before the
// confirmation check; everything else needs the confirmed flag. Store
// failures are logged but not surfaced; the live view simply keeps showing
// the piece.
func (g *Gateway) Delete(ctx context.Context, ident identity.Identity, id string, confirmed bool) error {
	if !g.policy(ident) {
		return ErrNotAdmin
	}
	if IsSeed(id) {
		return ErrSeedImmutable
	}
	if !confirmed {
		return ErrConfirmRequired
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.inFlight.Add(1)
	err := g.store.DeleteArtwork(ctx, id)
	g.inFlight.Add(-1)
	if err != nil {
		log.Printf("gallery: delete %s failed: %v", id, err)
		return nil
	}
	g.publish(ctx)
	return nil
}

// BulkCreate imports a batch of image files sequentially. Each file is
// checked against the size ceiling, converted to a stored image reference,
// and inserted on its own; one bad file is reported and skipped, never
// aborting the batch. After every file, progress receives "{done}/{total}".
// A non-empty titlePrefix overrides filename-derived titles: one file takes
// the prefix verbatim, a batch numbers them "prefix 1", "prefix 2", ...
func (g *Gateway) BulkCreate(ctx context.Context, ident identity.Identity, files []UploadFile, medium, titlePrefix string, progress func(string)) (BulkResult, error) {
	if !g.policy(ident) {
		return BulkResult{}, ErrNotAdmin
	}
	if len(files) == 0 {
		return BulkResult{}, ErrNoFilesSelected
	}
	if progress == nil {
		progress = func(string) {}
	}
	medium = g.cleanOr(medium, "Mixed Media")
	prefix := g.sanitize.Sanitize(strings.TrimSpace(titlePrefix))

	g.mu.Lock()
	defer g.mu.Unlock()

	var res BulkResult
	total := len(files)
	for i, f := range files {
		art, err := g.importFile(ctx, f, i, total, medium, prefix)
		if err != nil {
			log.Printf("gallery: bulk import %q: %v", f.Name, err)
			res.Failed = append(res.Failed, BulkFailure{Name: f.Name, Err: err})
		} else {
			res.Created = append(res.Created, art)
			g.publish(ctx)
		}
		progress(fmt.Sprintf("%d/%d", i+1, total))
	}
	return res, nil
}

func (g *Gateway) importFile(ctx context.Context, f UploadFile, idx, total int, medium, prefix string) (store.Artwork, error) {
	if f.Size > g.maxUpload {
		return store.Artwork{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, f.Name, f.Size, g.maxUpload)
	}

	rc, err := f.Open()
	if err != nil {
		return store.Artwork{}, fmt.Errorf("open upload: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, g.maxUpload+1))
	rc.Close()
	if err != nil {
		return store.Artwork{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > g.maxUpload {
		return store.Artwork{}, fmt.Errorf("%w: %s, limit %d", ErrFileTooLarge, f.Name, g.maxUpload)
	}

	contentType := http.DetectContentType(data)
	url, err := g.storeImage(ctx, f.Name, contentType, data)
	if err != nil {
		return store.Artwork{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	art := store.Artwork{
		ID:        util.NewID("art"),
		Title:     g.deriveTitle(f.Name, idx, total, prefix),
		Medium:    medium,
		URL:       url,
		CreatedAt: g.now(),
	}
	if err := g.insert(ctx, art); err != nil {
		return store.Artwork{}, err
	}
	return art, nil
}

func (g *Gateway) storeImage(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if g.blobs != nil {
		return g.blobs.Put(ctx, name, contentType, bytes.NewReader(data), int64(len(data)))
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (g *Gateway) insert(ctx context.Context, art store.Artwork) error {
	g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	if err := g.store.InsertArtwork(ctx, art); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (g *Gateway) publish(ctx context.Context) {
	if err := g.feed.Publish(ctx); err != nil {
		log.Printf("gallery: publish change notification: %v", err)
	}
}

// deriveTitle names an uploaded piece. A caller-supplied prefix wins: it is
// used verbatim for a single file and numbered across a batch. Without a
// prefix the filename minus its extension is the title, falling back to a
// numbered study title when nothing printable remains.
func (g *Gateway) deriveTitle(name string, idx, total int, prefix string) string {
	if prefix != "" {
		if total > 1 {
			return fmt.Sprintf("%s %d", prefix, idx+1)
		}
		return prefix
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = g.sanitize.Sanitize(strings.TrimSpace(base))
	if base == "" || base == "." {
		return fmt.Sprintf("Study %d", idx+1)
	}
	return base
}

// cleanOr sanitizes free-text input and substitutes a default when nothing
// printable remains.
func (g *Gateway) cleanOr(s, fallback string) string {
	s = g.sanitize.Sanitize(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	return s
}
