package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"atelier/api/internal/auth"
	"atelier/api/internal/authpw"
	"atelier/api/internal/config"
	"atelier/api/internal/export"
	"atelier/api/internal/gallery"
	"atelier/api/internal/identity"
	"atelier/api/internal/search"
	"atelier/api/internal/store"
	"atelier/api/internal/util"
)

// Session is an issued API session: an access token plus a refresh token,
// bound to a resolved identity.
type Session struct {
	Token        string
	RefreshToken string
	Identity     identity.Identity
	JTI          string
	ExpiresAt    time.Time
}

// ArtworkInput is the body of a single create.
type ArtworkInput struct {
	Title  string `json:"title"`
	Medium string `json:"medium"`
	URL    string `json:"url"`
}

// ArtworkPatchInput is the body of an update; nil fields stay unchanged.
type ArtworkPatchInput struct {
	Title  *string `json:"title"`
	Medium *string `json:"medium"`
}

type dataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ListArtworkRevisions(ctx context.Context, artworkID string) ([]store.ArtworkRevision, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, ident store.SessionIdentity, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.SessionIdentity, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type accountService interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (*authpw.SignUpResponse, error)
	VerifyEmail(ctx context.Context, token string) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, galleryName, verificationURL string) error
}

// Deps carries the collaborators the service is constructed from. Search,
// Export and Email are optional; nil disables the corresponding surface.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Resolver *identity.Resolver
	Accounts accountService
	Sync     *gallery.Synchronizer
	Gateway  *gallery.Gateway
	Search   *search.Service
	Export   *export.Service
	Email    mailer
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	resolver *identity.Resolver
	accounts accountService
	sync     *gallery.Synchronizer
	gateway  *gallery.Gateway
	search   *search.Service
	export   *export.Service
	email    mailer

	stopIdentityWatch func()
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		resolver: deps.Resolver,
		accounts: deps.Accounts,
		sync:     deps.Sync,
		gateway:  deps.Gateway,
		search:   deps.Search,
		export:   deps.Export,
		email:    deps.Email,
	}
}

// Bootstrap resolves the startup identity, starts the live gallery view
// under it, and warms the search index. The server refuses to start only
// when the gallery view cannot be established; identity bootstrap failures
// degrade to an anonymous reader.
func (s *Service) Bootstrap(ctx context.Context) error {
	ident := s.resolver.Initialize(ctx, s.cfg.BootstrapToken)
	if err := s.sync.Start(ctx, ident); err != nil {
		return fmt.Errorf("start gallery view: %w", err)
	}

	s.stopIdentityWatch = s.resolver.Subscribe(func(id identity.Identity) {
		if id.Anonymous {
			log.Printf("identity: now browsing anonymously as %s", id.UserID)
			return
		}
		log.Printf("identity: signed in as %s", id.Email)
	})

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// Close stops the live view and identity watch. Safe to call once after a
// successful Bootstrap.
func (s *Service) Close() {
	if s.stopIdentityWatch != nil {
		s.stopIdentityWatch()
		s.stopIdentityWatch = nil
	}
	s.sync.Stop()
}

// AnonymousSession issues a read-only visitor session.
func (s *Service) AnonymousSession(ctx context.Context) (Session, error) {
	return s.issueSession(ctx, identity.NewAnonymous())
}

// SignIn authenticates and issues a session for an existing account.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	ident, err := s.resolver.Login(ctx, email, password, identity.ModeSignIn)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, ident)
}

// SignUp creates an account. With a mail transport configured the account
// must verify its email first and no session is issued; otherwise sign-up
// immediately replaces the current identity and returns a session.
func (s *Service) SignUp(ctx context.Context, email, password string) (Session, bool, error) {
	if s.email != nil && s.email.IsConfigured() {
		resp, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password})
		if err != nil {
			log.Printf("app: sign-up rejected: %v", err)
			return Session{}, false, identity.ErrInvalidCredentials
		}
		verifyURL := fmt.Sprintf("%s/api/auth/verify-email?token=%s", s.cfg.PublicURL, resp.VerificationToken)
		if err := s.email.SendVerificationEmail(email, s.cfg.ArtistName, verifyURL); err != nil {
			log.Printf("app: send verification email: %v", err)
		}
		return Session{}, true, nil
	}

	ident, err := s.resolver.Login(ctx, email, password, identity.ModeSignUp)
	if err != nil {
		return Session{}, false, err
	}
	sess, err := s.issueSession(ctx, ident)
	return sess, false, err
}

// VerifyEmail redeems an emailed verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.accounts.VerifyEmail(ctx, token); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_TOKEN", err.Error())
	}
	return nil
}

// Logout revokes the session's tokens and re-anonymizes the resolver.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	s.resolver.Logout(ctx)
	return nil
}

// Refresh rotates a refresh token into a fresh session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	stored, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, identity.Identity{
		UserID:    stored.UserID,
		Email:     stored.Email,
		Anonymous: stored.Anonymous,
	})
}

func (s *Service) issueSession(ctx context.Context, ident identity.Identity) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   ident.UserID,
		Email: ident.Email,
		Anon:  ident.Anonymous,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	stored := store.SessionIdentity{UserID: ident.UserID, Email: ident.Email, Anonymous: ident.Anonymous}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), stored, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Identity:     ident,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and reconstructs its session.
// Anonymous sessions live entirely in the token; authenticated ones are
// checked against the user row.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	ident := identity.Identity{UserID: claims.Sub, Email: claims.Email, Anonymous: claims.Anon}
	if !claims.Anon {
		user, err := s.store.GetUserByID(ctx, claims.Sub)
		if err != nil {
			return Session{}, auth.ErrInvalidToken
		}
		ident.Email = user.Email
	}

	return Session{
		Token:     token,
		Identity:  ident,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// IsAdmin applies the configured admin policy.
func (s *Service) IsAdmin(ident identity.Identity) bool {
	return s.resolver.IsAdmin(ident)
}

// Artworks returns the current live snapshot and whether the first load is
// still pending.
func (s *Service) Artworks() (loading bool, items []store.Artwork) {
	return s.sync.Loading(), s.sync.Snapshot()
}

// SubscribeArtworks exposes the live snapshot stream for SSE delivery.
func (s *Service) SubscribeArtworks() (<-chan []store.Artwork, func()) {
	return s.sync.Subscribe()
}

// CreateArtwork adds a single piece through the gateway and indexes it.
func (s *Service) CreateArtwork(ctx context.Context, ident identity.Identity, input ArtworkInput) (store.Artwork, error) {
	art, err := s.gateway.Create(ctx, ident, gallery.Draft{
		Title:  input.Title,
		Medium: input.Medium,
		URL:    input.URL,
	})
	if err != nil {
		return store.Artwork{}, err
	}
	s.indexArtwork(art)
	return art, nil
}

// UpdateArtwork edits a piece through the gateway and reindexes it.
func (s *Service) UpdateArtwork(ctx context.Context, ident identity.Identity, id string, patch ArtworkPatchInput) (store.Artwork, error) {
	art, err := s.gateway.Update(ctx, ident, id, gallery.Patch{
		Title:  patch.Title,
		Medium: patch.Medium,
	})
	if err != nil {
		return store.Artwork{}, err
	}
	s.indexArtwork(art)
	return art, nil
}

// DeleteArtwork removes a piece through the gateway.
func (s *Service) DeleteArtwork(ctx context.Context, ident identity.Identity, id string, confirmed bool) error {
	if err := s.gateway.Delete(ctx, ident, id, confirmed); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteArtwork(id)
	}
	return nil
}

// BulkCreateArtworks imports a batch of files through the gateway.
func (s *Service) BulkCreateArtworks(ctx context.Context, ident identity.Identity, files []gallery.UploadFile, medium, titlePrefix string, progress func(string)) (gallery.BulkResult, error) {
	res, err := s.gateway.BulkCreate(ctx, ident, files, medium, titlePrefix, progress)
	if err != nil {
		return gallery.BulkResult{}, err
	}
	for _, art := range res.Created {
		s.indexArtwork(art)
	}
	return res, nil
}

func (s *Service) indexArtwork(art store.Artwork) {
	if s.search == nil {
		return
	}
	s.search.IndexArtwork(search.Record{ID: art.ID, Title: art.Title, Medium: art.Medium})
}

// ArtworkRevisions lists the edit history of a piece. Admin only.
func (s *Service) ArtworkRevisions(ctx context.Context, ident identity.Identity, artworkID string) ([]store.ArtworkRevision, error) {
	if !s.resolver.IsAdmin(ident) {
		return nil, gallery.ErrNotAdmin
	}
	return s.store.ListArtworkRevisions(ctx, artworkID)
}

// Search runs a gallery search. An unconfigured search surface returns an
// empty response rather than an error.
func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ExportPortfolio renders the current snapshot as a PDF portfolio.
func (s *Service) ExportPortfolio() (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Portfolio export is not configured")
	}
	items := s.sync.Snapshot()
	pieces := make([]export.Piece, 0, len(items))
	for _, a := range items {
		pieces = append(pieces, export.Piece{Title: a.Title, Medium: a.Medium, URL: a.URL})
	}
	return s.export.PortfolioPDF(pieces)
}

// Ping checks the primary store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks the refresh session store.
func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}
