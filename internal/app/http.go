package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"atelier/api/internal/auth"
	"atelier/api/internal/export"
	"atelier/api/internal/gallery"
	"atelier/api/internal/identity"
	"atelier/api/internal/search"
	"atelier/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Session bootstrap routes, no token required
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/anonymous" {
		session, err := s.service.AnonymousSession(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.URL.Path == "/api/auth/verify-email" && (r.Method == http.MethodPost || r.Method == http.MethodGet) {
		s.handleVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid")
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": !session.Identity.Anonymous,
			"anonymous":     session.Identity.Anonymous,
			"userId":        session.Identity.UserID,
			"email":         session.Identity.Email,
			"isAdmin":       s.service.IsAdmin(session.Identity),
		})
		return
	}

	// Everything below requires at least an anonymous session.
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/artworks" {
		loading, items := s.service.Artworks()
		writeJSON(w, http.StatusOK, map[string]any{
			"loading":  loading,
			"artworks": artworksPayload(items),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/artworks/feed" {
		s.handleArtworksFeed(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/artworks" {
		var body ArtworkInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		art, err := s.service.CreateArtwork(r.Context(), session.Identity, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, artworkPayload(art))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/artworks/bulk" {
		s.handleBulkCreate(w, r, session)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{Text: r.URL.Query().Get("q")}
		if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
			q.Limit = limit
		}
		if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
			q.Offset = offset
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export/portfolio.pdf" {
		result, err := s.service.ExportPortfolio()
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	parts := splitPath(r.URL.Path)
	// /api/artworks/{id} and /api/artworks/{id}/revisions
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "artworks" {
		artworkID := parts[2]

		if len(parts) == 3 && r.Method == http.MethodPatch {
			var body ArtworkPatchInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
				return
			}
			art, err := s.service.UpdateArtwork(r.Context(), session.Identity, artworkID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, artworkPayload(art))
			return
		}

		if len(parts) == 3 && r.Method == http.MethodDelete {
			confirmed := r.URL.Query().Get("confirm") == "true"
			if err := s.service.DeleteArtwork(r.Context(), session.Identity, artworkID, confirmed); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

		if len(parts) == 4 && parts[3] == "revisions" && r.Method == http.MethodGet {
			revisions, err := s.service.ArtworkRevisions(r.Context(), session.Identity, artworkID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(revisions))
			for _, rev := range revisions {
				payload = append(payload, map[string]any{
					"id":        rev.ID,
					"artworkId": rev.ArtworkID,
					"title":     rev.Title,
					"medium":    rev.Medium,
					"editedBy":  rev.EditedBy,
					"createdAt": rev.CreatedAt.Format(time.RFC3339),
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"revisions": payload})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingSessions(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	session, requiresVerify, err := s.service.SignUp(r.Context(), body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if requiresVerify {
		writeJSON(w, http.StatusCreated, map[string]any{
			"requiresVerification": true,
			"message":              "Please check your email to verify your account",
		})
		return
	}
	payload := sessionPayload(session)
	payload["requiresVerification"] = false
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		_ = decodeBody(r, &body)
		token = body.Token
	}
	if err := s.service.VerifyEmail(r.Context(), token); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Email verified, you can sign in now"})
}

// handleArtworksFeed streams snapshots over server-sent events. The first
// event is the current snapshot; each collection change pushes another.
func (s *HTTPServer) handleArtworksFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported")
		return
	}

	updates, cancel := s.service.SubscribeArtworks()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSnapshot := func(items []store.Artwork) bool {
		loading := s.service.sync.Loading()
		data, err := json.Marshal(map[string]any{
			"loading":  loading,
			"artworks": artworksPayload(items),
		})
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	_, current := s.service.Artworks()
	if !writeSnapshot(current) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case items, ok := <-updates:
			if !ok {
				return
			}
			if !writeSnapshot(items) {
				return
			}
		}
	}
}

// handleBulkCreate accepts a multipart batch under the "files" field. The
// response reports per-file outcomes and the progress trail; a failed file
// never fails the request.
func (s *HTTPServer) handleBulkCreate(w http.ResponseWriter, r *http.Request, session Session) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body")
		return
	}

	var files []gallery.UploadFile
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			fh := fh
			files = append(files, gallery.UploadFile{
				Name: fh.Filename,
				Size: fh.Size,
				Open: func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	medium := r.FormValue("medium")
	titlePrefix := r.FormValue("titlePrefix")

	var progress []string
	res, err := s.service.BulkCreateArtworks(r.Context(), session.Identity, files, medium, titlePrefix, func(p string) {
		progress = append(progress, p)
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	failed := make([]map[string]any, 0, len(res.Failed))
	for _, f := range res.Failed {
		failed = append(failed, map[string]any{"name": f.Name, "error": f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created":  artworksPayload(res.Created),
		"failed":   failed,
		"progress": progress,
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.Identity.UserID,
		"email":        session.Identity.Email,
		"anonymous":    session.Identity.Anonymous,
	}
}

func artworkPayload(a store.Artwork) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"title":     a.Title,
		"medium":    a.Medium,
		"url":       a.URL,
		"createdAt": a.CreatedAt,
	}
}

func artworksPayload(items []store.Artwork) []map[string]any {
	payload := make([]map[string]any, 0, len(items))
	for _, a := range items {
		payload = append(payload, artworkPayload(a))
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	writeError(w, status, code, message)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", identity.ErrInvalidCredentials.Error()
	case errors.Is(err, identity.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Email not verified"
	case errors.Is(err, gallery.ErrNotAdmin):
		return http.StatusForbidden, "FORBIDDEN", gallery.ErrNotAdmin.Error()
	case errors.Is(err, gallery.ErrSeedImmutable):
		return http.StatusBadRequest, "SEED_IMMUTABLE", gallery.ErrSeedImmutable.Error()
	case errors.Is(err, gallery.ErrConfirmRequired):
		return http.StatusBadRequest, "CONFIRM_REQUIRED", gallery.ErrConfirmRequired.Error()
	case errors.Is(err, gallery.ErrNoFilesSelected):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", gallery.ErrNoFilesSelected.Error()
	case errors.Is(err, gallery.ErrMissingImage):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", gallery.ErrMissingImage.Error()
	case errors.Is(err, gallery.ErrPersistence):
		return http.StatusInternalServerError, "SAVE_FAILED", "Failed to save artwork"
	case errors.Is(err, export.ErrNothingToExport):
		return http.StatusNotFound, "NOTHING_TO_EXPORT", export.ErrNothingToExport.Error()
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Portfolio export is not available"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
