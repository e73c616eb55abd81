package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

func postJSON(t *testing.T, handler http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodePayload(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func anonymousToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rr := postJSON(t, handler, "/api/session/anonymous", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("anonymous session: %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ := decodePayload(t, rr)["token"].(string)
	if token == "" {
		t.Fatal("expected anonymous token")
	}
	return token
}

func adminToken(t *testing.T, svc *Service) string {
	t.Helper()
	sess, _, err := svc.SignUp(context.Background(), testAdminEmail, "correct-horse-battery")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return sess.Token
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := getJSON(t, handler, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestArtworksRequireASession(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := getJSON(t, handler, "/api/artworks", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodePayload(t, rr)["code"]; code != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", code)
	}
}

func TestAnonymousSessionReadsSeedGallery(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := anonymousToken(t, handler)

	rr := getJSON(t, handler, "/api/artworks", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if loading, _ := payload["loading"].(bool); loading {
		t.Fatal("loading should be false")
	}
	arts, _ := payload["artworks"].([]any)
	if len(arts) != 6 {
		t.Fatalf("expected 6 seed artworks, got %d", len(arts))
	}
	first, _ := arts[0].(map[string]any)
	if id, _ := first["id"].(string); id == "" || id[:5] != "demo-" {
		t.Fatalf("expected seed ids, got %v", first["id"])
	}
}

func TestVisitorCannotMutate(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := anonymousToken(t, handler)

	rr := postJSON(t, handler, "/api/artworks", token, `{"title":"X","url":"https://img"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodePayload(t, rr)["code"]; code != "FORBIDDEN" {
		t.Fatalf("expected code FORBIDDEN, got %v", code)
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	adminToken(t, svc)

	rr := postJSON(t, handler, "/api/auth/signin", "", `{"email":"artist@example.com","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodePayload(t, rr)["code"]; code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected code INVALID_CREDENTIALS, got %v", code)
	}
}

func TestAdminLifecycleOverHTTP(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := adminToken(t, svc)

	rr := postJSON(t, handler, "/api/artworks", token, `{"title":"Dawn","medium":"Ink","url":"https://img/1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := decodePayload(t, rr)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected created artwork id")
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/artworks/"+id, bytes.NewBufferString(`{"title":"Dusk"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if title := decodePayload(t, rr)["title"]; title != "Dusk" {
		t.Fatalf("expected updated title, got %v", title)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/artworks/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed delete: expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodePayload(t, rr)["code"]; code != "CONFIRM_REQUIRED" {
		t.Fatalf("expected code CONFIRM_REQUIRED, got %v", code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/artworks/"+id+"?confirm=true", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirmed delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSeedMutationRejectedOverHTTP(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := adminToken(t, svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/artworks/demo-1", bytes.NewBufferString(`{"title":"Mine"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodePayload(t, rr)["code"]; code != "SEED_IMMUTABLE" {
		t.Fatalf("expected code SEED_IMMUTABLE, got %v", code)
	}
}

func TestBulkUploadOverHTTP(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := adminToken(t, svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"sunset.png", "harbor.png"} {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write([]byte("image-bytes")); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.WriteField("medium", "Photography"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/artworks/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	created, _ := payload["created"].([]any)
	if len(created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(created))
	}
	first, _ := created[0].(map[string]any)
	if first["title"] != "sunset" || first["medium"] != "Photography" {
		t.Fatalf("unexpected first artwork %v", first)
	}
	progress, _ := payload["progress"].([]any)
	if len(progress) != 2 || progress[0] != "1/2" || progress[1] != "2/2" {
		t.Fatalf("unexpected progress trail %v", progress)
	}
}

func TestBulkUploadTitlePrefixOverHTTP(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := adminToken(t, svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.png", "b.png"} {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write([]byte("image-bytes")); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.WriteField("titlePrefix", "Study"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/artworks/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	created, _ := decodePayload(t, rr)["created"].([]any)
	if len(created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(created))
	}
	first, _ := created[0].(map[string]any)
	second, _ := created[1].(map[string]any)
	if first["title"] != "Study 1" || second["title"] != "Study 2" {
		t.Fatalf("prefixed titles = [%v %v], want [Study 1 Study 2]", first["title"], second["title"])
	}
}

func TestBulkUploadWithoutFiles(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := adminToken(t, svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/artworks/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSessionIntrospection(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token := adminToken(t, svc)

	rr := getJSON(t, handler, "/api/session", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodePayload(t, rr)
	if auth, _ := payload["authenticated"].(bool); !auth {
		t.Fatal("expected authenticated session")
	}
	if isAdmin, _ := payload["isAdmin"].(bool); !isAdmin {
		t.Fatal("expected admin flag for the artist account")
	}

	rr = getJSON(t, handler, "/api/session", "not-a-token")
	payload = decodePayload(t, rr)
	if auth, _ := payload["authenticated"].(bool); auth {
		t.Fatal("garbage token must not authenticate")
	}
}
