package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docforge/api/internal/auth"
	"docforge/api/internal/config"
	"docforge/api/internal/store"
)

const testSecret = "test-secret"

var (
	ada   = store.User{ID: "u-ada", DisplayName: "Ada", Email: "ada@example.com"}
	bob   = store.User{ID: "u-bob", DisplayName: "Bob", Email: "bob@example.com"}
	carol = store.User{ID: "u-carol", DisplayName: "Carol", Email: "carol@example.com"}
)

type harness struct {
	t         *testing.T
	store     *fakeStore
	generator *fakeGenerator
	notifier  *channelNotifier
	artifacts *fakeArtifacts
	search    *fakeSearch
	service   *Service
	handler   http.Handler
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Config{
		AppURL:        "https://docs.example.com",
		AppKey:        "test-app-key",
		JWTSecret:     testSecret,
		InvitationTTL: 48 * time.Hour,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	h := &harness{
		t:         t,
		store:     newFakeStore(),
		generator: &fakeGenerator{output: "<h1>Overview</h1><h2>Features</h2><ul><li>Offline maps</li><li>Sharing</li></ul>"},
		notifier:  newChannelNotifier(),
		artifacts: newFakeArtifacts(),
		search:    &fakeSearch{},
	}
	for _, user := range []store.User{ada, bob, carol} {
		h.store.users[user.ID] = user
	}
	svc, err := newService(cfg, h.store, Options{
		Generator: h.generator,
		Notifier:  h.notifier,
		Artifacts: h.artifacts,
		Search:    h.search,
	})
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}
	h.service = svc
	h.handler = NewHTTPServer(svc, "*").Handler()
	return h
}

func (h *harness) token(user store.User) string {
	h.t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		JTI:   "jti-" + user.ID,
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		h.t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

// do sends a JSON request as user (zero value = anonymous) and decodes the
// JSON response.
func (h *harness) do(method, path string, user store.User, body any) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if user.ID != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(user))
	}
	return h.serve(req)
}

func (h *harness) serve(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	payload := map[string]any{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			h.t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func (h *harness) seedProject(id string, owner store.User) store.Project {
	project := store.Project{ID: id, OwnerID: owner.ID, Name: "Atlas " + id, Description: "Route planning", CreatedAt: time.Now()}
	h.store.projects[id] = project
	return project
}

func (h *harness) seedDocument(id, projectID, content string) store.Document {
	doc := store.Document{ID: id, ProjectID: projectID, Title: "Overview", Content: content, Type: store.DocumentOverview, Status: store.DocumentStatusDraft}
	h.store.documents[id] = doc
	return doc
}

func (h *harness) share(projectID string, user store.User, permission string) {
	h.store.upsertGrantLocked(projectID, user.ID, permission)
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

func expectCode(t *testing.T, payload map[string]any, want string) {
	t.Helper()
	if payload["code"] != want {
		t.Fatalf("code = %v, want %s (payload %v)", payload["code"], want, payload)
	}
}
