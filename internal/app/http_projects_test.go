package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docforge/api/internal/artifacts"
	"docforge/api/internal/config"
	"docforge/api/internal/generate"
	"docforge/api/internal/keyring"
	"docforge/api/internal/search"
	"docforge/api/internal/store"
)

func TestCreateProjectDraftsOverviewAndExtractsFeatures(t *testing.T) {
	h := newHarness(t)
	rr, payload := h.do(http.MethodPost, "/api/projects", ada, map[string]any{
		"name":        "Atlas",
		"description": "Route planning",
		"idea":        "Plan trips offline",
		"techStack":   []string{"Go", " ", "Postgres"},
		"docType":     "enhance",
	})
	expectStatus(t, rr, http.StatusCreated)

	project, _ := payload["project"].(map[string]any)
	if project["ownerId"] != ada.ID || project["enhancedMode"] != true {
		t.Fatalf("unexpected project %v", project)
	}
	features, _ := project["features"].([]any)
	if len(features) != 2 || features[0] != "Offline maps" {
		t.Fatalf("features = %v, want extracted list", features)
	}
	stack, _ := project["techStack"].([]any)
	if len(stack) != 2 {
		t.Fatalf("techStack = %v, want blanks dropped", stack)
	}
	documents, _ := payload["documents"].([]any)
	if len(documents) != 1 {
		t.Fatalf("documents = %v, want the overview", documents)
	}
	overview, _ := documents[0].(map[string]any)
	if overview["type"] != "overview" || overview["title"] != "Project Overview" {
		t.Fatalf("unexpected overview %v", overview)
	}
	generation, _ := payload["generation"].(map[string]any)
	if generation["failed"] != false {
		t.Fatalf("generation = %v", generation)
	}

	if len(h.generator.prompts) != 1 || !strings.Contains(h.generator.prompts[0], "Atlas") {
		t.Fatalf("prompt did not describe the project: %v", h.generator.prompts)
	}
	stored := h.store.projects[project["id"].(string)]
	if len(stored.Features) != 2 {
		t.Fatalf("stored features = %v", stored.Features)
	}
}

func TestCreateProjectKeepsProjectWhenGenerationFails(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "upstream", err: fmt.Errorf("%w: status 503", generate.ErrGenerationFailed), wantCode: "GENERATION_FAILED"},
		{name: "no keys", err: keyring.ErrEmptyPool, wantCode: "CONFIGURATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.generator.err = tt.err

			rr, payload := h.do(http.MethodPost, "/api/projects", ada, map[string]any{"name": "Atlas"})
			expectStatus(t, rr, http.StatusCreated)
			generation, _ := payload["generation"].(map[string]any)
			if generation["failed"] != true || generation["error"] != tt.wantCode {
				t.Fatalf("generation = %v", generation)
			}
			if len(h.store.projects) != 1 || len(h.store.documents) != 0 {
				t.Fatalf("projects=%d documents=%d, want 1 and 0", len(h.store.projects), len(h.store.documents))
			}
		})
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	h := newHarness(t)
	rr, payload := h.do(http.MethodPost, "/api/projects", ada, map[string]any{"name": "  "})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")
}

func TestProjectAccessMatrix(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>draft</p>")
	h.share("p-1", bob, "view")

	tests := []struct {
		name   string
		method string
		path   string
		user   store.User
		body   any
		want   int
	}{
		{"owner views", http.MethodGet, "/api/projects/p-1", ada, nil, http.StatusOK},
		{"viewer views", http.MethodGet, "/api/projects/p-1", bob, nil, http.StatusOK},
		{"stranger cannot view", http.MethodGet, "/api/projects/p-1", carol, nil, http.StatusForbidden},
		{"viewer cannot edit project", http.MethodPut, "/api/projects/p-1", bob, map[string]any{"name": "X"}, http.StatusForbidden},
		{"viewer reads document", http.MethodGet, "/api/documents/d-1", bob, nil, http.StatusOK},
		{"viewer cannot edit document", http.MethodPut, "/api/documents/d-1", bob, map[string]any{"content": "<p>x</p>"}, http.StatusForbidden},
		{"viewer cannot ai edit", http.MethodPost, "/api/documents/d-1/ai-edit", bob, map[string]any{"prompt": "make it shorter"}, http.StatusForbidden},
		{"stranger cannot read document", http.MethodGet, "/api/documents/d-1", carol, nil, http.StatusForbidden},
		{"viewer cannot delete project", http.MethodDelete, "/api/projects/p-1", bob, nil, http.StatusForbidden},
		{"viewer cannot add document", http.MethodPost, "/api/projects/p-1/documents", bob, map[string]any{"type": "roadmap"}, http.StatusForbidden},
		{"missing project", http.MethodGet, "/api/projects/nope", ada, nil, http.StatusNotFound},
		{"missing document", http.MethodGet, "/api/documents/nope", ada, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := h.do(tt.method, tt.path, tt.user, tt.body)
			expectStatus(t, rr, tt.want)
		})
	}
	if h.store.documents["d-1"].Content != "<p>draft</p>" {
		t.Fatalf("document changed by a forbidden request: %+v", h.store.documents["d-1"])
	}
}

func TestEditorCanUpdateDocumentAndWordCountFollows(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>draft</p>")
	h.share("p-1", bob, "edit")

	rr, payload := h.do(http.MethodPut, "/api/documents/d-1", bob, map[string]any{
		"title":   "Plan",
		"content": "<h2>Plan</h2><p>ship the beta soon</p>",
	})
	expectStatus(t, rr, http.StatusOK)
	doc, _ := payload["document"].(map[string]any)
	if doc["title"] != "Plan" || doc["wordCount"] != float64(5) {
		t.Fatalf("unexpected document %v", doc)
	}
	if got := h.store.documents["d-1"]; got.WordCount == nil || *got.WordCount != 5 {
		t.Fatalf("stored word count = %v", got.WordCount)
	}

	rr, payload = h.do(http.MethodPut, "/api/documents/d-1", bob, map[string]any{"status": "shipped"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")
}

func TestGetProjectReportsViewerPermission(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.share("p-1", bob, "edit")

	_, payload := h.do(http.MethodGet, "/api/projects/p-1", ada, nil)
	if payload["isOwner"] != true || payload["permission"] != "owner" {
		t.Fatalf("owner payload = %v", payload)
	}
	_, payload = h.do(http.MethodGet, "/api/projects/p-1", bob, nil)
	if payload["isOwner"] != false || payload["permission"] != "edit" {
		t.Fatalf("editor payload = %v", payload)
	}
}

func TestListOwnedProjectsPages(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 12; i++ {
		h.seedProject(fmt.Sprintf("p-%02d", i), ada)
	}
	h.seedProject("p-bob", bob)

	_, payload := h.do(http.MethodGet, "/api/projects", ada, nil)
	if items, _ := payload["projects"].([]any); len(items) != 10 || payload["total"] != float64(12) {
		t.Fatalf("page 1 = %d items, total %v", len(items), payload["total"])
	}
	_, payload = h.do(http.MethodGet, "/api/projects?page=2", ada, nil)
	if items, _ := payload["projects"].([]any); len(items) != 2 {
		t.Fatalf("page 2 = %d items, want 2", len(items))
	}
	rr, _ := h.do(http.MethodGet, "/api/projects?page=two", ada, nil)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestListSharedProjects(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.share("p-1", bob, "view")

	_, payload := h.do(http.MethodGet, "/api/projects/shared", bob, nil)
	items, _ := payload["projects"].([]any)
	if len(items) != 1 {
		t.Fatalf("shared projects = %v", payload)
	}
	item, _ := items[0].(map[string]any)
	if item["permission"] != "view" || item["ownerName"] != "Ada" {
		t.Fatalf("shared item = %v", item)
	}
}

func TestDeleteProjectCleansUpArtifactsAndIndex(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>x</p>")
	h.share("p-1", bob, "edit")

	rr, _ := h.do(http.MethodDelete, "/api/projects/p-1", bob, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr, _ = h.do(http.MethodDelete, "/api/projects/p-1", ada, nil)
	expectStatus(t, rr, http.StatusOK)
	if len(h.store.projects) != 0 || len(h.store.documents) != 0 || len(h.store.grants) != 0 {
		t.Fatalf("rows left after delete: %d projects, %d documents, %d grants", len(h.store.projects), len(h.store.documents), len(h.store.grants))
	}
	if len(h.artifacts.removed) != 1 || h.artifacts.removed[0] != "p-1" {
		t.Fatalf("artifact cleanup = %v", h.artifacts.removed)
	}
	if strings.Join(h.search.deleted, ",") != "project:p-1,document:d-1" {
		t.Fatalf("index cleanup = %v", h.search.deleted)
	}
}

func TestCreateDocument(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.share("p-1", bob, "edit")

	rr, payload := h.do(http.MethodPost, "/api/projects/p-1/documents", bob, map[string]any{"type": "roadmap"})
	expectStatus(t, rr, http.StatusCreated)
	doc, _ := payload["document"].(map[string]any)
	if doc["title"] != "Roadmap" || doc["content"] != "" || doc["status"] != "draft" {
		t.Fatalf("blank document = %v", doc)
	}
	if len(h.generator.prompts) != 0 {
		t.Fatal("blank document should not call the provider")
	}

	rr, payload = h.do(http.MethodPost, "/api/projects/p-1/documents", bob, map[string]any{"type": "technical", "generate": true})
	expectStatus(t, rr, http.StatusCreated)
	doc, _ = payload["document"].(map[string]any)
	if !strings.Contains(doc["content"].(string), "Offline maps") {
		t.Fatalf("generated document = %v", doc)
	}

	rr, payload = h.do(http.MethodPost, "/api/projects/p-1/documents", bob, map[string]any{"type": "roadmap", "generate": true})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")

	rr, _ = h.do(http.MethodPost, "/api/projects/p-1/documents", bob, map[string]any{"type": "poem"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestEditDocumentWithAI(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>old</p>")

	rr, payload := h.do(http.MethodPost, "/api/documents/d-1/ai-edit", ada, map[string]any{"prompt": "shor"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")

	h.generator.output = "<p>new and improved</p>"
	rr, payload = h.do(http.MethodPost, "/api/documents/d-1/ai-edit", ada, map[string]any{"prompt": "make it better"})
	expectStatus(t, rr, http.StatusOK)
	if got := h.store.documents["d-1"].Content; got != "<p>new and improved</p>" {
		t.Fatalf("content = %q", got)
	}
	if prompt := h.generator.prompts[len(h.generator.prompts)-1]; !strings.Contains(prompt, "make it better") || !strings.Contains(prompt, "<p>old</p>") {
		t.Fatalf("edit prompt = %q", prompt)
	}
}

func TestEditDocumentWithAIFailureLeavesContent(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>old</p>")
	h.generator.err = fmt.Errorf("%w: empty output", generate.ErrGenerationFailed)

	rr, payload := h.do(http.MethodPost, "/api/documents/d-1/ai-edit", ada, map[string]any{"prompt": "make it better"})
	expectStatus(t, rr, http.StatusBadGateway)
	expectCode(t, payload, "GENERATION_FAILED")
	details, _ := payload["details"].(map[string]any)
	if details["retryable"] != true {
		t.Fatalf("details = %v", details)
	}
	if got := h.store.documents["d-1"].Content; got != "<p>old</p>" {
		t.Fatalf("content changed to %q", got)
	}
}

func TestAIEndpointsAreRateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.AIRatePerMinute = 1 })
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>old</p>")

	rr, _ := h.do(http.MethodPost, "/api/documents/d-1/ai-edit", ada, map[string]any{"prompt": "make it better"})
	expectStatus(t, rr, http.StatusOK)
	rr, payload := h.do(http.MethodPost, "/api/documents/d-1/ai-edit", ada, map[string]any{"prompt": "make it better"})
	expectStatus(t, rr, http.StatusTooManyRequests)
	expectCode(t, payload, "RATE_LIMITED")

	// Limits are per identity.
	h.share("p-1", bob, "edit")
	rr, _ = h.do(http.MethodPost, "/api/documents/d-1/ai-edit", bob, map[string]any{"prompt": "make it better"})
	expectStatus(t, rr, http.StatusOK)
}

func TestDeleteDocumentRemovesExport(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>x</p>")

	req := httptest.NewRequest(http.MethodPut, "/api/documents/d-1/export?format=pdf", strings.NewReader("%PDF-1.7"))
	req.Header.Set("Authorization", "Bearer "+h.token(ada))
	rr, _ := h.serve(req)
	expectStatus(t, rr, http.StatusOK)
	if len(h.artifacts.objects) != 1 {
		t.Fatalf("objects = %v", h.artifacts.objects)
	}

	rr, _ = h.do(http.MethodDelete, "/api/documents/d-1", ada, nil)
	expectStatus(t, rr, http.StatusOK)
	if len(h.artifacts.objects) != 0 {
		t.Fatalf("export left behind: %v", h.artifacts.objects)
	}
	if len(h.search.deleted) != 1 || h.search.deleted[0] != "document:d-1" {
		t.Fatalf("index cleanup = %v", h.search.deleted)
	}
}

func TestExportUploadAndDownloadURL(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>x</p>")
	h.share("p-1", bob, "view")

	upload := func(user store.User, format string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(http.MethodPut, "/api/documents/d-1/export?format="+format, strings.NewReader("PK\x03\x04"))
		req.Header.Set("Authorization", "Bearer "+h.token(user))
		return h.serve(req)
	}

	rr, _ := h.do(http.MethodGet, "/api/documents/d-1/export", bob, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr, _ = upload(bob, "docx")
	expectStatus(t, rr, http.StatusForbidden)

	rr, payload := upload(ada, "odt")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")

	rr, payload = upload(ada, "docx")
	expectStatus(t, rr, http.StatusOK)
	doc, _ := payload["document"].(map[string]any)
	export, _ := doc["export"].(map[string]any)
	if export["key"] != "documents/d-1/export.docx" || export["format"] != "docx" {
		t.Fatalf("export = %v", export)
	}

	rr, payload = h.do(http.MethodGet, "/api/documents/d-1/export", bob, nil)
	expectStatus(t, rr, http.StatusOK)
	if link, _ := payload["url"].(string); !strings.Contains(link, "p-1/documents/d-1/export.docx") || !strings.Contains(link, "Overview.docx") {
		t.Fatalf("url = %v", payload["url"])
	}

	// Replacing the format drops the old object.
	rr, _ = upload(ada, "pdf")
	expectStatus(t, rr, http.StatusOK)
	if _, ok := h.artifacts.objects["p-1/documents/d-1/export.docx"]; ok || len(h.artifacts.objects) != 1 {
		t.Fatalf("objects after replace = %v", h.artifacts.objects)
	}
}

func TestExportWithoutStorageIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedDocument("d-1", "p-1", "<p>x</p>")
	h.service.artifacts = &artifacts.Client{}

	req := httptest.NewRequest(http.MethodPut, "/api/documents/d-1/export?format=pdf", strings.NewReader("%PDF"))
	req.Header.Set("Authorization", "Bearer "+h.token(ada))
	rr, payload := h.serve(req)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	expectCode(t, payload, "EXPORTS_UNAVAILABLE")
}

func TestSearchFiltersThroughGate(t *testing.T) {
	h := newHarness(t)
	h.seedProject("p-1", ada)
	h.seedProject("p-2", carol)
	h.share("p-1", bob, "view")
	h.search.results = []search.Result{
		{Type: search.ResultProject, ID: "p-1", ProjectID: "p-1", Title: "Atlas"},
		{Type: search.ResultDocument, ID: "d-9", ProjectID: "p-2", Title: "Secret"},
		{Type: search.ResultDocument, ID: "d-gone", ProjectID: "p-deleted", Title: "Stale"},
	}

	rr, payload := h.do(http.MethodGet, "/api/search?q=atlas&limit=5", bob, nil)
	expectStatus(t, rr, http.StatusOK)
	results, _ := payload["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v, want only the shared project", results)
	}
	if got := h.search.lastQuery; len(got.ProjectIDs) != 1 || got.ProjectIDs[0] != "p-1" || got.Limit != 5 {
		t.Fatalf("query = %+v", got)
	}

	rr, _ = h.do(http.MethodGet, "/api/search?q=atlas&type=thread", bob, nil)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}
