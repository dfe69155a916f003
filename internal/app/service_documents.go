package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"docforge/api/internal/artifacts"
	"docforge/api/internal/generate"
	"docforge/api/internal/rbac"
	"docforge/api/internal/store"
	"docforge/api/internal/util"
)

type CreateDocumentInput struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Generate bool   `json:"generate"`
}

// loadDocument resolves a document and its project, checking the viewer
// through the project.
func (s *Service) loadDocument(ctx context.Context, session Session, documentID string, action rbac.Action) (store.Document, store.Project, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, store.Project{}, err
	}
	project, _, err := s.loadProject(ctx, session, doc.ProjectID, action)
	if err != nil {
		return store.Document{}, store.Project{}, err
	}
	return doc, project, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, projectID string, in CreateDocumentInput) (map[string]any, error) {
	docType := store.DocumentType(strings.TrimSpace(in.Type))
	if !docType.Valid() {
		return nil, validationError("type is not a known document type")
	}
	project, _, err := s.loadProject(ctx, session, projectID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle(docType)
	}

	if in.Generate {
		if !generate.CanGenerate(docType) {
			return nil, validationError(fmt.Sprintf("documents of type %s cannot be generated", docType))
		}
		if !s.limiter.Allow(session.UserID) {
			return nil, errRateLimited
		}
		doc, err := s.draftDocument(ctx, project, docType, title)
		if err != nil {
			return nil, err
		}
		return map[string]any{"document": documentPayload(doc)}, nil
	}

	now := time.Now().UTC()
	zero := 0
	doc := store.Document{
		ID:        util.NewID(""),
		ProjectID: project.ID,
		Title:     title,
		Type:      docType,
		Status:    store.DocumentStatusDraft,
		WordCount: &zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.search.IndexDocument(documentRecord(doc))
	return map[string]any{"document": documentPayload(doc)}, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, project, err := s.loadDocument(ctx, session, documentID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	permission, err := s.gate.Resolve(ctx, project, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"document":   documentPayload(doc),
		"project":    map[string]any{"id": project.ID, "name": project.Name},
		"canEdit":    rbac.Can(permission, rbac.ActionEdit),
		"permission": string(permission),
	}, nil
}

type UpdateDocumentInput struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	Status  *string `json:"status"`
}

// UpdateDocument applies the fields present in the input. The word count
// follows the visible text of the content.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, in UpdateDocumentInput) (map[string]any, error) {
	doc, _, err := s.loadDocument(ctx, session, documentID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, validationError("title cannot be empty")
		}
		if len(title) > 255 {
			return nil, validationError("title must be at most 255 characters")
		}
		doc.Title = title
	}
	if in.Status != nil {
		if !store.ValidDocumentStatus(*in.Status) {
			return nil, validationError("status must be draft, generating, published or archived")
		}
		doc.Status = *in.Status
	}
	if in.Content != nil {
		doc.Content = *in.Content
		words := generate.WordCount(doc.Content)
		doc.WordCount = &words
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.search.IndexDocument(documentRecord(doc))
	return map[string]any{"document": documentPayload(doc)}, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, project, err := s.loadDocument(ctx, session, documentID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if doc.ExportKey != nil && s.artifacts.Enabled() {
		if err := s.artifacts.Delete(ctx, project.ID, *doc.ExportKey); err != nil {
			log.Printf("app: delete export %s for document %s: %v", *doc.ExportKey, doc.ID, err)
		}
	}
	s.search.DeleteDocument(doc.ID)
	return nil
}

// EditDocumentWithAI rewrites a document following the instruction. The
// content is only replaced when the provider returns usable HTML.
func (s *Service) EditDocumentWithAI(ctx context.Context, session Session, documentID, instruction string) (map[string]any, error) {
	instruction = strings.TrimSpace(instruction)
	if len([]rune(instruction)) < minInstructionLen {
		return nil, validationError(fmt.Sprintf("prompt must be at least %d characters", minInstructionLen))
	}
	doc, project, err := s.loadDocument(ctx, session, documentID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if !s.limiter.Allow(session.UserID) {
		return nil, errRateLimited
	}
	prompt, err := generate.BuildEditPrompt(doc.Content, instruction, project.EnhancedMode)
	if err != nil {
		return nil, err
	}
	content, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	doc.Content = content
	words := generate.WordCount(content)
	doc.WordCount = &words
	doc.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.search.IndexDocument(documentRecord(doc))
	return map[string]any{"message": "AI edit applied", "document": documentPayload(doc)}, nil
}

// AttachExport stores a client-rendered export and records where it lives.
// A previous export in another format is removed.
func (s *Service) AttachExport(ctx context.Context, session Session, documentID, format string, body io.Reader, size int64) (map[string]any, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if _, err := artifacts.ContentType(format); err != nil {
		return nil, validationError(err.Error())
	}
	if size > maxExportBodyBytes {
		return nil, validationError("export is too large")
	}
	doc, project, err := s.loadDocument(ctx, session, documentID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	key, err := s.artifacts.Put(ctx, project.ID, doc.ID, format, body, size)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDocumentExport(ctx, doc.ID, key, format); err != nil {
		return nil, err
	}
	if doc.ExportKey != nil && *doc.ExportKey != key {
		if err := s.artifacts.Delete(ctx, project.ID, *doc.ExportKey); err != nil {
			log.Printf("app: delete stale export %s: %v", *doc.ExportKey, err)
		}
	}
	doc.ExportKey = &key
	doc.ExportFormat = &format
	return map[string]any{"document": documentPayload(doc)}, nil
}

// ExportURL returns a short-lived download link for the stored export.
func (s *Service) ExportURL(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, project, err := s.loadDocument(ctx, session, documentID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	if doc.ExportKey == nil || doc.ExportFormat == nil {
		return nil, domainError(http.StatusNotFound, "EXPORT_NOT_FOUND", "Document has no stored export", nil)
	}
	filename := exportFilename(doc.Title, *doc.ExportFormat)
	link, err := s.artifacts.PresignedURL(ctx, project.ID, *doc.ExportKey, filename, exportURLTTL)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":       link,
		"format":    *doc.ExportFormat,
		"expiresAt": formatTime(time.Now().Add(exportURLTTL)),
	}, nil
}

var defaultTitles = map[store.DocumentType]string{
	store.DocumentOverview:      overviewTitle,
	store.DocumentTechnical:     "Technical Documentation",
	store.DocumentUIUX:          "UI/UX Documentation",
	store.DocumentProduct:       "Product Documentation",
	store.DocumentCollaboration: "Collaboration Guide",
	store.DocumentClient:        "Client Documentation",
	store.DocumentTesting:       "Testing Plan",
	store.DocumentSecurity:      "Security Documentation",
	store.DocumentOperations:    "Operations Runbook",
	store.DocumentRoadmap:       "Roadmap",
}

func defaultTitle(docType store.DocumentType) string {
	if title, ok := defaultTitles[docType]; ok {
		return title
	}
	return "Untitled Document"
}

func exportFilename(title, format string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, strings.TrimSpace(title))
	if name == "" {
		name = "document"
	}
	return name + "." + format
}
