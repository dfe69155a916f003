package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"docforge/api/internal/artifacts"
	"docforge/api/internal/auth"
	"docforge/api/internal/config"
	"docforge/api/internal/generate"
	"docforge/api/internal/keyring"
	"docforge/api/internal/rbac"
	"docforge/api/internal/search"
	"docforge/api/internal/sharing"
	"docforge/api/internal/store"
	"docforge/api/internal/util"
)

const (
	projectsPageSize   = 10
	candidateLimit     = 10
	minInstructionLen  = 5
	exportURLTTL       = 15 * time.Minute
	overviewTitle      = "Project Overview"
	enhanceDocType     = "enhance"
	maxExportBodyBytes = 25 << 20
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	JTI       string
	ExpiresAt time.Time
}

func (s Session) User() store.User {
	return store.User{ID: s.UserID, DisplayName: s.UserName, Email: s.Email}
}

type dataStore interface {
	UpsertUser(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)
	SearchInviteCandidates(context.Context, string, string, string, int) ([]store.User, error)
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	UpdateProject(context.Context, store.Project) error
	DeleteProject(context.Context, string) error
	ListOwnedProjects(context.Context, string, int, int) ([]store.Project, int, error)
	ListSharedProjects(context.Context, string) ([]store.SharedProject, error)
	ListAccessibleProjectIDs(context.Context, string) ([]string, error)
	ListDocuments(context.Context, string) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocument(context.Context, store.Document) error
	SetDocumentExport(context.Context, string, string, string) error
	DeleteDocument(context.Context, string) error
	GetGrant(context.Context, string, string) (store.Grant, error)
	ListGrants(context.Context, string) ([]store.Grant, error)
	UpsertGrant(context.Context, string, string, string) error
	DeleteGrant(context.Context, string, string) error
	HasPendingInvitation(context.Context, string, string) (bool, error)
	CreateInvitation(context.Context, store.Invitation) error
	GetInvitation(context.Context, string) (store.Invitation, error)
	AcceptInvitation(context.Context, string, time.Time) (store.Invitation, error)
	DeclineInvitation(context.Context, string, time.Time) (store.Invitation, error)
	ListPendingInvitations(context.Context, string) ([]store.Invitation, error)
	Ping(ctx context.Context) error
}

// TextGenerator produces cleaned HTML for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ArtifactStore interface {
	Enabled() bool
	Put(ctx context.Context, projectID, documentID, format string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, projectID, key string) error
	RemoveProject(ctx context.Context, projectID string) error
	PresignedURL(ctx context.Context, projectID, key, filename string, expiry time.Duration) (string, error)
}

type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexProject(search.ProjectRecord)
	IndexDocument(search.DocumentRecord)
	DeleteDocument(id string)
	DeleteProject(id string, documentIDs []string)
}

// Options carries the optional collaborators. Nil fields fall back to
// disabled implementations.
type Options struct {
	Generator TextGenerator
	Notifier  sharing.Notifier
	Artifacts ArtifactStore
	Search    SearchIndex
}

type Service struct {
	cfg         config.Config
	store       dataStore
	permissions *sharing.PermissionStore
	gate        *sharing.Gate
	invitations *sharing.Workflow
	generator   TextGenerator
	artifacts   ArtifactStore
	search      SearchIndex
	limiter     *aiLimiter
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts Options) (*Service, error) {
	return newService(cfg, dataStore, opts)
}

func newService(cfg config.Config, ds dataStore, opts Options) (*Service, error) {
	permissions := sharing.NewPermissionStore(ds)
	workflow, err := sharing.NewWorkflow(ds, opts.Notifier, sharing.WorkflowConfig{
		BaseURL: cfg.AppURL,
		AppKey:  cfg.AppKey,
		TTL:     cfg.InvitationTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("invitation workflow: %w", err)
	}

	svc := &Service{
		cfg:         cfg,
		store:       ds,
		permissions: permissions,
		gate:        sharing.NewGate(permissions),
		invitations: workflow,
		generator:   opts.Generator,
		artifacts:   opts.Artifacts,
		search:      opts.Search,
		limiter:     newAILimiter(cfg.AIRatePerMinute),
	}
	if svc.generator == nil {
		svc.generator = generate.NewGenerator(keyring.New(nil, keyring.NewMemoryCursor(cfg.KeyCursorTTL)), nil)
	}
	if svc.artifacts == nil {
		svc.artifacts = &artifacts.Client{}
	}
	if svc.search == nil {
		svc.search = search.NewService(nil, nil)
	}
	return svc, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionFromToken verifies a bearer token from the identity provider and
// records the identity so that invitations can address it.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(claims.Sub) == "" || strings.TrimSpace(claims.Email) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	session := Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}
	if err := s.store.UpsertUser(ctx, session.User()); err != nil {
		return Session{}, err
	}
	return session, nil
}

type ProjectInput struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Idea           string   `json:"idea"`
	TechStack      []string `json:"techStack"`
	Features       []string `json:"features"`
	TargetAudience string   `json:"targetAudience"`
	EnhancedMode   bool     `json:"enhancedMode"`
	// DocType "enhance" turns on enhanced mode, as the project form sends it.
	DocType string `json:"docType"`
}

func (in ProjectInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationError("name is required")
	}
	return nil
}

// CreateProject stores the project, then drafts its overview document. A
// failed draft is reported in the payload and the project is kept.
func (s *Service) CreateProject(ctx context.Context, session Session, in ProjectInput) (map[string]any, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	project := store.Project{
		ID:             util.NewID(""),
		OwnerID:        session.UserID,
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Idea:           strings.TrimSpace(in.Idea),
		TechStack:      cleanList(in.TechStack),
		Features:       cleanList(in.Features),
		TargetAudience: strings.TrimSpace(in.TargetAudience),
		EnhancedMode:   in.EnhancedMode || in.DocType == enhanceDocType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	s.search.IndexProject(projectRecord(project))

	generation := map[string]any{"failed": false}
	var documents []map[string]any

	if !s.limiter.Allow(session.UserID) {
		generation = map[string]any{"failed": true, "error": "RATE_LIMITED"}
	} else {
		doc, err := s.draftDocument(ctx, project, store.DocumentOverview, overviewTitle)
		if err != nil {
			log.Printf("app: overview generation for project %s failed: %v", project.ID, err)
			code, _ := generationFailureCode(err)
			generation = map[string]any{"failed": true, "error": code}
		} else {
			documents = append(documents, documentPayload(doc))
			if features := generate.ExtractFeatures(doc.Content); len(features) > 0 {
				project.Features = features
				project.UpdatedAt = time.Now().UTC()
				if err := s.store.UpdateProject(ctx, project); err != nil {
					log.Printf("app: store extracted features for project %s: %v", project.ID, err)
				} else {
					s.search.IndexProject(projectRecord(project))
				}
			}
		}
	}

	if documents == nil {
		documents = []map[string]any{}
	}
	return map[string]any{
		"project":    projectPayload(project),
		"documents":  documents,
		"generation": generation,
	}, nil
}

// draftDocument generates and stores a document of the given type.
func (s *Service) draftDocument(ctx context.Context, project store.Project, docType store.DocumentType, title string) (store.Document, error) {
	prompt, err := generate.BuildPrompt(docType, project)
	if err != nil {
		return store.Document{}, err
	}
	content, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return store.Document{}, err
	}
	now := time.Now().UTC()
	words := generate.WordCount(content)
	doc := store.Document{
		ID:        util.NewID(""),
		ProjectID: project.ID,
		Title:     title,
		Content:   content,
		Type:      docType,
		Status:    store.DocumentStatusDraft,
		WordCount: &words,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}
	s.search.IndexDocument(documentRecord(doc))
	return doc, nil
}

// loadProject fetches a project and checks the viewer against it.
func (s *Service) loadProject(ctx context.Context, session Session, projectID string, action rbac.Action) (store.Project, rbac.Permission, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, rbac.PermissionNone, err
	}
	permission, err := s.gate.Resolve(ctx, project, session.UserID)
	if err != nil {
		return store.Project{}, rbac.PermissionNone, err
	}
	if !rbac.Can(permission, action) {
		return store.Project{}, rbac.PermissionNone, sharing.ErrForbidden
	}
	return project, permission, nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, permission, err := s.loadProject(ctx, session, projectID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocuments(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc))
	}
	return map[string]any{
		"project":    projectPayload(project),
		"documents":  items,
		"isOwner":    permission == rbac.PermissionOwner,
		"permission": string(permission),
	}, nil
}

func (s *Service) ListOwnedProjects(ctx context.Context, session Session, page int) (map[string]any, error) {
	if page < 1 {
		page = 1
	}
	projects, total, err := s.store.ListOwnedProjects(ctx, session.UserID, projectsPageSize, (page-1)*projectsPageSize)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectPayload(project))
	}
	return map[string]any{
		"projects": items,
		"page":     page,
		"perPage":  projectsPageSize,
		"total":    total,
	}, nil
}

func (s *Service) ListSharedProjects(ctx context.Context, session Session) (map[string]any, error) {
	shared, err := s.store.ListSharedProjects(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(shared))
	for _, item := range shared {
		payload := projectPayload(item.Project)
		payload["permission"] = item.Permission
		payload["ownerName"] = item.OwnerName
		items = append(items, payload)
	}
	return map[string]any{"projects": items}, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, in ProjectInput) (map[string]any, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	project, _, err := s.loadProject(ctx, session, projectID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	project.Name = strings.TrimSpace(in.Name)
	project.Description = strings.TrimSpace(in.Description)
	project.Idea = strings.TrimSpace(in.Idea)
	project.TechStack = cleanList(in.TechStack)
	project.Features = cleanList(in.Features)
	project.TargetAudience = strings.TrimSpace(in.TargetAudience)
	project.EnhancedMode = in.EnhancedMode || in.DocType == enhanceDocType
	project.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	s.search.IndexProject(projectRecord(project))
	return map[string]any{"project": projectPayload(project)}, nil
}

// DeleteProject removes the project; rows cascade in SQL. Stored exports and
// index entries are cleaned up best-effort.
func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.gate.RequireOwner(ctx, project, session.UserID); err != nil {
		return err
	}
	documents, err := s.store.ListDocuments(ctx, project.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		return err
	}

	if s.artifacts.Enabled() {
		if err := s.artifacts.RemoveProject(ctx, project.ID); err != nil {
			log.Printf("app: remove artifacts for project %s: %v", project.ID, err)
		}
	}
	documentIDs := make([]string, 0, len(documents))
	for _, doc := range documents {
		documentIDs = append(documentIDs, doc.ID)
	}
	s.search.DeleteProject(project.ID, documentIDs)
	return nil
}

// Search runs a full-text query over the projects the viewer can see. Hits
// are re-checked against the gate since the index may lag behind grants.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	projectIDs, err := s.store.ListAccessibleProjectIDs(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	q.ProjectIDs = projectIDs
	resp := s.search.Search(ctx, q)

	visible := make(map[string]bool)
	filtered := make([]search.Result, 0, len(resp.Results))
	for _, result := range resp.Results {
		allowed, seen := visible[result.ProjectID]
		if !seen {
			project, err := s.store.GetProject(ctx, result.ProjectID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				allowed = false
			case err != nil:
				return search.Response{}, err
			default:
				allowed, err = s.gate.CanView(ctx, project, session.UserID)
				if err != nil {
					return search.Response{}, err
				}
			}
			visible[result.ProjectID] = allowed
		}
		if allowed {
			filtered = append(filtered, result)
		}
	}
	resp.Results = filtered
	return resp, nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func projectRecord(project store.Project) search.ProjectRecord {
	return search.ProjectRecord{
		ID:          project.ID,
		ProjectID:   project.ID,
		Name:        project.Name,
		Description: project.Description,
		Idea:        project.Idea,
	}
}

func documentRecord(doc store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:        doc.ID,
		ProjectID: doc.ProjectID,
		Title:     doc.Title,
		Body:      generate.PlainText(doc.Content),
		Type:      string(doc.Type),
		Status:    doc.Status,
	}
}
