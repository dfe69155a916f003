package app

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"docforge/api/internal/notify"
	"docforge/api/internal/search"
	"docforge/api/internal/store"
)

// fakeStore keeps rows in maps and enforces the same uniqueness rules as the
// schema. The Fn fields override individual calls.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	projects    map[string]store.Project
	documents   map[string]store.Document
	grants      map[[2]string]store.Grant
	invitations map[string]store.Invitation

	pingFn           func(context.Context) error
	insertDocumentFn func(context.Context, store.Document) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		projects:    map[string]store.Project{},
		documents:   map[string]store.Document{},
		grants:      map[[2]string]store.Grant{},
		invitations: map[string]store.Invitation{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) UpsertUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.users {
		if id != user.ID && existing.Email == user.Email {
			return store.ErrEmailInUse
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) SearchInviteCandidates(_ context.Context, projectID, ownerID, query string, limit int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	query = strings.ToLower(query)
	var out []store.User
	for _, user := range f.users {
		if user.ID == ownerID {
			continue
		}
		if _, shared := f.grants[[2]string{projectID, user.ID}]; shared {
			continue
		}
		if strings.Contains(strings.ToLower(user.DisplayName), query) || strings.Contains(strings.ToLower(user.Email), query) {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) InsertProject(_ context.Context, item store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[item.ID] = item
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, item store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[item.ID]; !ok {
		return store.ErrNotFound
	}
	f.projects[item.ID] = item
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return store.ErrNotFound
	}
	delete(f.projects, projectID)
	for id, doc := range f.documents {
		if doc.ProjectID == projectID {
			delete(f.documents, id)
		}
	}
	for key := range f.grants {
		if key[0] == projectID {
			delete(f.grants, key)
		}
	}
	for id, item := range f.invitations {
		if item.ProjectID == projectID {
			delete(f.invitations, id)
		}
	}
	return nil
}

func (f *fakeStore) ListOwnedProjects(_ context.Context, ownerID string, limit, offset int) ([]store.Project, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var owned []store.Project
	for _, item := range f.projects {
		if item.OwnerID == ownerID {
			owned = append(owned, item)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	total := len(owned)
	if offset >= total {
		return []store.Project{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

func (f *fakeStore) ListSharedProjects(_ context.Context, userID string) ([]store.SharedProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.SharedProject, 0)
	for key, grant := range f.grants {
		if key[1] != userID {
			continue
		}
		project := f.projects[key[0]]
		out = append(out, store.SharedProject{Project: project, Permission: grant.Permission, OwnerName: f.users[project.OwnerID].DisplayName})
	}
	return out, nil
}

func (f *fakeStore) ListAccessibleProjectIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for id, item := range f.projects {
		if item.OwnerID == userID {
			ids = append(ids, id)
		}
	}
	for key := range f.grants {
		if key[1] == userID {
			ids = append(ids, key[0])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, projectID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Document, 0)
	for _, doc := range f.documents {
		if doc.ProjectID == projectID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, item store.Document) error {
	if f.insertDocumentFn != nil {
		if err := f.insertDocumentFn(ctx, item); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, item store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.documents[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Title = item.Title
	current.Content = item.Content
	current.Status = item.Status
	current.WordCount = item.WordCount
	current.UpdatedAt = item.UpdatedAt
	f.documents[item.ID] = current
	return nil
}

func (f *fakeStore) SetDocumentExport(_ context.Context, documentID, key, format string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok {
		return store.ErrNotFound
	}
	doc.ExportKey = &key
	doc.ExportFormat = &format
	f.documents[documentID] = doc
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[documentID]; !ok {
		return store.ErrNotFound
	}
	delete(f.documents, documentID)
	return nil
}

func (f *fakeStore) GetGrant(_ context.Context, projectID, userID string) (store.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grant, ok := f.grants[[2]string{projectID, userID}]
	if !ok {
		return store.Grant{}, store.ErrNotFound
	}
	return grant, nil
}

func (f *fakeStore) ListGrants(_ context.Context, projectID string) ([]store.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Grant, 0)
	for key, grant := range f.grants {
		if key[0] == projectID {
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) UpsertGrant(_ context.Context, projectID, userID, permission string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertGrantLocked(projectID, userID, permission)
	return nil
}

func (f *fakeStore) upsertGrantLocked(projectID, userID, permission string) {
	key := [2]string{projectID, userID}
	grant, ok := f.grants[key]
	if !ok {
		user := f.users[userID]
		grant = store.Grant{ProjectID: projectID, UserID: userID, UserName: user.DisplayName, UserEmail: user.Email, CreatedAt: time.Now()}
	}
	grant.Permission = permission
	grant.UpdatedAt = time.Now()
	f.grants[key] = grant
}

func (f *fakeStore) DeleteGrant(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.grants, [2]string{projectID, userID})
	return nil
}

func (f *fakeStore) HasPendingInvitation(_ context.Context, projectID, inviteeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked(projectID, inviteeID), nil
}

func (f *fakeStore) pendingLocked(projectID, inviteeID string) bool {
	for _, item := range f.invitations {
		if item.ProjectID == projectID && item.InviteeID == inviteeID && item.Status == store.InvitationPending {
			return true
		}
	}
	return false
}

func (f *fakeStore) CreateInvitation(_ context.Context, item store.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingLocked(item.ProjectID, item.InviteeID) {
		return store.ErrDuplicatePending
	}
	f.invitations[item.ID] = item
	return nil
}

func (f *fakeStore) GetInvitation(_ context.Context, invitationID string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.invitations[invitationID]
	if !ok {
		return store.Invitation{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) AcceptInvitation(_ context.Context, invitationID string, at time.Time) (store.Invitation, error) {
	return f.transition(invitationID, store.InvitationAccepted, at)
}

func (f *fakeStore) DeclineInvitation(_ context.Context, invitationID string, at time.Time) (store.Invitation, error) {
	return f.transition(invitationID, store.InvitationDeclined, at)
}

func (f *fakeStore) transition(invitationID, status string, at time.Time) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.invitations[invitationID]
	if !ok {
		return store.Invitation{}, store.ErrNotFound
	}
	if item.Status != store.InvitationPending {
		return store.Invitation{}, store.ErrInvitationNotPending
	}
	if status == store.InvitationAccepted {
		f.upsertGrantLocked(item.ProjectID, item.InviteeID, item.Permission)
	}
	item.Status = status
	item.RespondedAt = &at
	f.invitations[invitationID] = item
	return item, nil
}

func (f *fakeStore) ListPendingInvitations(_ context.Context, projectID string) ([]store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Invitation, 0)
	for _, item := range f.invitations {
		if item.ProjectID == projectID && item.Status == store.InvitationPending {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	output  string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.output, g.err
}

// channelNotifier hands notices to the test; the workflow delivers them from
// a goroutine.
type channelNotifier struct {
	notices chan notify.InvitationNotice
}

func newChannelNotifier() *channelNotifier {
	return &channelNotifier{notices: make(chan notify.InvitationNotice, 8)}
}

func (n *channelNotifier) NotifyInvitation(_ context.Context, notice notify.InvitationNotice) error {
	n.notices <- notice
	return nil
}

type fakeArtifacts struct {
	mu      sync.Mutex
	enabled bool
	objects map[string][]byte
	removed []string
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{enabled: true, objects: map[string][]byte{}}
}

func (a *fakeArtifacts) Enabled() bool { return a.enabled }

func (a *fakeArtifacts) Put(_ context.Context, projectID, documentID, format string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	key := "documents/" + documentID + "/export." + format
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[projectID+"/"+key] = data
	return key, nil
}

func (a *fakeArtifacts) Delete(_ context.Context, projectID, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, projectID+"/"+key)
	return nil
}

func (a *fakeArtifacts) RemoveProject(_ context.Context, projectID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, projectID)
	for key := range a.objects {
		if strings.HasPrefix(key, projectID+"/") {
			delete(a.objects, key)
		}
	}
	return nil
}

func (a *fakeArtifacts) PresignedURL(_ context.Context, projectID, key, filename string, _ time.Duration) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.objects[projectID+"/"+key]; !ok {
		return "", errors.New("no such object")
	}
	return "https://files.example.com/" + projectID + "/" + key + "?filename=" + filename, nil
}

type fakeSearch struct {
	mu        sync.Mutex
	results   []search.Result
	lastQuery search.Query
	indexed   []string
	deleted   []string
}

func (s *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q
	return search.Response{Results: append([]search.Result(nil), s.results...), Total: len(s.results), Query: q.Text}
}

func (s *fakeSearch) IndexProject(p search.ProjectRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, "project:"+p.ID)
}

func (s *fakeSearch) IndexDocument(d search.DocumentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, "document:"+d.ID)
}

func (s *fakeSearch) DeleteDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, "document:"+id)
}

func (s *fakeSearch) DeleteProject(id string, documentIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, "project:"+id)
	for _, docID := range documentIDs {
		s.deleted = append(s.deleted, "document:"+docID)
	}
}
