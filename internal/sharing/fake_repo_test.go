package sharing

import (
	"context"
	"sort"
	"sync"
	"time"

	"docforge/api/internal/notify"
	"docforge/api/internal/store"
)

// memoryRepo mirrors the constraints the database enforces: one grant per
// (project, user) and one pending invitation per (project, invitee).
type memoryRepo struct {
	mu          sync.Mutex
	users       map[string]store.User
	grants      map[[2]string]store.Grant
	invitations map[string]store.Invitation
	upserts     int
	failAccept  error
}

func newMemoryRepo(users ...store.User) *memoryRepo {
	repo := &memoryRepo{
		users:       map[string]store.User{},
		grants:      map[[2]string]store.Grant{},
		invitations: map[string]store.Invitation{},
	}
	for _, user := range users {
		repo.users[user.ID] = user
	}
	return repo
}

func (r *memoryRepo) GetUser(_ context.Context, userID string) (store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memoryRepo) GetGrant(_ context.Context, projectID, userID string) (store.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	grant, ok := r.grants[[2]string{projectID, userID}]
	if !ok {
		return store.Grant{}, store.ErrNotFound
	}
	return grant, nil
}

func (r *memoryRepo) ListGrants(_ context.Context, projectID string) ([]store.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]store.Grant, 0)
	for key, grant := range r.grants {
		if key[0] == projectID {
			items = append(items, grant)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UserID < items[j].UserID })
	return items, nil
}

func (r *memoryRepo) UpsertGrant(_ context.Context, projectID, userID, permission string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(projectID, userID, permission)
	return nil
}

func (r *memoryRepo) upsertLocked(projectID, userID, permission string) {
	r.upserts++
	key := [2]string{projectID, userID}
	grant, ok := r.grants[key]
	if !ok {
		grant = store.Grant{ProjectID: projectID, UserID: userID, CreatedAt: time.Now()}
	}
	grant.Permission = permission
	grant.UpdatedAt = time.Now()
	r.grants[key] = grant
}

func (r *memoryRepo) DeleteGrant(_ context.Context, projectID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants, [2]string{projectID, userID})
	return nil
}

func (r *memoryRepo) HasPendingInvitation(_ context.Context, projectID, inviteeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked(projectID, inviteeID), nil
}

func (r *memoryRepo) pendingLocked(projectID, inviteeID string) bool {
	for _, item := range r.invitations {
		if item.ProjectID == projectID && item.InviteeID == inviteeID && item.Status == store.InvitationPending {
			return true
		}
	}
	return false
}

func (r *memoryRepo) CreateInvitation(_ context.Context, item store.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingLocked(item.ProjectID, item.InviteeID) {
		return store.ErrDuplicatePending
	}
	item.Status = store.InvitationPending
	r.invitations[item.ID] = item
	return nil
}

func (r *memoryRepo) GetInvitation(_ context.Context, invitationID string) (store.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.invitations[invitationID]
	if !ok {
		return store.Invitation{}, store.ErrNotFound
	}
	return item, nil
}

func (r *memoryRepo) AcceptInvitation(_ context.Context, invitationID string, at time.Time) (store.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAccept != nil {
		return store.Invitation{}, r.failAccept
	}
	item, ok := r.invitations[invitationID]
	if !ok {
		return store.Invitation{}, store.ErrNotFound
	}
	if item.Status != store.InvitationPending {
		return store.Invitation{}, store.ErrInvitationNotPending
	}
	r.upsertLocked(item.ProjectID, item.InviteeID, item.Permission)
	item.Status = store.InvitationAccepted
	item.RespondedAt = &at
	r.invitations[invitationID] = item
	return item, nil
}

func (r *memoryRepo) DeclineInvitation(_ context.Context, invitationID string, at time.Time) (store.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.invitations[invitationID]
	if !ok {
		return store.Invitation{}, store.ErrNotFound
	}
	if item.Status != store.InvitationPending {
		return store.Invitation{}, store.ErrInvitationNotPending
	}
	item.Status = store.InvitationDeclined
	item.RespondedAt = &at
	r.invitations[invitationID] = item
	return item, nil
}

func (r *memoryRepo) ListPendingInvitations(_ context.Context, projectID string) ([]store.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]store.Invitation, 0)
	for _, item := range r.invitations {
		if item.ProjectID == projectID && item.Status == store.InvitationPending {
			items = append(items, item)
		}
	}
	return items, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.InvitationNotice
	err     error
}

func (n *recordingNotifier) NotifyInvitation(_ context.Context, notice notify.InvitationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}
