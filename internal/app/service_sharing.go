package app

import (
	"context"
	"strings"

	"docforge/api/internal/rbac"
	"docforge/api/internal/store"
)

// CreateInvitation invites a registered user to the project. Only the owner
// may invite; the invitee receives a signed accept link.
func (s *Service) CreateInvitation(ctx context.Context, session Session, projectID, inviteeID, permission string) (map[string]any, error) {
	if strings.TrimSpace(inviteeID) == "" {
		return nil, validationError("userId is required")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	created, err := s.invitations.Create(ctx, project, session.User(), strings.TrimSpace(inviteeID), rbac.Permission(strings.TrimSpace(permission)))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"invitation": invitationPayload(created.Invitation),
		"expiresAt":  formatTime(created.ExpiresAt),
	}, nil
}

// AcceptInvitation redeems a signed link. Possession of a valid link is the
// only check.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID, expires, signature string) (map[string]any, error) {
	item, err := s.invitations.Accept(ctx, invitationID, expires, signature)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"invitation": invitationPayload(item),
		"projectId":  item.ProjectID,
	}, nil
}

func (s *Service) DeclineInvitation(ctx context.Context, session Session, invitationID string) (map[string]any, error) {
	item, err := s.invitations.Decline(ctx, invitationID, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"invitation": invitationPayload(item)}, nil
}

func (s *Service) ListPendingInvitations(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := s.invitations.ListPending(ctx, project, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, invitationPayload(item))
	}
	return map[string]any{"invitations": payload}, nil
}

func (s *Service) ListCollaborators(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, _, err := s.loadProject(ctx, session, projectID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	grants, err := s.permissions.ListGrants(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(grants))
	for _, grant := range grants {
		items = append(items, grantPayload(grant))
	}
	owner, err := s.store.GetUser(ctx, project.OwnerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"owner": userPayload(owner), "collaborators": items}, nil
}

// UpdateCollaborator changes an existing grant. It never creates one; access
// is only granted by accepting an invitation.
func (s *Service) UpdateCollaborator(ctx context.Context, session Session, projectID, userID, permission string) (map[string]any, error) {
	project, _, err := s.loadProject(ctx, session, projectID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	exists, err := s.permissions.HasGrant(ctx, project.ID, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	if err := s.permissions.GrantOrUpdate(ctx, project.ID, userID, rbac.Permission(strings.TrimSpace(permission))); err != nil {
		return nil, err
	}
	grant, err := s.store.GetGrant(ctx, project.ID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"collaborator": grantPayload(grant)}, nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, session Session, projectID, userID string) error {
	project, _, err := s.loadProject(ctx, session, projectID, rbac.ActionManage)
	if err != nil {
		return err
	}
	return s.permissions.Revoke(ctx, project.ID, userID)
}

// SearchInviteCandidates lists users the owner could invite.
func (s *Service) SearchInviteCandidates(ctx context.Context, session Session, projectID, query string) (map[string]any, error) {
	project, _, err := s.loadProject(ctx, session, projectID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	items := make([]map[string]any, 0)
	if query == "" {
		return map[string]any{"users": items}, nil
	}
	users, err := s.store.SearchInviteCandidates(ctx, project.ID, project.OwnerID, query, candidateLimit)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return map[string]any{"users": items}, nil
}

