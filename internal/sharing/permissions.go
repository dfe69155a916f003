// Package sharing owns who may see and change a project: the grant table,
// the access checks built on it, and the invitation flow that creates grants.
package sharing

import (
	"context"
	"errors"
	"fmt"

	"docforge/api/internal/rbac"
	"docforge/api/internal/store"
)

// GrantRepository is the grant surface of the store.
type GrantRepository interface {
	GetGrant(ctx context.Context, projectID, userID string) (store.Grant, error)
	ListGrants(ctx context.Context, projectID string) ([]store.Grant, error)
	UpsertGrant(ctx context.Context, projectID, userID, permission string) error
	DeleteGrant(ctx context.Context, projectID, userID string) error
}

type PermissionStore struct {
	repo GrantRepository
}

func NewPermissionStore(repo GrantRepository) *PermissionStore {
	return &PermissionStore{repo: repo}
}

func IsOwner(project store.Project, identity string) bool {
	return identity != "" && project.OwnerID == identity
}

// GrantOrUpdate leaves exactly one grant for (project, identity), with the
// given permission.
func (s *PermissionStore) GrantOrUpdate(ctx context.Context, projectID, identity string, permission rbac.Permission) error {
	if !rbac.Grantable(permission) {
		return ErrInvalidPermission
	}
	return s.repo.UpsertGrant(ctx, projectID, identity, string(permission))
}

func (s *PermissionStore) Revoke(ctx context.Context, projectID, identity string) error {
	return s.repo.DeleteGrant(ctx, projectID, identity)
}

// PermissionOf reports the stored grant only. Ownership is not a grant.
func (s *PermissionStore) PermissionOf(ctx context.Context, projectID, identity string) (rbac.Permission, error) {
	grant, err := s.repo.GetGrant(ctx, projectID, identity)
	if errors.Is(err, store.ErrNotFound) {
		return rbac.PermissionNone, nil
	}
	if err != nil {
		return rbac.PermissionNone, fmt.Errorf("read grant: %w", err)
	}
	return rbac.Normalize(grant.Permission), nil
}

func (s *PermissionStore) ListGrants(ctx context.Context, projectID string) ([]store.Grant, error) {
	return s.repo.ListGrants(ctx, projectID)
}

// HasGrant distinguishes a missing grant from a read failure.
func (s *PermissionStore) HasGrant(ctx context.Context, projectID, identity string) (bool, error) {
	permission, err := s.PermissionOf(ctx, projectID, identity)
	if err != nil {
		return false, err
	}
	return permission != rbac.PermissionNone, nil
}
