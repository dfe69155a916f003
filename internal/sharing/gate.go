package sharing

import (
	"context"

	"docforge/api/internal/rbac"
	"docforge/api/internal/store"
)

// Gate answers access questions for an identity against a loaded project.
// Document checks go through the parent project.
type Gate struct {
	permissions *PermissionStore
}

func NewGate(permissions *PermissionStore) *Gate {
	return &Gate{permissions: permissions}
}

// Resolve returns the effective permission, with owners reported as
// rbac.PermissionOwner.
func (g *Gate) Resolve(ctx context.Context, project store.Project, identity string) (rbac.Permission, error) {
	if IsOwner(project, identity) {
		return rbac.PermissionOwner, nil
	}
	if identity == "" {
		return rbac.PermissionNone, nil
	}
	return g.permissions.PermissionOf(ctx, project.ID, identity)
}

func (g *Gate) CanView(ctx context.Context, project store.Project, identity string) (bool, error) {
	permission, err := g.Resolve(ctx, project, identity)
	if err != nil {
		return false, err
	}
	return rbac.Can(permission, rbac.ActionView), nil
}

func (g *Gate) CanEdit(ctx context.Context, project store.Project, identity string) (bool, error) {
	permission, err := g.Resolve(ctx, project, identity)
	if err != nil {
		return false, err
	}
	return rbac.Can(permission, rbac.ActionEdit), nil
}

func (g *Gate) RequireView(ctx context.Context, project store.Project, identity string) error {
	return g.require(ctx, project, identity, rbac.ActionView)
}

func (g *Gate) RequireEdit(ctx context.Context, project store.Project, identity string) error {
	return g.require(ctx, project, identity, rbac.ActionEdit)
}

func (g *Gate) RequireOwner(_ context.Context, project store.Project, identity string) error {
	if !IsOwner(project, identity) {
		return ErrForbidden
	}
	return nil
}

func (g *Gate) require(ctx context.Context, project store.Project, identity string, action rbac.Action) error {
	permission, err := g.Resolve(ctx, project, identity)
	if err != nil {
		return err
	}
	if !rbac.Can(permission, action) {
		return ErrForbidden
	}
	return nil
}
