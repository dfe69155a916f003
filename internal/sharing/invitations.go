package sharing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"docforge/api/internal/auth"
	"docforge/api/internal/notify"
	"docforge/api/internal/rbac"
	"docforge/api/internal/store"
	"docforge/api/internal/util"
)

const (
	DefaultInvitationTTL = 48 * time.Hour
	linkPurpose          = "docforge invitation links v1"
	notifyTimeout        = 30 * time.Second
)

type InvitationRepository interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	HasPendingInvitation(ctx context.Context, projectID, inviteeID string) (bool, error)
	CreateInvitation(ctx context.Context, item store.Invitation) error
	GetInvitation(ctx context.Context, invitationID string) (store.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID string, at time.Time) (store.Invitation, error)
	DeclineInvitation(ctx context.Context, invitationID string, at time.Time) (store.Invitation, error)
	ListPendingInvitations(ctx context.Context, projectID string) ([]store.Invitation, error)
}

type Notifier interface {
	NotifyInvitation(ctx context.Context, notice notify.InvitationNotice) error
}

type WorkflowConfig struct {
	// BaseURL is the public origin accept links point at.
	BaseURL string
	AppKey  string
	TTL     time.Duration
}

type Workflow struct {
	repo     InvitationRepository
	notifier Notifier
	signer   *auth.LinkSigner
	baseURL  string
	ttl      time.Duration
	now      func() time.Time
	// dispatch runs notification delivery; tests replace it to run inline.
	dispatch func(func())
}

type CreatedInvitation struct {
	Invitation store.Invitation
	AcceptURL  string
	ExpiresAt  time.Time
}

func NewWorkflow(repo InvitationRepository, notifier Notifier, cfg WorkflowConfig) (*Workflow, error) {
	signer, err := auth.NewLinkSigner(cfg.AppKey, linkPurpose)
	if err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &Workflow{
		repo:     repo,
		notifier: notifier,
		signer:   signer,
		baseURL:  cfg.BaseURL,
		ttl:      ttl,
		now:      time.Now,
		dispatch: func(fn func()) { go fn() },
	}, nil
}

// Create records a pending invitation and sends the invitee a signed accept
// link. Delivery happens after the invitation is stored; a delivery failure
// is logged and the invitation stays.
func (w *Workflow) Create(ctx context.Context, project store.Project, inviter store.User, inviteeID string, permission rbac.Permission) (CreatedInvitation, error) {
	if !IsOwner(project, inviter.ID) {
		return CreatedInvitation{}, ErrForbidden
	}
	if !rbac.Grantable(permission) {
		return CreatedInvitation{}, ErrInvalidPermission
	}
	invitee, err := w.repo.GetUser(ctx, inviteeID)
	if err != nil {
		return CreatedInvitation{}, err
	}
	if invitee.ID == project.OwnerID {
		return CreatedInvitation{}, ErrInvalidInvitee
	}

	pending, err := w.repo.HasPendingInvitation(ctx, project.ID, invitee.ID)
	if err != nil {
		return CreatedInvitation{}, err
	}
	if pending {
		return CreatedInvitation{}, ErrAlreadyInvited
	}

	item := store.Invitation{
		ID:           util.NewID(""),
		ProjectID:    project.ID,
		InviterID:    inviter.ID,
		InviteeID:    invitee.ID,
		InviteeName:  invitee.DisplayName,
		InviteeEmail: invitee.Email,
		Permission:   string(permission),
		Status:       store.InvitationPending,
		CreatedAt:    w.now(),
	}
	if err := w.repo.CreateInvitation(ctx, item); err != nil {
		if errors.Is(err, store.ErrDuplicatePending) {
			return CreatedInvitation{}, ErrAlreadyInvited
		}
		return CreatedInvitation{}, err
	}

	expiresAt := item.CreatedAt.Add(w.ttl)
	acceptURL := w.AcceptURL(item.ID, expiresAt)
	notice := notify.InvitationNotice{
		InvitationID:       item.ID,
		ProjectID:          project.ID,
		ProjectName:        project.Name,
		ProjectDescription: project.Description,
		InviterName:        inviter.DisplayName,
		InviteeName:        invitee.DisplayName,
		InviteeEmail:       invitee.Email,
		Permission:         item.Permission,
		AcceptURL:          acceptURL,
		ExpiresAt:          expiresAt,
	}
	w.dispatch(func() { w.notify(notice) })

	return CreatedInvitation{Invitation: item, AcceptURL: acceptURL, ExpiresAt: expiresAt}, nil
}

func (w *Workflow) notify(notice notify.InvitationNotice) {
	if w.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := w.notifier.NotifyInvitation(ctx, notice); err != nil {
		log.Printf("sharing: invitation %s notification failed: %v", notice.InvitationID, err)
	}
}

// AcceptURL builds the signed link for an invitation. Anyone holding the link
// can accept; it carries no identity.
func (w *Workflow) AcceptURL(invitationID string, expiresAt time.Time) string {
	values := w.signer.Sign(invitationID, expiresAt)
	return fmt.Sprintf("%s/api/invitations/%s/accept?%s", w.baseURL, invitationID, values.Encode())
}

// Accept verifies the link, then converts the invitation into a grant in one
// store transaction. Reusing a link after acceptance fails with ErrNotPending.
func (w *Workflow) Accept(ctx context.Context, invitationID, expires, signature string) (store.Invitation, error) {
	if err := w.signer.Verify(invitationID, expires, signature, w.now()); err != nil {
		return store.Invitation{}, ErrInvalidLink
	}
	item, err := w.repo.AcceptInvitation(ctx, invitationID, w.now())
	if errors.Is(err, store.ErrInvitationNotPending) {
		return store.Invitation{}, ErrNotPending
	}
	if err != nil {
		return store.Invitation{}, err
	}
	return item, nil
}

// Decline lets the invitee refuse. No grant is written.
func (w *Workflow) Decline(ctx context.Context, invitationID, identity string) (store.Invitation, error) {
	item, err := w.repo.GetInvitation(ctx, invitationID)
	if err != nil {
		return store.Invitation{}, err
	}
	if item.InviteeID != identity {
		return store.Invitation{}, ErrForbidden
	}
	if item.Status != store.InvitationPending {
		return store.Invitation{}, ErrNotPending
	}
	declined, err := w.repo.DeclineInvitation(ctx, invitationID, w.now())
	if errors.Is(err, store.ErrInvitationNotPending) {
		return store.Invitation{}, ErrNotPending
	}
	if err != nil {
		return store.Invitation{}, err
	}
	return declined, nil
}

func (w *Workflow) ListPending(ctx context.Context, project store.Project, identity string) ([]store.Invitation, error) {
	if !IsOwner(project, identity) {
		return nil, ErrForbidden
	}
	return w.repo.ListPendingInvitations(ctx, project.ID)
}
