// Package notify delivers invitation notices, either through a RabbitMQ queue
// drained by a mail worker or straight to SMTP when no broker is configured.
package notify

import (
	"context"
	"log"
	"time"

	"docforge/api/internal/email"
)

const InvitationQueue = "project.invitations"

// InvitationNotice is the message body for a new invitation.
type InvitationNotice struct {
	InvitationID       string    `json:"invitationId"`
	ProjectID          string    `json:"projectId"`
	ProjectName        string    `json:"projectName"`
	ProjectDescription string    `json:"projectDescription,omitempty"`
	InviterName        string    `json:"inviterName"`
	InviteeName        string    `json:"inviteeName"`
	InviteeEmail       string    `json:"inviteeEmail"`
	Permission         string    `json:"permission"`
	AcceptURL          string    `json:"acceptUrl"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

func (n InvitationNotice) Email() email.Invitation {
	return email.Invitation{
		To:                 n.InviteeEmail,
		InviteeName:        n.InviteeName,
		InviterName:        n.InviterName,
		ProjectName:        n.ProjectName,
		ProjectDescription: n.ProjectDescription,
		Permission:         n.Permission,
		AcceptURL:          n.AcceptURL,
		ExpiresAt:          n.ExpiresAt,
	}
}

// Mailer is the part of email.Service the notifiers use.
type Mailer interface {
	SendInvitationEmail(inv email.Invitation) error
}

// Direct sends the mail in the caller's goroutine.
type Direct struct {
	mailer Mailer
}

func NewDirect(mailer Mailer) *Direct {
	return &Direct{mailer: mailer}
}

func (d *Direct) NotifyInvitation(_ context.Context, notice InvitationNotice) error {
	return d.mailer.SendInvitationEmail(notice.Email())
}

// Discard logs the notice and drops it. Used when neither a broker nor SMTP is
// set up. The accept link is a bearer credential, so it is only written when
// LogLinks is set for local development.
type Discard struct {
	LogLinks bool
}

func (d Discard) NotifyInvitation(_ context.Context, notice InvitationNotice) error {
	if d.LogLinks {
		log.Printf("notify: no mail transport, invitation %s accept link: %s", notice.InvitationID, notice.AcceptURL)
		return nil
	}
	log.Printf("notify: no mail transport, invitation %s for project %s not delivered", notice.InvitationID, notice.ProjectID)
	return nil
}
