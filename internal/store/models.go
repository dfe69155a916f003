package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Project struct {
	ID             string
	OwnerID        string
	Name           string
	Description    string
	Idea           string
	TechStack      []string
	Features       []string
	TargetAudience string
	EnhancedMode   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SharedProject is a project seen through a collaborator's grant.
type SharedProject struct {
	Project
	Permission string
	OwnerName  string
}

type DocumentType string

const (
	DocumentTechnical     DocumentType = "technical"
	DocumentUIUX          DocumentType = "ui-ux"
	DocumentProduct       DocumentType = "product"
	DocumentCollaboration DocumentType = "collaboration"
	DocumentClient        DocumentType = "client"
	DocumentTesting       DocumentType = "testing"
	DocumentSecurity      DocumentType = "security"
	DocumentOperations    DocumentType = "operations"
	DocumentOverview      DocumentType = "overview"
	DocumentRoadmap       DocumentType = "roadmap"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTechnical, DocumentUIUX, DocumentProduct, DocumentCollaboration, DocumentClient,
		DocumentTesting, DocumentSecurity, DocumentOperations, DocumentOverview, DocumentRoadmap:
		return true
	default:
		return false
	}
}

const (
	DocumentStatusDraft      = "draft"
	DocumentStatusGenerating = "generating"
	DocumentStatusPublished  = "published"
	DocumentStatusArchived   = "archived"
)

func ValidDocumentStatus(status string) bool {
	switch status {
	case DocumentStatusDraft, DocumentStatusGenerating, DocumentStatusPublished, DocumentStatusArchived:
		return true
	default:
		return false
	}
}

type Document struct {
	ID           string
	ProjectID    string
	Title        string
	Content      string
	Type         DocumentType
	Status       string
	WordCount    *int
	ExportKey    *string
	ExportFormat *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Grant is one row of project_shares with the collaborator's profile joined in.
type Grant struct {
	ProjectID  string
	UserID     string
	UserName   string
	UserEmail  string
	Permission string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
)

type Invitation struct {
	ID           string
	ProjectID    string
	InviterID    string
	InviteeID    string
	InviteeName  string
	InviteeEmail string
	Permission   string
	Status       string
	CreatedAt    time.Time
	RespondedAt  *time.Time
}
