package app

import (
	"time"

	"docforge/api/internal/store"
)

func projectPayload(project store.Project) map[string]any {
	techStack := project.TechStack
	if techStack == nil {
		techStack = []string{}
	}
	features := project.Features
	if features == nil {
		features = []string{}
	}
	return map[string]any{
		"id":             project.ID,
		"ownerId":        project.OwnerID,
		"name":           project.Name,
		"description":    project.Description,
		"idea":           project.Idea,
		"techStack":      techStack,
		"features":       features,
		"targetAudience": project.TargetAudience,
		"enhancedMode":   project.EnhancedMode,
		"createdAt":      formatTime(project.CreatedAt),
		"updatedAt":      formatTime(project.UpdatedAt),
	}
}

func documentPayload(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":        doc.ID,
		"projectId": doc.ProjectID,
		"title":     doc.Title,
		"content":   doc.Content,
		"type":      string(doc.Type),
		"status":    doc.Status,
		"wordCount": doc.WordCount,
		"export":    nil,
		"createdAt": formatTime(doc.CreatedAt),
		"updatedAt": formatTime(doc.UpdatedAt),
	}
	if doc.ExportKey != nil && doc.ExportFormat != nil {
		payload["export"] = map[string]any{"key": *doc.ExportKey, "format": *doc.ExportFormat}
	}
	return payload
}

func invitationPayload(item store.Invitation) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"projectId":    item.ProjectID,
		"inviterId":    item.InviterID,
		"inviteeId":    item.InviteeID,
		"inviteeName":  item.InviteeName,
		"inviteeEmail": item.InviteeEmail,
		"permission":   item.Permission,
		"status":       item.Status,
		"createdAt":    formatTime(item.CreatedAt),
		"respondedAt":  nil,
	}
	if item.RespondedAt != nil {
		payload["respondedAt"] = formatTime(*item.RespondedAt)
	}
	return payload
}

func grantPayload(grant store.Grant) map[string]any {
	return map[string]any{
		"userId":     grant.UserID,
		"name":       grant.UserName,
		"email":      grant.UserEmail,
		"permission": grant.Permission,
		"createdAt":  formatTime(grant.CreatedAt),
		"updatedAt":  formatTime(grant.UpdatedAt),
	}
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":    user.ID,
		"name":  user.DisplayName,
		"email": user.Email,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
