package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertUser records the identity presented by a bearer token. Profile fields
// follow the identity provider.
func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET display_name=EXCLUDED.display_name, email=EXCLUDED.email, updated_at=NOW()
		WHERE users.display_name <> EXCLUDED.display_name OR users.email <> EXCLUDED.email
	`, user.ID, user.DisplayName, user.Email)
	if isUniqueViolation(err, usersEmailUniqueKey) {
		return fmt.Errorf("upsert user %s: %w", user.ID, ErrEmailInUse)
	}
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SearchInviteCandidates matches users by name or email, leaving out the owner
// and anyone already holding a grant on the project.
func (s *PostgresStore) SearchInviteCandidates(ctx context.Context, projectID, ownerID, query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.created_at, u.updated_at
		FROM users u
		WHERE u.id <> $2
			AND (u.display_name ILIKE $3 OR u.email ILIKE $3)
			AND NOT EXISTS (
				SELECT 1 FROM project_shares ps
				WHERE ps.project_id=$1 AND ps.user_id=u.id
			)
		ORDER BY u.display_name ASC, u.id ASC
		LIMIT $4
	`, projectID, ownerID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search invite candidates: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return items, nil
}

const projectColumns = `p.id, p.owner_id, p.name, p.description, p.idea, p.tech_stack, p.features, p.target_audience, p.enhanced_mode, p.created_at, p.updated_at`

func scanProject(row rowScanner, extra ...any) (Project, error) {
	var (
		item      Project
		techStack []byte
		features  []byte
	)
	dest := []any{&item.ID, &item.OwnerID, &item.Name, &item.Description, &item.Idea, &techStack, &features, &item.TargetAudience, &item.EnhancedMode, &item.CreatedAt, &item.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Project{}, err
	}
	if err := json.Unmarshal(techStack, &item.TechStack); err != nil {
		return Project{}, fmt.Errorf("decode tech stack: %w", err)
	}
	if err := json.Unmarshal(features, &item.Features); err != nil {
		return Project{}, fmt.Errorf("decode features: %w", err)
	}
	return item, nil
}

func encodeList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	techStack, err := encodeList(item.TechStack)
	if err != nil {
		return fmt.Errorf("encode tech stack: %w", err)
	}
	features, err := encodeList(item.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, description, idea, tech_stack, features, target_audience, enhanced_mode)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9)
	`, item.ID, item.OwnerID, item.Name, item.Description, item.Idea, string(techStack), string(features), item.TargetAudience, item.EnhancedMode)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	item, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id=$1`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return item, nil
}

// UpdateProject rewrites the mutable fields. The owner never changes.
func (s *PostgresStore) UpdateProject(ctx context.Context, item Project) error {
	techStack, err := encodeList(item.TechStack)
	if err != nil {
		return fmt.Errorf("encode tech stack: %w", err)
	}
	features, err := encodeList(item.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name=$2, description=$3, idea=$4, tech_stack=$5::jsonb, features=$6::jsonb,
			target_audience=$7, enhanced_mode=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Description, item.Idea, string(techStack), string(features), item.TargetAudience, item.EnhancedMode)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(result)
}

// DeleteProject removes a project; documents, shares and invitations go with it
// through ON DELETE CASCADE.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(result)
}

// ListOwnedProjects pages through the owner's projects, newest first.
func (s *PostgresStore) ListOwnedProjects(ctx context.Context, ownerID string, limit, offset int) ([]Project, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE owner_id=$1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count owned projects: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		WHERE p.owner_id=$1
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list owned projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate projects: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) ListSharedProjects(ctx context.Context, userID string) ([]SharedProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`, ps.permission, u.display_name
		FROM project_shares ps
		JOIN projects p ON p.id = ps.project_id
		JOIN users u ON u.id = p.owner_id
		WHERE ps.user_id=$1
		ORDER BY ps.created_at DESC, p.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list shared projects: %w", err)
	}
	defer rows.Close()

	items := make([]SharedProject, 0)
	for rows.Next() {
		var shared SharedProject
		project, err := scanProject(rows, &shared.Permission, &shared.OwnerName)
		if err != nil {
			return nil, fmt.Errorf("scan shared project: %w", err)
		}
		shared.Project = project
		items = append(items, shared)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared projects: %w", err)
	}
	return items, nil
}

// ListAccessibleProjectIDs returns the projects the user owns or has been
// granted access to.
func (s *PostgresStore) ListAccessibleProjectIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM projects WHERE owner_id=$1
		UNION
		SELECT project_id FROM project_shares WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accessible projects: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan accessible project: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accessible projects: %w", err)
	}
	return ids, nil
}

const documentColumns = `id, project_id, title, content, type, status, word_count, export_key, export_format, created_at, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var (
		item      Document
		docType   string
		wordCount sql.NullInt32
		exportKey sql.NullString
		exportFmt sql.NullString
	)
	if err := row.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Content, &docType, &item.Status, &wordCount, &exportKey, &exportFmt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Document{}, err
	}
	item.Type = DocumentType(docType)
	if wordCount.Valid {
		count := int(wordCount.Int32)
		item.WordCount = &count
	}
	if exportKey.Valid {
		item.ExportKey = &exportKey.String
	}
	if exportFmt.Valid {
		item.ExportFormat = &exportFmt.String
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE project_id=$1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	item, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	status := item.Status
	if status == "" {
		status = DocumentStatusDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, title, content, type, status, word_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ProjectID, item.Title, item.Content, string(item.Type), status, nullableInt(item.WordCount))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, item Document) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, status=$4, word_count=$5, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Content, item.Status, nullableInt(item.WordCount))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) SetDocumentExport(ctx context.Context, documentID, key, format string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET export_key=$2, export_format=$3, updated_at=NOW()
		WHERE id=$1
	`, documentID, key, format)
	if err != nil {
		return fmt.Errorf("set document export: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) GetGrant(ctx context.Context, projectID, userID string) (Grant, error) {
	var grant Grant
	err := s.db.QueryRowContext(ctx, `
		SELECT ps.project_id, ps.user_id, u.display_name, u.email, ps.permission, ps.created_at, ps.updated_at
		FROM project_shares ps
		JOIN users u ON u.id = ps.user_id
		WHERE ps.project_id=$1 AND ps.user_id=$2
	`, projectID, userID).Scan(&grant.ProjectID, &grant.UserID, &grant.UserName, &grant.UserEmail, &grant.Permission, &grant.CreatedAt, &grant.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("get grant: %w", err)
	}
	return grant, nil
}

func (s *PostgresStore) ListGrants(ctx context.Context, projectID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.project_id, ps.user_id, u.display_name, u.email, ps.permission, ps.created_at, ps.updated_at
		FROM project_shares ps
		JOIN users u ON u.id = ps.user_id
		WHERE ps.project_id=$1
		ORDER BY ps.created_at ASC, ps.user_id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		var grant Grant
		if err := rows.Scan(&grant.ProjectID, &grant.UserID, &grant.UserName, &grant.UserEmail, &grant.Permission, &grant.CreatedAt, &grant.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

// execer lets upsertGrant run on the pool or inside an acceptance transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertGrant(ctx context.Context, db execer, projectID, userID, permission string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO project_shares (project_id, user_id, permission)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id)
		DO UPDATE SET permission=EXCLUDED.permission, updated_at=NOW()
	`, projectID, userID, permission)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertGrant(ctx context.Context, projectID, userID, permission string) error {
	return upsertGrant(ctx, s.db, projectID, userID, permission)
}

// DeleteGrant is idempotent: removing a missing grant is not an error.
func (s *PostgresStore) DeleteGrant(ctx context.Context, projectID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM project_shares WHERE project_id=$1 AND user_id=$2`, projectID, userID); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

const invitationColumns = `i.id, i.project_id, i.inviter_id, i.invitee_id, u.display_name, u.email, i.permission, i.status, i.created_at, i.responded_at`

func scanInvitation(row rowScanner) (Invitation, error) {
	var (
		item        Invitation
		respondedAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.ProjectID, &item.InviterID, &item.InviteeID, &item.InviteeName, &item.InviteeEmail, &item.Permission, &item.Status, &item.CreatedAt, &respondedAt); err != nil {
		return Invitation{}, err
	}
	if respondedAt.Valid {
		item.RespondedAt = &respondedAt.Time
	}
	return item, nil
}

// CreateInvitation inserts a pending invitation. The partial unique index on
// pending rows turns a concurrent duplicate into ErrDuplicatePending.
func (s *PostgresStore) CreateInvitation(ctx context.Context, item Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_invitations (id, project_id, inviter_id, invitee_id, permission, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
	`, item.ID, item.ProjectID, item.InviterID, item.InviteeID, item.Permission)
	if isUniqueViolation(err, "uq_project_invitations_pending") {
		return ErrDuplicatePending
	}
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	item, err := scanInvitation(s.db.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM project_invitations i
		JOIN users u ON u.id = i.invitee_id
		WHERE i.id=$1
	`, invitationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Invitation{}, ErrNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) HasPendingInvitation(ctx context.Context, projectID, inviteeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM project_invitations
			WHERE project_id=$1 AND invitee_id=$2 AND status='pending'
		)
	`, projectID, inviteeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending invitation: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListPendingInvitations(ctx context.Context, projectID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM project_invitations i
		JOIN users u ON u.id = i.invitee_id
		WHERE i.project_id=$1 AND i.status='pending'
		ORDER BY i.created_at DESC, i.id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		item, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

// AcceptInvitation locks the invitation row, grants the invited permission and
// marks the invitation accepted in one transaction. Either both changes land or
// neither does.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, invitationID string, at time.Time) (Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Invitation{}, fmt.Errorf("begin accept tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := lockInvitation(ctx, tx, invitationID)
	if err != nil {
		return Invitation{}, err
	}
	if item.Status != InvitationPending {
		return Invitation{}, ErrInvitationNotPending
	}

	if err := upsertGrant(ctx, tx, item.ProjectID, item.InviteeID, item.Permission); err != nil {
		return Invitation{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE project_invitations SET status='accepted', responded_at=$2 WHERE id=$1
	`, invitationID, at); err != nil {
		return Invitation{}, fmt.Errorf("mark invitation accepted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Invitation{}, fmt.Errorf("commit accept tx: %w", err)
	}

	item.Status = InvitationAccepted
	item.RespondedAt = &at
	return item, nil
}

// DeclineInvitation moves a pending invitation to declined. No grant is touched.
func (s *PostgresStore) DeclineInvitation(ctx context.Context, invitationID string, at time.Time) (Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Invitation{}, fmt.Errorf("begin decline tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := lockInvitation(ctx, tx, invitationID)
	if err != nil {
		return Invitation{}, err
	}
	if item.Status != InvitationPending {
		return Invitation{}, ErrInvitationNotPending
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE project_invitations SET status='declined', responded_at=$2 WHERE id=$1
	`, invitationID, at); err != nil {
		return Invitation{}, fmt.Errorf("mark invitation declined: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Invitation{}, fmt.Errorf("commit decline tx: %w", err)
	}

	item.Status = InvitationDeclined
	item.RespondedAt = &at
	return item, nil
}

func lockInvitation(ctx context.Context, tx *sql.Tx, invitationID string) (Invitation, error) {
	item, err := scanInvitation(tx.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM project_invitations i
		JOIN users u ON u.id = i.invitee_id
		WHERE i.id=$1
		FOR UPDATE OF i
	`, invitationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Invitation{}, ErrNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("lock invitation: %w", err)
	}
	return item, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func escapeLike(value string) string {
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
