package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicatePending is returned when a second pending invitation would
	// exist for the same project and invitee.
	ErrDuplicatePending = errors.New("pending invitation already exists")
	// ErrInvitationNotPending is returned by transitions on a terminal invitation.
	ErrInvitationNotPending = errors.New("invitation is not pending")
	// ErrEmailInUse is returned when an identity presents an email another
	// user row already holds.
	ErrEmailInUse = errors.New("email belongs to another user")
)

const (
	uniqueViolation     = "23505"
	usersEmailUniqueKey = "users_email_key"
)

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}
