package sharing

import "errors"

var (
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidPermission = errors.New("permission must be view or edit")
	ErrInvalidInvitee    = errors.New("owner cannot be invited to their own project")
	ErrAlreadyInvited    = errors.New("user already has a pending invitation")
	ErrInvalidLink       = errors.New("invitation link is invalid or expired")
	ErrNotPending        = errors.New("invitation is no longer pending")
)
