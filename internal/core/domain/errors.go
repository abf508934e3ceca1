package domain

import "errors"

var (
	// Gateway taxonomy
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrMembershipDenied      = errors.New("membership denied")
	ErrRejected              = errors.New("submission rejected")
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	ErrUserNotFound       = errors.New("user not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrAlreadyMember      = errors.New("user is already a member")
	ErrUserExists         = errors.New("user already exists")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrNotJoined          = errors.New("connection has not joined the group")
	ErrEmptyContent       = errors.New("message content is empty")
	ErrContentTooLong     = errors.New("message content is too long")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidGroupName   = errors.New("invalid group name")
	ErrInvalidID          = errors.New("invalid identifier")
)

// IsNotFoundOrConflict reports errors that describe data rather than a
// failing backend.
func IsNotFoundOrConflict(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrMembershipNotFound) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrUserExists)
}
