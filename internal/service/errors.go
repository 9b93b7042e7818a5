package service

import "errors"

// Business-rule rejections are sentinel errors so handlers can map them to
// HTTP codes with errors.Is. Anything else that escapes this package is an
// infrastructure failure.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrNotMember        = errors.New("not a member of this room")
	ErrForbidden        = errors.New("admin role required")
	ErrVotingClosed     = errors.New("voting closed")
	ErrInvalidOption    = errors.New("option does not belong to this proposal")
	ErrAlreadyClosed    = errors.New("proposal already closed")
	ErrRoomDeleted      = errors.New("room is deleted")
)

// ValidationError carries a user-facing reason for rejecting malformed
// input before anything touches the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(reason string) error { return &ValidationError{Reason: reason} }

// IsValidation reports whether err is a pre-persistence input rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
