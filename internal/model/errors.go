package model

import "errors"

var (
	// ErrInvalidCredentials means the portal explicitly rejected the
	// username/password pair. Cached sessions must be invalidated.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPortal covers every other portal failure: network errors, bad
	// status codes, unparseable responses, missing tokens or markers.
	// Never retried automatically.
	ErrPortal = errors.New("portal error")
	// ErrNotFound is returned by the store for unknown users.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateReminder means a rule with the same identity tuple
	// already exists for the user.
	ErrDuplicateReminder = errors.New("duplicate reminder")
)
