package domain

import "errors"

var (
	// ErrAuthentication means the caller's credentials are missing or unknown.
	ErrAuthentication = errors.New("authentication failed")
	// ErrForbidden means the caller is known but may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation marks a malformed or incomplete payload.
	ErrValidation = errors.New("invalid payload")
	// ErrNotFound marks a referenced author, entry, comment or node that is
	// not known locally.
	ErrNotFound = errors.New("not found")
	// ErrConflictSkipped is returned by the store when an idempotent insert
	// hit an existing row. Callers treat it as success.
	ErrConflictSkipped = errors.New("duplicate write skipped")
	// ErrRemoteUnreachable covers network failures, timeouts and 5xx replies
	// from a peer, and peers without a registry entry.
	ErrRemoteUnreachable = errors.New("remote node unreachable")
)
