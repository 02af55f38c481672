package domain

import "errors"

var (
	// ErrInvalidScope is returned when a scope tuple is malformed. It is raised before storage is touched.
	ErrInvalidScope = errors.New("invalid attempt scope")
	// ErrUnauthenticated is returned when no acting user is attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound indicates the addressed attempt does not exist (or is not visible to the actor).
	ErrNotFound = errors.New("attempt not found")
	// ErrConflictRetryable signals a write collided with a concurrent one and may be retried.
	ErrConflictRetryable = errors.New("conflicting write, retry")
	// ErrStorageUnavailable is a transient failure of the backing store.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidAttempt indicates attempt counters or timestamps are out of range.
	ErrInvalidAttempt = errors.New("invalid attempt data")
	// ErrAttemptCompleted is returned when completing an attempt twice.
	ErrAttemptCompleted = errors.New("attempt already completed")
	// ErrInvalidGrant indicates a reward grant is missing its user or content id.
	ErrInvalidGrant = errors.New("invalid reward grant")
	// ErrGrantNotFound is returned by reward stores when no grant exists for a key.
	ErrGrantNotFound = errors.New("reward grant not found")
	// ErrProfileNotFound indicates the profile collaborator has no summary for a user.
	ErrProfileNotFound = errors.New("profile not found")
)
