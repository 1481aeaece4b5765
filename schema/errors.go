package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrSpaceNotFound indicates a requested space could not be found.
	ErrSpaceNotFound = errors.New("space not found")
	// ErrGroupNotFound indicates a requested group could not be found.
	ErrGroupNotFound = errors.New("group not found")
	// ErrContextNotFound indicates a shared context could not be found.
	ErrContextNotFound = errors.New("shared context not found")
	// ErrSessionNotFound indicates a collaboration session could not be found.
	ErrSessionNotFound = errors.New("collaboration session not found")
	// ErrInvalidReference indicates a cross-entity invariant would be violated,
	// such as assigning a tab to a group in a different space.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrInvalidOperation indicates the operation is disallowed in the
	// entity's current state, such as suspending a pinned tab without force.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrPermissionDenied indicates a default-deny permission check failed.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotParticipant indicates the tab is not a member of the context or session.
	ErrNotParticipant = errors.New("not a participant")
	// ErrSessionFull indicates the session reached its participant cap.
	ErrSessionFull = errors.New("session is full")
	// ErrNoPendingConflict indicates there is no conflict to resolve for the key.
	ErrNoPendingConflict = errors.New("no pending conflict")
	// ErrBusClosed indicates the event bus has been shut down.
	ErrBusClosed = errors.New("event bus closed")
)
