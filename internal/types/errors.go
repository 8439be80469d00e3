package types

import "fmt"

// ValidationError reports malformed caller input, e.g. an unsupported
// filetype or an unparseable upload. No state is changed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Message)
}

// PermissionError reports an authorization denial. No state is changed.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Message)
}

// NotFoundError reports a missing record, rendered as a 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// BackendUnavailableError reports a transient failure talking to the
// execution backend. Local state is unchanged; the caller may retry. It is
// distinct from a definitive backend rejection, which surfaces as a
// ValidationError or NotFoundError instead.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable during %s: %v", e.Op, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// SessionConflictError reports a launch attempt while the user already has an
// active session. The prior session is untouched; the caller must end it.
type SessionConflictError struct {
	UserID    uint
	SessionID string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("user %d already has active session %s", e.UserID, e.SessionID)
}

// InvalidStateError reports a session operation from the wrong lifecycle
// state, e.g. ending a session that already ended or lapsed.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session in state %q", e.Op, e.State)
}
