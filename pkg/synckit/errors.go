// Package synckit holds the error taxonomy shared by every core component.
package synckit

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for dispatch by callers (retry vs. retire vs. fatal).
type Kind string

// Error kinds from spec §7.
const (
	KindConfig        Kind = "config_error"
	KindTrackerDown   Kind = "tracker_unavailable"
	KindTrackerGone   Kind = "tracker_not_found"
	KindGenerator     Kind = "generator_error"
	KindParse         Kind = "parse_error"
	KindPersistence   Kind = "persistence_error"
	KindValidation    Kind = "validation_error"
)

// Error wraps an underlying error with a Kind, the root ID it concerns (if
// any), and an optional remediation hint surfaced by the control surface.
type Error struct {
	Kind   Kind
	RootID string
	Hint   string
	Err    error
}

func (e *Error) Error() string {
	if e.RootID != "" {
		return fmt.Sprintf("%s: root %s: %v", e.Kind, e.RootID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for the given kind.
func New(kind Kind, rootID string, err error) *Error {
	return &Error{Kind: kind, RootID: rootID, Err: err}
}

// WithHint attaches a remediation hint and returns the same *Error for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// Sentinel errors used with errors.Is across package boundaries.
var (
	ErrRootMissing         = errors.New("root missing from tracker")
	ErrNoSnapshot          = errors.New("no previous snapshot")
	ErrAlreadyInFlight     = errors.New("root already has a sync in flight")
	ErrCooldownNotElapsed  = errors.New("cooldown has not elapsed")
	ErrExtractionCapped    = errors.New("change extraction cap reached for root")
	ErrUnknownRoot         = errors.New("root is not monitored")
)

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
