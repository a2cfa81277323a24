package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindIneligible
	KindConflict
	KindNotFound
	KindValidation
	KindStale
)

// IneligibleError is returned when too few participants are present and
// online for a session or competition to start.
type IneligibleError struct {
	Online   int
	Required int
	Reason   string
}

func (e *IneligibleError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("need at least %d online participants (%d of %d online)", e.Required, e.Online, e.Required)
}

// ConflictError is returned when an exclusive resource is already active.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Resource, e.Message)
}

// NotFoundError is returned for an unknown room, session or competition.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ValidationError is returned for malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StaleEventError marks an event whose sequence number was already applied.
// It never leaves the reconciler.
type StaleEventError struct {
	Seq  uint64
	Last uint64
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("stale event %d (last applied %d)", e.Seq, e.Last)
}

func Ineligible(online, required int, reason string) *IneligibleError {
	return &IneligibleError{Online: online, Required: required, Reason: reason}
}

func Conflictf(resource, format string, args ...any) *ConflictError {
	return &ConflictError{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func Validation(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf walks the wrap chain and reports the first recognised kind.
func KindOf(err error) Kind {
	var (
		ineligible *IneligibleError
		conflict   *ConflictError
		notFound   *NotFoundError
		validation *ValidationError
		stale      *StaleEventError
	)
	switch {
	case err == nil:
		return KindInternal
	case stderrors.As(err, &ineligible):
		return KindIneligible
	case stderrors.As(err, &conflict):
		return KindConflict
	case stderrors.As(err, &notFound):
		return KindNotFound
	case stderrors.As(err, &validation):
		return KindValidation
	case stderrors.As(err, &stale):
		return KindStale
	default:
		return KindInternal
	}
}

func IsIneligible(err error) bool { return KindOf(err) == KindIneligible }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsStale(err error) bool      { return KindOf(err) == KindStale }
