package catalog

import (
	"context"
	"errors"
	"fmt"
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout FetchErrorKind = "Timeout"
	FetchBlocked FetchErrorKind = "Blocked"
	FetchHTTP    FetchErrorKind = "HttpError"
)

// FetchError is returned once a page could not be retrieved within the retry budget.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches another *FetchError of the same kind; an empty kind matches any.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// PaginationErrorKind classifies pagination aborts.
type PaginationErrorKind string

// Pagination failure kinds.
const (
	CycleDetected     PaginationErrorKind = "CycleDetected"
	PageLimitExceeded PaginationErrorKind = "PageLimitExceeded"
)

// PaginationError stops a listing walk that would otherwise not terminate.
type PaginationError struct {
	Kind PaginationErrorKind
	URL  string
	Page int
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("paginate %s: %s at page %d", e.URL, e.Kind, e.Page)
}

// Is matches another *PaginationError of the same kind; an empty kind matches any.
func (e *PaginationError) Is(target error) bool {
	t, ok := target.(*PaginationError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// ParseErrorKind classifies detail extraction failures.
type ParseErrorKind string

// Parse failure kinds.
const (
	MissingField     ParseErrorKind = "MissingField"
	UnexpectedFormat ParseErrorKind = "UnexpectedFormat"
)

// ParseError is scoped to a single listing item.
type ParseError struct {
	Kind  ParseErrorKind
	Field string
	URL   string
	Err   error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s %s", e.URL, e.Kind, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches another *ParseError of the same kind; an empty kind matches any.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// ValidationError rejects a record before it reaches the catalog.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches any *ValidationError, or one for the same field.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && (t.Field == "" || t.Field == e.Field)
}

// PublishErrorKind classifies message channel failures.
type PublishErrorKind string

// Publish failure kinds.
const (
	PublishTransient PublishErrorKind = "Transient"
	PublishPermanent PublishErrorKind = "Permanent"
)

// PublishError wraps a failed event publication.
type PublishError struct {
	Kind  PublishErrorKind
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	msg := fmt.Sprintf("publish to %s: %s", e.Topic, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

// Is matches another *PublishError of the same kind; an empty kind matches any.
func (e *PublishError) Is(target error) bool {
	t, ok := target.(*PublishError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// StorageErrorKind classifies persistence failures.
type StorageErrorKind string

// Storage failure kinds.
const (
	StorageNotFound  StorageErrorKind = "NotFound"
	StorageIOFailure StorageErrorKind = "IOFailure"
)

// StorageError wraps blob, session and catalog store failures.
type StorageError struct {
	Kind StorageErrorKind
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage %s: %s", e.Path, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches another *StorageError of the same kind; an empty kind matches any.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// ImageUploadError carries the album sku and image URL that failed.
type ImageUploadError struct {
	SKU string
	URL string
	Err error
}

func (e *ImageUploadError) Error() string {
	return fmt.Sprintf("upload image %s for sku %s: %v", e.URL, e.SKU, e.Err)
}

func (e *ImageUploadError) Unwrap() error { return e.Err }

// InvalidTransitionError rejects a session status change outside the state machine.
type InvalidTransitionError struct {
	SessionID string
	From      SessionStatus
	To        SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition %s -> %s", e.SessionID, e.From, e.To)
}

// Is matches any *InvalidTransitionError.
func (e *InvalidTransitionError) Is(target error) bool {
	_, ok := target.(*InvalidTransitionError)
	return ok
}

// Sentinels for errors.Is checks.
var (
	ErrFetchTimeout      error = &FetchError{Kind: FetchTimeout}
	ErrBlocked           error = &FetchError{Kind: FetchBlocked}
	ErrHTTP              error = &FetchError{Kind: FetchHTTP}
	ErrCycleDetected     error = &PaginationError{Kind: CycleDetected}
	ErrPageLimitExceeded error = &PaginationError{Kind: PageLimitExceeded}
	ErrMissingField      error = &ParseError{Kind: MissingField}
	ErrUnexpectedFormat  error = &ParseError{Kind: UnexpectedFormat}
	ErrValidation        error = &ValidationError{}
	ErrPublishTransient  error = &PublishError{Kind: PublishTransient}
	ErrPublishPermanent  error = &PublishError{Kind: PublishPermanent}
	ErrNotFound          error = &StorageError{Kind: StorageNotFound}
	ErrIOFailure         error = &StorageError{Kind: StorageIOFailure}
	ErrInvalidTransition error = &InvalidTransitionError{}
)

// ErrorKind maps an error onto its taxonomy label, e.g. "FetchError.Blocked".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		fetchErr      *FetchError
		paginationErr *PaginationError
		parseErr      *ParseError
		validationErr *ValidationError
		publishErr    *PublishError
		storageErr    *StorageError
		imageErr      *ImageUploadError
		transitionErr *InvalidTransitionError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "FetchError." + string(fetchErr.Kind)
	case errors.As(err, &paginationErr):
		return "PaginationError." + string(paginationErr.Kind)
	case errors.As(err, &parseErr):
		return "ParseError." + string(parseErr.Kind)
	case errors.As(err, &validationErr):
		return "ValidationError." + validationErr.Field
	case errors.As(err, &publishErr):
		return "PublishError." + string(publishErr.Kind)
	case errors.As(err, &storageErr):
		return "StorageError." + string(storageErr.Kind)
	case errors.As(err, &imageErr):
		return "ImageUploadError"
	case errors.As(err, &transitionErr):
		return "InvalidTransition"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	default:
		return "Unknown"
	}
}
