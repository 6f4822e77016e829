/*
errors.go - Centralized error types for the campus engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every engine returns one of the typed errors below; the transport maps
  them to status codes through KindOf.

ERROR CATEGORIES:
  1. Client errors - Validation, not found, conflict, insufficient funds,
     payload too large, unauthenticated, forbidden
  2. Store errors - Duplicate key, document too large, concurrent
     modification, no document. Engines translate these.
  3. Internal errors - Anything unexpected, wrapped with the operation name

USAGE:
  Engines translate store errors into domain errors:

    if errors.Is(err, generic.ErrDuplicateKey) {
        return &generic.ConflictError{Resource: "guardian", Reason: "contact already registered"}
    }

  Callers branch on kinds:

    if generic.IsNotFound(err) {
        ...
    }

SEE ALSO:
  - store.go: Store implementations return the store sentinels
  - api/errors.go: Maps kinds to HTTP status codes
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a payload fails schema or business checks.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced document does not exist
	// or lies outside the caller's organization.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientFunds is returned when a debit exceeds the account balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPayloadTooLarge is returned when a document exceeds the store limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnauthenticated is returned when credentials or tokens are invalid.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the caller's role may not perform an operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInternal is returned for unexpected failures.
	ErrInternal = errors.New("internal error")
)

// Store-level sentinels. Engines never return these directly.
var (
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDocumentTooLarge is returned when an encoded document exceeds the limit.
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNoDocument is returned by FetchOne when nothing matches.
	ErrNoDocument = errors.New("no document")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		if f.Field == "" {
			parts[i] = f.Message
			continue
		}
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       ID
}

func (e *NotFoundError) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError describes a uniqueness violation in domain terms.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID ID
	Available Money
	Requested Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Shortfall returns how much more the account would need.
func (e *InsufficientFundsError) Shortfall() Money {
	return e.Requested.Sub(e.Available)
}

// PayloadTooLargeError reports a document that exceeded the store limit.
type PayloadTooLargeError struct {
	Collection string
	Size       int
	Limit      int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("%s document is %d bytes, limit is %d", e.Collection, e.Size, e.Limit)
}

// Unwrap exposes both the domain and the store sentinel.
func (e *PayloadTooLargeError) Unwrap() []error {
	return []error{ErrPayloadTooLarge, ErrDocumentTooLarge}
}

// DuplicateKeyError is the store-level unique index violation.
type DuplicateKeyError struct {
	Collection string
	Index      string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key in %s (index %s)", e.Collection, e.Index)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// PermissionError reports a role that may not perform an operation.
type PermissionError struct {
	Role      string
	Operation string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Operation)
}

func (e *PermissionError) Unwrap() error {
	return ErrForbidden
}

// InternalError wraps an unexpected failure with the operation name.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() []error {
	return []error{ErrInternal, e.Err}
}

// =============================================================================
// KINDS - Coarse classification for transports and metrics
// =============================================================================

// Kind classifies an error for status mapping.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindPayloadTooLarge
	KindUnauthenticated
	KindForbidden
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// KindOf classifies err. Store sentinels that leak past an engine are
// classified by their domain meaning.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInternal):
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoDocument):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicateKey):
		return KindConflict
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrPayloadTooLarge):
		return KindPayloadTooLarge
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindNone, KindInternal:
		return false
	default:
		return true
	}
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// Internal wraps err as an InternalError unless it already carries a
// domain kind. Context cancellation is always internal.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &InternalError{Op: op, Err: err}
	}
	if KindOf(err) != KindInternal {
		return err
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}
