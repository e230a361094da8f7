// Package errors implements the closed error-kind taxonomy the store
// engine and its wire layer use to report failures. Every failure is
// local to the offending request: a StoreError never aborts a
// batch on its own, it is attached to the one request that produced
// it or returned as the sole error of a malformed batch.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a closed enum over every failure the store can produce.
type Kind string

const (
	KindBadIndirection             Kind = "BAD_INDIRECTION"
	KindEntityAlreadyExists         Kind = "ENTITY_ALREADY_EXISTS"
	KindEntityNotFound              Kind = "ENTITY_NOT_FOUND"
	KindEntityNameNotFound          Kind = "ENTITY_NAME_NOT_FOUND"
	KindEntityTypeNotFound          Kind = "ENTITY_TYPE_NOT_FOUND"
	KindFieldTypeNotFound           Kind = "FIELD_TYPE_NOT_FOUND"
	KindInvalidFieldType            Kind = "INVALID_FIELD_TYPE"
	KindInvalidFieldValue           Kind = "INVALID_FIELD_VALUE"
	KindInvalidNotifyConfig         Kind = "INVALID_NOTIFY_CONFIG"
	KindUnsupportedAdjustBehavior   Kind = "UNSUPPORTED_ADJUST_BEHAVIOR"
	KindValueTypeMismatch           Kind = "VALUE_TYPE_MISMATCH"
	KindBadValueCast                Kind = "BAD_VALUE_CAST"
	KindInvalidRequest              Kind = "INVALID_REQUEST"

	// Auth-layer kinds; the auth boundary package constructs
	// these but the wire codec also knows how to frame them.
	KindInvalidCredentials         Kind = "INVALID_CREDENTIALS"
	KindAccountDisabled            Kind = "ACCOUNT_DISABLED"
	KindAccountLocked              Kind = "ACCOUNT_LOCKED"
	KindSubjectNotFound            Kind = "SUBJECT_NOT_FOUND"
	KindSubjectAlreadyExists       Kind = "SUBJECT_ALREADY_EXISTS"
	KindInvalidName                Kind = "INVALID_NAME"
	KindInvalidPassword            Kind = "INVALID_PASSWORD"
	KindInvalidAuthenticationMethod Kind = "INVALID_AUTHENTICATION_METHOD"
)

// BadIndirectionReason enumerates why an indirection path failed to
// resolve.
type BadIndirectionReason string

const (
	ReasonNegativeIndex           BadIndirectionReason = "NEGATIVE_INDEX"
	ReasonArrayIndexOutOfBounds   BadIndirectionReason = "ARRAY_INDEX_OUT_OF_BOUNDS"
	ReasonEmptyReference          BadIndirectionReason = "EMPTY_REFERENCE"
	ReasonInvalidEntityID         BadIndirectionReason = "INVALID_ENTITY_ID"
	ReasonUnexpectedValueType     BadIndirectionReason = "UNEXPECTED_VALUE_TYPE"
	ReasonExpectedIndexAfterList  BadIndirectionReason = "EXPECTED_INDEX_AFTER_LIST"
	ReasonFailedToResolveField    BadIndirectionReason = "FAILED_TO_RESOLVE_FIELD"
)

// StoreError is the single error type every store-facing package
// returns. It carries enough context to both log structured fields
// and render a QRESP `!<code> <msg>` error frame.
type StoreError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured detail and returns the receiver for
// chaining, mirroring the teacher's BusinessError.WithDetail.
func (e *StoreError) WithDetail(key string, value any) *StoreError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *StoreError {
	return &StoreError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *StoreError {
	return &StoreError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a *StoreError of the given kind.
func Is(err error, kind Kind) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

func BadIndirection(entity fmt.Stringer, path string, reason BadIndirectionReason) *StoreError {
	return New(KindBadIndirection, fmt.Sprintf("bad indirection for %s path %q: %s", entity, path, reason)).
		WithDetail("entity_id", entity.String()).
		WithDetail("path", path).
		WithDetail("reason", string(reason))
}

func EntityNotFound(id fmt.Stringer) *StoreError {
	return New(KindEntityNotFound, fmt.Sprintf("entity not found: %s", id)).WithDetail("entity_id", id.String())
}

func EntityAlreadyExists(id fmt.Stringer) *StoreError {
	return New(KindEntityAlreadyExists, fmt.Sprintf("entity already exists: %s", id)).WithDetail("entity_id", id.String())
}

func EntityTypeNotFound(name string) *StoreError {
	return New(KindEntityTypeNotFound, fmt.Sprintf("entity type not found: %s", name)).WithDetail("entity_type", name)
}

func FieldTypeNotFound(name string) *StoreError {
	return New(KindFieldTypeNotFound, fmt.Sprintf("field type not found: %s", name)).WithDetail("field_type", name)
}

func InvalidFieldValue(msg string) *StoreError {
	return New(KindInvalidFieldValue, msg)
}

func InvalidNotifyConfig(msg string) *StoreError {
	return New(KindInvalidNotifyConfig, msg)
}

func UnsupportedAdjustBehavior(entity, field, behavior string) *StoreError {
	return New(KindUnsupportedAdjustBehavior, fmt.Sprintf("unsupported adjust behavior %s for %s.%s", behavior, entity, field)).
		WithDetail("entity_id", entity).WithDetail("field_type", field).WithDetail("behavior", behavior)
}

func ValueTypeMismatch(entity, field string, got, expected string) *StoreError {
	return New(KindValueTypeMismatch, fmt.Sprintf("value type mismatch for %s.%s: got %s, expected %s", entity, field, got, expected)).
		WithDetail("entity_id", entity).WithDetail("field_type", field).WithDetail("got", got).WithDetail("expected", expected)
}

func BadValueCast(got, expected string) *StoreError {
	return New(KindBadValueCast, fmt.Sprintf("bad value cast: got %s, expected %s", got, expected))
}

func InvalidRequest(msg string) *StoreError {
	return New(KindInvalidRequest, msg)
}

// WireCode returns the RESP error-frame code for kind.
func WireCode(kind Kind) string {
	return string(kind)
}
