package errors

import (
	"context"

	"github.com/google/uuid"
)

// contextKey namespaces values this package stashes on a context.Context.
type contextKey string

const (
	// RequestIDKey carries the correlation id stamped on a PerformMut batch.
	RequestIDKey contextKey = "request_id"
	// OperationKey carries the name of the request variant being executed.
	OperationKey contextKey = "operation"
	// SubjectIDKey carries the authenticated subject's entity id, if any.
	SubjectIDKey contextKey = "subject_id"
)

func getRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func getOperationFromContext(ctx context.Context) string {
	if operation, ok := ctx.Value(OperationKey).(string); ok {
		return operation
	}
	return ""
}

func getSubjectIDFromContext(ctx context.Context) string {
	if subjectID, ok := ctx.Value(SubjectIDKey).(uuid.UUID); ok {
		return subjectID.String()
	}
	if subjectID, ok := ctx.Value(SubjectIDKey).(string); ok {
		return subjectID
	}
	return ""
}

// WithRequestID returns a context carrying requestID for logging/tracing.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithOperation returns a context carrying the operation name.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithSubjectID returns a context carrying the authenticated subject.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, SubjectIDKey, subjectID)
}

// RequestID extracts the correlation id stamped by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	return getRequestIDFromContext(ctx)
}

// Operation extracts the operation name stamped by WithOperation, if any.
func Operation(ctx context.Context) string {
	return getOperationFromContext(ctx)
}

// SubjectID extracts the authenticated subject id, if any.
func SubjectID(ctx context.Context) string {
	return getSubjectIDFromContext(ctx)
}
