// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	// Task correlation
	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task.id", taskID))
	}

	// Request ID
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type taskCtxKey struct{}
type requestCtxKey struct{}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates a task or request ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// TaskIDFromContext extracts task ID from context.
func TaskIDFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(taskCtxKey{}).(string); ok {
		return t
	}
	return ""
}

// WithTaskID adds task ID to context.
// Panics if taskID is empty or contains invalid characters.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if err := validateID(taskID, "taskID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
