package common

import (
	"context"
)

// contextKey is a private type for context keys used in this package
type contextKey string

// Keys for context values
const (
	workerIDKey contextKey = "worker_id"
)

// WithWorkerID returns a new context with the given worker ID
func WithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// GetWorkerID retrieves the worker ID from the context
// Returns the worker ID and a boolean indicating if it was found
func GetWorkerID(ctx context.Context) (int, bool) {
	workerID, ok := ctx.Value(workerIDKey).(int)
	return workerID, ok
}

