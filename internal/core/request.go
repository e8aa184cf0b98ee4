package core

import "context"

type ctxKey int

const correlationIDKey ctxKey = iota

// WithCorrelationID attaches the request correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the request correlation ID, or "" when the
// request carries none (internal calls, tests).
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
