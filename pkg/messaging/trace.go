package messaging

import "context"

type traceKey struct{}

// WithTraceID returns a context carrying the given trace id. The id travels
// with the context for the scope of one processing call, replacing the
// thread-local binding used by MDC-style loggers.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id carried by ctx, or "" when none is set.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
