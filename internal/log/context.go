package log

import "context"

type loggerKey struct{}

// WithContext attaches l to ctx. httpmw.WithLogger uses it to hand each
// request a logger already carrying the request's fields.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger attached to ctx. Code reached outside a
// request (or from tests) gets Nop, so callers never check for nil.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}
