package runlog

import (
	"context"
)

type contextKey struct{}

// NewContext binds a run logger to the context so collaborators can record
// their API calls against the active run.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the run logger bound to ctx, or nil. A nil logger is
// safe to call; its methods no-op.
func FromContext(ctx context.Context) *Logger {
	l, _ := ctx.Value(contextKey{}).(*Logger)
	return l
}
