package logging

import "context"

type contextKey int

const (
	loggerKey contextKey = iota
	candidateKey
)

// WithLoggerCtx returns a context carrying l.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithCandidateCtx returns a context carrying the candidate key currently
// being processed.
func WithCandidateCtx(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, candidateKey, key)
}

// CandidateFromCtx returns the candidate key stored in ctx, or "".
func CandidateFromCtx(ctx context.Context) string {
	key, _ := ctx.Value(candidateKey).(string)
	return key
}

// FromCtx returns the logger stored in ctx, falling back to base and then
// to the global logger. A candidate key in ctx is stamped on the result.
func FromCtx(ctx context.Context, base *Logger) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	if key := CandidateFromCtx(ctx); key != "" && key != l.scope.candidate {
		l = l.WithCandidate(key)
	}
	return l
}
