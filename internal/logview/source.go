package logview

import "context"

// Source returns log lines for [start, end) with at least minLevel severity,
// ordered by timestamp. Implementations clamp end to the current time and
// return an error on transport failure; retrying is up to the caller.
type Source interface {
	Fetch(ctx context.Context, start, end int64, minLevel Level) ([]Line, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context, start, end int64, minLevel Level) ([]Line, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, start, end int64, minLevel Level) ([]Line, error) {
	return f(ctx, start, end, minLevel)
}

// LimitedSource is a Source whose backend caps the number of lines per
// query. FetchLimited keeps the newest lines and reports whether older
// matching lines were dropped.
type LimitedSource interface {
	Source
	FetchLimited(ctx context.Context, start, end int64, minLevel Level) (lines []Line, truncated bool, err error)
}
