package agent

import (
	"context"
	"strings"
	"time"

	"github.com/thobiasn/loglens/internal/logview"
)

const healthCheckMsg = "200 GET /healthz (172.17.0.1) 0.85ms"

var stackTrace = strings.Join([]string{
	"Caught exception in:",
	`  File "/srv/app/.venv/lib/python3.9/site-packages/promise/promise.py", line 489, in _resolve_from_executor`,
	"    executor(resolve, reject)",
	`  File "/srv/app/.venv/lib/python3.9/site-packages/promise/promise.py", line 756, in executor`,
	"    return resolve(f(*args, **kwargs))",
	`  File "/srv/app/.venv/lib/python3.9/site-packages/graphql/execution/middleware.py", line 75, in make_it_promise`,
	"    return next(*args, **kwargs)",
	`  File "/srv/app/backend/users/services.py", line 88, in wrap_function`,
	"    return function(*args, **kwargs)",
	`  File "/srv/app/backend/common/graphql/utils.py", line 170, in func_wrapper`,
	"    raise GraphQLResourceNotValidatedError(e)",
	"graphql.error.located_error.GraphQLLocatedError: File is too large. It must be at most 4gb.",
}, "\n")

// SyntheticLines generates the demo pattern for [start, end): health checks
// from replica-1 every 5s and from replica-2 two seconds later, a worker
// message once a minute and a stack trace every 30s.
func SyntheticLines(start, end int64, minLevel logview.Level) []logview.Line {
	var out []logview.Line
	emit := func(ts int64, lvl logview.Level, msg, replica string) {
		if lvl.AtLeast(minLevel) {
			out = append(out, logview.Line{TS: ts, Level: lvl, Msg: msg, Replica: replica})
		}
	}
	for ts := max(start, 0); ts < end; ts++ {
		switch ts % 5 {
		case 0:
			emit(ts, logview.Debug, healthCheckMsg, "replica-1")
		case 2:
			emit(ts, logview.Debug, healthCheckMsg, "replica-2")
		}
		if ts%60 == 34 {
			emit(ts, logview.Info, "Will fork 1 workers", "replica-1")
		}
		if ts%30 == 22 {
			emit(ts, logview.Error, stackTrace, "replica-1")
		}
	}
	return out
}

// Synthetic is a logview.Source backed by SyntheticLines.
type Synthetic struct {
	latency time.Duration
	now     func() time.Time
}

var _ logview.Source = (*Synthetic)(nil)

// NewSynthetic creates a generator that waits latency before answering.
func NewSynthetic(latency time.Duration) *Synthetic {
	return &Synthetic{latency: latency, now: time.Now}
}

// Fetch generates lines up to the current time.
func (s *Synthetic) Fetch(ctx context.Context, start, end int64, minLevel logview.Level) ([]logview.Line, error) {
	if now := s.now().Unix(); end > now {
		end = now
	}
	lines := SyntheticLines(start, end, minLevel)
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return lines, nil
}

const syntheticSource = "synthetic"

// ingestSynthetic writes generated lines from where the last run stopped up
// to now. The first run starts backfill before now.
func ingestSynthetic(ctx context.Context, store *Store, now time.Time, backfill time.Duration) (int, error) {
	end := now.Unix()
	start, err := store.IngestedUntil(ctx, syntheticSource)
	if err != nil {
		return 0, err
	}
	if floor := end - int64(backfill/time.Second); start < floor {
		start = floor
	}
	if start >= end {
		return 0, nil
	}
	n, err := store.InsertLines(ctx, SyntheticLines(start, end, logview.Debug))
	if err != nil {
		return 0, err
	}
	return n, store.SetIngestedUntil(ctx, syntheticSource, end)
}
