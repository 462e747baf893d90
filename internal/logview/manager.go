package logview

import (
	"context"
	"sort"
	"time"
)

const (
	// MergeWindow is how far back each tick re-reads from the source.
	MergeWindow = 120 * time.Second
	// PollInterval is the default tick cadence.
	PollInterval = 5 * time.Second
)

// State is the manager's lifecycle state.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Merging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Merging:
		return "merging"
	}
	return "unknown"
}

// Request describes one fetch issued by the manager.
type Request struct {
	Merge    bool
	Token    uint64 // per-stream sequence number
	Gen      uint64 // load token the request was issued under
	Range    Range
	Start    int64
	End      int64
	MinLevel Level
}

// Result is the outcome of running a Request against a Source.
type Result struct {
	Req       Request
	Lines     []Line
	Truncated bool // the source dropped the oldest matching lines
	Err       error
}

// Fetch runs req against src. It does not touch manager state and may be
// called from any goroutine.
func Fetch(ctx context.Context, src Source, req Request) Result {
	if ls, ok := src.(LimitedSource); ok {
		lines, truncated, err := ls.FetchLimited(ctx, req.Start, req.End, req.MinLevel)
		return Result{Req: req, Lines: lines, Truncated: truncated, Err: err}
	}
	lines, err := src.Fetch(ctx, req.Start, req.End, req.MinLevel)
	return Result{Req: req, Lines: lines, Err: err}
}

// Change summarizes what Apply did to the window.
type Change struct {
	Replaced bool // the whole window was swapped
	Merged   bool // the volatile suffix was reconciled
	Kept     int  // rows of the stable prefix left untouched
	Added    int  // rows that were not in the window before
}

// Manager owns the log window and its row height cache. It is driven by
// SetRange, Tick and Apply and is not safe for concurrent use.
type Manager struct {
	now         func() time.Time
	mergeWindow int64

	lines       []Line
	rng         Range // range of the current window
	want        Range // most recently requested range
	loaded      bool
	windowStart int64
	cursor      int64 // "now" of the latest tick
	synced      int64 // end of the latest applied fetch
	truncated   bool  // the window is missing lines the source dropped

	state      State
	loadToken  uint64
	mergeToken uint64
	err        error

	heights *HeightCache
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMergeWindow overrides MergeWindow. Values under a second are ignored.
func WithMergeWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d >= time.Second {
			m.mergeWindow = int64(d / time.Second)
		}
	}
}

// WithLocation sets the time zone used to format row timestamps.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) { m.heights = NewHeightCache(loc) }
}

// NewManager creates an idle manager with an empty window.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:         time.Now,
		mergeWindow: int64(MergeWindow / time.Second),
		rng:         DefaultRange,
		want:        DefaultRange,
	}
	for _, o := range opts {
		o(m)
	}
	if m.heights == nil {
		m.heights = NewHeightCache(time.Local)
	}
	return m
}

// SetRange starts a full reload of [now-r, now). Any load or merge still in
// flight becomes stale.
func (m *Manager) SetRange(r Range) Request {
	now := m.now().Unix()
	m.loadToken++
	m.want = r
	m.state = Loading
	return Request{
		Token:    m.loadToken,
		Gen:      m.loadToken,
		Range:    r,
		Start:    now - r.Seconds(),
		End:      now,
		MinLevel: Debug,
	}
}

// Retry reissues the most recently requested range.
func (m *Manager) Retry() Request {
	return m.SetRange(m.want)
}

// Tick moves the refresh cursor to now and, when the window is ready,
// returns a merge request for the recent part of it. While a load or merge
// is in flight, or before anything has loaded, it returns false.
func (m *Manager) Tick() (Request, bool) {
	now := m.now().Unix()
	m.cursor = now
	if m.state != Ready {
		return Request{}, false
	}

	start := now - m.mergeWindow
	// Reach back over ticks that never landed so no gap opens up.
	if m.synced < start {
		start = m.synced
	}
	if start < m.windowStart {
		start = m.windowStart
	}

	m.mergeToken++
	m.state = Merging
	return Request{
		Merge:    true,
		Token:    m.mergeToken,
		Gen:      m.loadToken,
		Range:    m.rng,
		Start:    start,
		End:      now,
		MinLevel: Debug,
	}, true
}

// Apply folds a fetch result into the window. It returns ErrStaleResponse
// for superseded results and a *FetchError for failed fetches; in both
// cases the window is left as it was.
func (m *Manager) Apply(res Result) (Change, error) {
	if res.Req.Merge {
		return m.applyMerge(res)
	}
	return m.applyLoad(res)
}

func (m *Manager) applyLoad(res Result) (Change, error) {
	req := res.Req
	if req.Token != m.loadToken || m.state != Loading {
		return Change{}, ErrStaleResponse
	}
	if res.Err != nil {
		m.state = m.stable()
		m.err = &FetchError{Op: "load", Start: req.Start, End: req.End, Err: res.Err}
		return Change{}, m.err
	}

	m.lines = normalize(res.Lines, req.Start, req.End)
	m.rng = req.Range
	m.loaded = true
	m.windowStart = req.Start
	m.synced = req.End
	m.truncated = res.Truncated
	if m.cursor < req.End {
		m.cursor = req.End
	}
	m.heights.Reset()
	m.state = Ready
	m.err = nil
	return Change{Replaced: true, Added: len(m.lines)}, nil
}

func (m *Manager) applyMerge(res Result) (Change, error) {
	req := res.Req
	if req.Gen != m.loadToken || req.Token != m.mergeToken || m.state != Merging {
		return Change{}, ErrStaleResponse
	}
	m.state = Ready
	if res.Err != nil {
		return Change{}, &FetchError{Op: "merge", Start: req.Start, End: req.End, Err: res.Err}
	}

	cut := sort.Search(len(m.lines), func(i int) bool { return m.lines[i].TS >= req.Start })
	fresh := normalize(res.Lines, req.Start, req.End)

	old := make(map[lineKey]struct{}, len(m.lines)-cut)
	for _, l := range m.lines[cut:] {
		old[l.key()] = struct{}{}
	}
	added := 0
	for _, l := range fresh {
		if _, ok := old[l.key()]; !ok {
			added++
		}
	}

	merged := make([]Line, 0, cut+len(fresh))
	merged = append(merged, m.lines[:cut]...)
	merged = append(merged, fresh...)
	m.lines = merged
	m.synced = req.End
	if res.Truncated {
		m.truncated = true
	}
	m.heights.Truncate(cut)
	return Change{Merged: true, Kept: cut, Added: added}, nil
}

func (m *Manager) stable() State {
	if m.loaded {
		return Ready
	}
	return Idle
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// Err returns the last load failure, cleared by the next successful load.
func (m *Manager) Err() error { return m.err }

// Range returns the range the current window was loaded with.
func (m *Manager) Range() Range { return m.rng }

// Pending returns the most recently requested range.
func (m *Manager) Pending() Range { return m.want }

// Loaded reports whether any window has been applied yet.
func (m *Manager) Loaded() bool { return m.loaded }

// WindowStart returns the lower bound of the current window.
func (m *Manager) WindowStart() int64 { return m.windowStart }

// Cursor returns the refresh cursor.
func (m *Manager) Cursor() int64 { return m.cursor }

// Lines returns the window. The slice must not be modified.
func (m *Manager) Lines() []Line { return m.lines }

// Truncated reports whether the source capped a fetch that built the
// current window, so it holds fewer lines than the range matched. A new load
// resets it.
func (m *Manager) Truncated() bool { return m.truncated }

// Len returns the number of rows in the window.
func (m *Manager) Len() int { return len(m.lines) }

// Line returns row i, or false when i is out of range.
func (m *Manager) Line(i int) (Line, bool) {
	if i < 0 || i >= len(m.lines) {
		return Line{}, false
	}
	return m.lines[i], true
}

// SetWidth changes the layout width rows are measured at.
func (m *Manager) SetWidth(w int) bool { return m.heights.SetWidth(w) }

// Width returns the layout width.
func (m *Manager) Width() int { return m.heights.Width() }

// RowHeight returns the measured height of row i.
func (m *Manager) RowHeight(i int) int { return m.heights.Height(m.lines, i) }

// RowOffset returns the top of row i.
func (m *Manager) RowOffset(i int) int { return m.heights.Offset(m.lines, i) }

// RowAt returns the row covering vertical position y.
func (m *Manager) RowAt(y int) int { return m.heights.RowAt(m.lines, y) }

// TotalHeight returns the height of the whole window.
func (m *Manager) TotalHeight() int { return m.heights.Total(m.lines) }

// Location returns the time zone rows are formatted in.
func (m *Manager) Location() *time.Location { return m.heights.loc }
