package logview

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeClock struct{ t int64 }

func (c *fakeClock) now() time.Time { return time.Unix(c.t, 0) }

// healthSource emits a replica-1 line when ts%5==0 and a replica-2 line when
// ts%5==2, starting at ts 0.
func healthSource() Source {
	return SourceFunc(func(_ context.Context, start, end int64, _ Level) ([]Line, error) {
		var out []Line
		for ts := max(start, 0); ts < end; ts++ {
			switch ts % 5 {
			case 0:
				out = append(out, Line{TS: ts, Level: Debug, Msg: "200 GET /healthz", Replica: "replica-1"})
			case 2:
				out = append(out, Line{TS: ts, Level: Debug, Msg: "200 GET /healthz", Replica: "replica-2"})
			}
		}
		return out, nil
	})
}

// cappedSource keeps only the newest limit lines of src, like an agent with
// a row limit.
type cappedSource struct {
	src   Source
	limit int
}

func (c cappedSource) Fetch(ctx context.Context, start, end int64, minLevel Level) ([]Line, error) {
	lines, _, err := c.FetchLimited(ctx, start, end, minLevel)
	return lines, err
}

func (c cappedSource) FetchLimited(ctx context.Context, start, end int64, minLevel Level) ([]Line, bool, error) {
	lines, err := c.src.Fetch(ctx, start, end, minLevel)
	if err != nil || len(lines) <= c.limit {
		return lines, false, err
	}
	return lines[len(lines)-c.limit:], true, nil
}

func testManager(t *testing.T, now int64) (*Manager, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: now}
	return NewManager(WithClock(clk.now), WithLocation(time.UTC)), clk
}

func load(t *testing.T, m *Manager, src Source, r Range) Change {
	t.Helper()
	req := m.SetRange(r)
	c, err := m.Apply(Fetch(context.Background(), src, req))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func tick(t *testing.T, m *Manager, src Source) (Change, error) {
	t.Helper()
	req, ok := m.Tick()
	if !ok {
		t.Fatalf("tick not issued in state %s", m.State())
	}
	return m.Apply(Fetch(context.Background(), src, req))
}

func checkInvariants(t *testing.T, lines []Line) {
	t.Helper()
	seen := make(map[lineKey]bool)
	for i, l := range lines {
		if seen[l.key()] {
			t.Errorf("duplicate line %+v at %d", l, i)
		}
		seen[l.key()] = true
		if i > 0 && l.TS < lines[i-1].TS {
			t.Errorf("ts decreases at %d: %d < %d", i, l.TS, lines[i-1].TS)
		}
	}
}

func TestHealthCheckScenario(t *testing.T) {
	m, _ := testManager(t, 5)
	src := healthSource()

	req := m.SetRange(LastMinute)
	if req.MinLevel != Debug {
		t.Errorf("min level = %s, want DEBUG", req.MinLevel)
	}
	if _, err := m.Apply(Fetch(context.Background(), src, req)); err != nil {
		t.Fatal(err)
	}

	lines := m.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].TS != 0 || lines[0].Replica != "replica-1" {
		t.Errorf("lines[0] = %+v, want ts 0 from replica-1", lines[0])
	}
	if lines[1].TS != 2 || lines[1].Replica != "replica-2" {
		t.Errorf("lines[1] = %+v, want ts 2 from replica-2", lines[1])
	}
}

func TestSetRangeRoundTrip(t *testing.T) {
	for _, r := range Ranges {
		t.Run(r.Short(), func(t *testing.T) {
			now := int64(1_700_000_000)
			m, _ := testManager(t, now)
			// The source ignores the bounds and returns data around them.
			src := SourceFunc(func(_ context.Context, start, end int64, _ Level) ([]Line, error) {
				return []Line{
					{TS: start - 1, Msg: "before"},
					{TS: start, Msg: "first"},
					{TS: end - 1, Msg: "last"},
					{TS: end, Msg: "after"},
				}, nil
			})
			load(t, m, src, r)

			windowStart := now - r.Seconds()
			if m.WindowStart() != windowStart {
				t.Errorf("window start = %d, want %d", m.WindowStart(), windowStart)
			}
			if m.Len() != 2 {
				t.Errorf("lines = %d, want 2", m.Len())
			}
			for _, l := range m.Lines() {
				if l.TS < windowStart || l.TS >= now {
					t.Errorf("line %+v outside [%d, %d)", l, windowStart, now)
				}
			}
			if m.State() != Ready {
				t.Errorf("state = %s, want ready", m.State())
			}
		})
	}
}

func TestLoadSortsAndDedups(t *testing.T) {
	m, _ := testManager(t, 100)
	src := SourceFunc(func(context.Context, int64, int64, Level) ([]Line, error) {
		return []Line{
			{TS: 50, Msg: "b", Replica: "r1"},
			{TS: 40, Msg: "a", Replica: "r1"},
			{TS: 50, Msg: "b", Replica: "r1"},
			{TS: 50, Msg: "b", Replica: "r2"},
			{TS: 50, Msg: "c", Replica: "r1"},
		}, nil
	})
	load(t, m, src, LastMinute)

	want := []string{"a", "b", "b", "c"}
	if m.Len() != len(want) {
		t.Fatalf("lines = %d, want %d", m.Len(), len(want))
	}
	for i, l := range m.Lines() {
		if l.Msg != want[i] {
			t.Errorf("lines[%d].Msg = %q, want %q", i, l.Msg, want[i])
		}
	}
	// Ties keep source order.
	if m.Lines()[1].Replica != "r1" || m.Lines()[2].Replica != "r2" {
		t.Errorf("tie order = %s,%s, want r1,r2", m.Lines()[1].Replica, m.Lines()[2].Replica)
	}
	checkInvariants(t, m.Lines())
}

func TestTickIdempotent(t *testing.T) {
	m, clk := testManager(t, 1000)
	src := healthSource()
	load(t, m, src, Last5Minutes)
	before := append([]Line(nil), m.Lines()...)

	for i := 0; i < 2; i++ {
		c, err := tick(t, m, src)
		if err != nil {
			t.Fatal(err)
		}
		if c.Added != 0 {
			t.Errorf("tick %d added = %d, want 0", i, c.Added)
		}
	}
	if clk.t != 1000 {
		t.Fatal("clock moved")
	}
	if len(m.Lines()) != len(before) {
		t.Fatalf("lines = %d, want %d", len(m.Lines()), len(before))
	}
	for i := range before {
		if m.Lines()[i] != before[i] {
			t.Errorf("lines[%d] = %+v, want %+v", i, m.Lines()[i], before[i])
		}
	}
	checkInvariants(t, m.Lines())
}

func TestMergeKeepsStablePrefix(t *testing.T) {
	const t0 = int64(10_000)
	m, clk := testManager(t, t0+151)

	// Window with one line per 10s over [t0, t0+150].
	var initial []Line
	for ts := t0; ts <= t0+150; ts += 10 {
		initial = append(initial, Line{TS: ts, Msg: fmt.Sprintf("old %d", ts-t0), Replica: "r1"})
	}
	load(t, m, SourceFunc(func(context.Context, int64, int64, Level) ([]Line, error) {
		return initial, nil
	}), Last5Minutes)

	clk.t = t0 + 200
	var gotStart, gotEnd int64
	fresh := SourceFunc(func(_ context.Context, start, end int64, _ Level) ([]Line, error) {
		gotStart, gotEnd = start, end
		return []Line{
			{TS: t0 + 85, Msg: "new 85", Replica: "r1"},
			{TS: t0 + 190, Msg: "new 190", Replica: "r1"},
		}, nil
	})
	c, err := tick(t, m, fresh)
	if err != nil {
		t.Fatal(err)
	}
	if gotStart != t0+80 || gotEnd != t0+200 {
		t.Errorf("fetch = [%d, %d), want [%d, %d)", gotStart, gotEnd, t0+80, t0+200)
	}

	// Prefix ts < t0+80: t0, t0+10, ..., t0+70.
	if c.Kept != 8 {
		t.Errorf("kept = %d, want 8", c.Kept)
	}
	if c.Added != 2 {
		t.Errorf("added = %d, want 2", c.Added)
	}
	lines := m.Lines()
	for i := 0; i < 8; i++ {
		if lines[i] != initial[i] {
			t.Errorf("prefix[%d] = %+v, want %+v", i, lines[i], initial[i])
		}
	}
	rest := lines[8:]
	if len(rest) != 2 || rest[0].Msg != "new 85" || rest[1].Msg != "new 190" {
		t.Errorf("suffix = %+v, want the fresh fetch", rest)
	}
	if m.WindowStart() != t0+151-300 {
		t.Errorf("window start drifted to %d", m.WindowStart())
	}
	if m.Cursor() != t0+200 {
		t.Errorf("cursor = %d, want %d", m.Cursor(), t0+200)
	}
	checkInvariants(t, lines)
}

func TestRaceSafety(t *testing.T) {
	tagged := func(tag string) Source {
		return SourceFunc(func(_ context.Context, start, end int64, _ Level) ([]Line, error) {
			return []Line{{TS: end - 1, Msg: tag}}, nil
		})
	}

	// Both resolution orders end up showing only B.
	for _, aFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("aFirst=%v", aFirst), func(t *testing.T) {
			m, _ := testManager(t, 5000)
			reqA := m.SetRange(Last24Hours)
			reqB := m.SetRange(LastMinute)
			resA := Fetch(context.Background(), tagged("A"), reqA)
			resB := Fetch(context.Background(), tagged("B"), reqB)

			order := []Result{resA, resB}
			if !aFirst {
				order = []Result{resB, resA}
			}
			for _, res := range order {
				_, err := m.Apply(res)
				if res.Req.Token == reqA.Token && !errors.Is(err, ErrStaleResponse) {
					t.Errorf("apply A err = %v, want ErrStaleResponse", err)
				}
				if res.Req.Token == reqB.Token && err != nil {
					t.Errorf("apply B err = %v", err)
				}
			}
			if m.Len() != 1 || m.Lines()[0].Msg != "B" {
				t.Errorf("window = %+v, want only B", m.Lines())
			}
			if m.Range() != LastMinute {
				t.Errorf("range = %s, want %s", m.Range(), LastMinute)
			}
		})
	}
}

func TestLoadFailureKeepsWindow(t *testing.T) {
	m, _ := testManager(t, 1000)
	src := healthSource()
	load(t, m, src, Last5Minutes)
	before := m.Len()

	boom := errors.New("connection refused")
	req := m.SetRange(LastHour)
	if m.State() != Loading {
		t.Fatalf("state = %s, want loading", m.State())
	}
	_, err := m.Apply(Result{Req: req, Err: boom})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Op != "load" {
		t.Fatalf("err = %v, want load FetchError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("FetchError does not unwrap to the source error")
	}
	if m.Len() != before {
		t.Errorf("lines = %d, want %d", m.Len(), before)
	}
	if m.State() != Ready {
		t.Errorf("state = %s, want ready", m.State())
	}
	if m.Range() != Last5Minutes || m.Pending() != LastHour {
		t.Errorf("range = %s pending = %s, want %s / %s", m.Range(), m.Pending(), Last5Minutes, LastHour)
	}
	if m.Err() == nil {
		t.Error("Err() = nil after failed load")
	}

	// Retry reissues the pending range and clears the error on success.
	req = m.Retry()
	if req.Range != LastHour {
		t.Errorf("retry range = %s, want %s", req.Range, LastHour)
	}
	if _, err := m.Apply(Fetch(context.Background(), src, req)); err != nil {
		t.Fatal(err)
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v after successful retry", m.Err())
	}
}

func TestFirstLoadFailureReturnsToIdle(t *testing.T) {
	m, _ := testManager(t, 1000)
	req := m.SetRange(DefaultRange)
	if _, err := m.Apply(Result{Req: req, Err: context.DeadlineExceeded}); err == nil {
		t.Fatal("expected error")
	}
	if m.State() != Idle {
		t.Errorf("state = %s, want idle", m.State())
	}
	if _, ok := m.Tick(); ok {
		t.Error("tick issued without a window")
	}
	if m.Cursor() != 1000 {
		t.Errorf("cursor = %d, want 1000", m.Cursor())
	}
}

func TestMergeFailureSkipsTick(t *testing.T) {
	m, clk := testManager(t, 1000)
	src := healthSource()
	load(t, m, src, Last5Minutes)
	before := append([]Line(nil), m.Lines()...)

	clk.t = 1005
	req, ok := m.Tick()
	if !ok {
		t.Fatal("tick not issued")
	}
	if m.State() != Merging {
		t.Errorf("state = %s, want merging", m.State())
	}
	_, err := m.Apply(Result{Req: req, Err: errors.New("timeout")})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Op != "merge" {
		t.Fatalf("err = %v, want merge FetchError", err)
	}
	if m.State() != Ready {
		t.Errorf("state = %s, want ready", m.State())
	}
	if m.Err() != nil {
		t.Errorf("merge failure surfaced as %v", m.Err())
	}
	if len(m.Lines()) != len(before) {
		t.Errorf("lines = %d, want %d", len(m.Lines()), len(before))
	}
	if m.Cursor() != 1005 {
		t.Errorf("cursor = %d, want 1005", m.Cursor())
	}

	// Next tick retries.
	clk.t = 1010
	c, err := tick(t, m, src)
	if err != nil {
		t.Fatal(err)
	}
	if c.Added != 4 {
		t.Errorf("added = %d, want 4", c.Added)
	}
	checkInvariants(t, m.Lines())
}

func TestMergeReachesBackOverFailedTicks(t *testing.T) {
	m, clk := testManager(t, 1000)
	load(t, m, healthSource(), LastHour)

	clk.t = 1300
	req, ok := m.Tick()
	if !ok {
		t.Fatal("tick not issued")
	}
	if req.Start != 1000 {
		t.Errorf("merge start = %d, want 1000", req.Start)
	}
}

func TestStaleMergeAfterRangeChange(t *testing.T) {
	m, clk := testManager(t, 1000)
	src := healthSource()
	load(t, m, src, Last5Minutes)

	clk.t = 1005
	mreq, ok := m.Tick()
	if !ok {
		t.Fatal("tick not issued")
	}
	lreq := m.SetRange(LastMinute)
	if _, ok := m.Tick(); ok {
		t.Error("tick issued while loading")
	}

	if _, err := m.Apply(Fetch(context.Background(), src, mreq)); !errors.Is(err, ErrStaleResponse) {
		t.Errorf("merge err = %v, want ErrStaleResponse", err)
	}
	c, err := m.Apply(Fetch(context.Background(), src, lreq))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Replaced {
		t.Error("load did not replace the window")
	}
	if m.WindowStart() != 1005-60 {
		t.Errorf("window start = %d, want %d", m.WindowStart(), 1005-60)
	}
}

func TestTickSkippedWhileMerging(t *testing.T) {
	m, _ := testManager(t, 1000)
	load(t, m, healthSource(), Last5Minutes)
	if _, ok := m.Tick(); !ok {
		t.Fatal("first tick not issued")
	}
	if _, ok := m.Tick(); ok {
		t.Error("second tick issued while a merge is in flight")
	}
}

func TestMergeTruncatesHeights(t *testing.T) {
	m, clk := testManager(t, 1000)
	m.SetWidth(80)
	load(t, m, healthSource(), Last5Minutes)
	total := m.TotalHeight()
	if got := m.heights.Measured(); got != m.Len() {
		t.Fatalf("measured = %d, want %d", got, m.Len())
	}

	clk.t = 1010
	c, err := tick(t, m, healthSource())
	if err != nil {
		t.Fatal(err)
	}
	if got := m.heights.Measured(); got != c.Kept {
		t.Errorf("measured after merge = %d, want %d", got, c.Kept)
	}
	if got := m.TotalHeight(); got != total+4 {
		t.Errorf("total = %d, want %d", got, total+4)
	}

	load(t, m, healthSource(), LastMinute)
	if got := m.heights.Measured(); got != 0 {
		t.Errorf("measured after reload = %d, want 0", got)
	}
}

func TestTruncatedLoad(t *testing.T) {
	m, _ := testManager(t, 1000)
	load(t, m, cappedSource{src: healthSource(), limit: 10}, Last5Minutes)
	if !m.Truncated() {
		t.Error("Truncated() = false after a capped load")
	}
	if m.Len() != 10 {
		t.Errorf("lines = %d, want 10", m.Len())
	}
	if l, _ := m.Line(m.Len() - 1); l.TS != 997 {
		t.Errorf("newest ts = %d, want 997", l.TS)
	}

	// A complete reload clears the flag.
	load(t, m, healthSource(), LastMinute)
	if m.Truncated() {
		t.Error("Truncated() still set after a complete load")
	}
}

func TestTruncatedMerge(t *testing.T) {
	m, clk := testManager(t, 1000)
	load(t, m, healthSource(), Last5Minutes)

	clk.t = 1010
	if _, err := tick(t, m, cappedSource{src: healthSource(), limit: 5}); err != nil {
		t.Fatal(err)
	}
	if !m.Truncated() {
		t.Error("Truncated() = false after a capped merge")
	}

	// Lines dropped below the next merge window stay missing.
	clk.t = 1015
	if _, err := tick(t, m, healthSource()); err != nil {
		t.Fatal(err)
	}
	if !m.Truncated() {
		t.Error("Truncated() cleared by a merge")
	}
}
