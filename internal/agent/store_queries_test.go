package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/thobiasn/loglens/internal/logview"
)

func TestInsertLinesSkipsDuplicates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	lines := []logview.Line{
		{TS: 1, Level: logview.Info, Msg: "hello", Replica: "web"},
		{TS: 1, Level: logview.Info, Msg: "hello", Replica: "api"},
		{TS: 2, Level: logview.Error, Msg: "boom", Replica: "web"},
	}
	n, err := s.InsertLines(ctx, lines)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("inserted = %d, want 3", n)
	}

	n, err = s.InsertLines(ctx, lines[:2])
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("re-inserted = %d, want 0", n)
	}

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&count)
	if count != 3 {
		t.Errorf("log count = %d, want 3", count)
	}
}

func TestInsertLinesEmpty(t *testing.T) {
	s := testStore(t)
	n, err := s.InsertLines(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("InsertLines(nil) = %d, %v", n, err)
	}
}

func TestQueryLinesOrderAndBounds(t *testing.T) {
	s := testStore(t)
	fixedNow(s, 1000)
	ctx := context.Background()

	// Inserted out of order; equal timestamps keep insertion order.
	s.InsertLines(ctx, []logview.Line{
		{TS: 30, Level: logview.Info, Msg: "c", Replica: "r"},
		{TS: 10, Level: logview.Info, Msg: "a", Replica: "r"},
		{TS: 20, Level: logview.Info, Msg: "b1", Replica: "r"},
		{TS: 20, Level: logview.Info, Msg: "b2", Replica: "r"},
		{TS: 40, Level: logview.Info, Msg: "end", Replica: "r"},
	})

	lines, truncated, err := s.QueryLines(ctx, LogFilter{Start: 10, End: 40})
	if err != nil {
		t.Fatal(err)
	}
	if truncated {
		t.Error("truncated = true, want false")
	}
	var got []string
	for _, l := range lines {
		got = append(got, l.Msg)
	}
	want := []string{"a", "b1", "b2", "c"}
	if len(got) != len(want) {
		t.Fatalf("msgs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("msgs = %v, want %v", got, want)
			break
		}
	}
}

func TestQueryLinesLevelFilter(t *testing.T) {
	s := testStore(t)
	fixedNow(s, 1000)
	ctx := context.Background()

	s.InsertLines(ctx, []logview.Line{
		{TS: 1, Level: logview.Debug, Msg: "d", Replica: "r"},
		{TS: 2, Level: logview.Info, Msg: "i", Replica: "r"},
		{TS: 3, Level: logview.Warning, Msg: "w", Replica: "r"},
		{TS: 4, Level: logview.Error, Msg: "e", Replica: "r"},
	})

	tests := []struct {
		min  logview.Level
		want int
	}{
		{logview.Debug, 4},
		{logview.Info, 3},
		{logview.Warning, 2},
		{logview.Error, 1},
	}
	for _, tt := range tests {
		t.Run(tt.min.String(), func(t *testing.T) {
			lines, _, err := s.QueryLines(ctx, LogFilter{Start: 0, End: 10, MinLevel: tt.min})
			if err != nil {
				t.Fatal(err)
			}
			if len(lines) != tt.want {
				t.Errorf("len = %d, want %d", len(lines), tt.want)
			}
			for _, l := range lines {
				if !l.Level.AtLeast(tt.min) {
					t.Errorf("line %q below %s", l.Msg, tt.min)
				}
			}
		})
	}
}

func TestQueryLinesClampsToNow(t *testing.T) {
	s := testStore(t)
	fixedNow(s, 100)
	ctx := context.Background()

	s.InsertLines(ctx, []logview.Line{
		{TS: 99, Level: logview.Info, Msg: "past", Replica: "r"},
		{TS: 100, Level: logview.Info, Msg: "now", Replica: "r"},
		{TS: 150, Level: logview.Info, Msg: "future", Replica: "r"},
	})

	lines, _, err := s.QueryLines(ctx, LogFilter{Start: 0, End: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0].Msg != "past" {
		t.Errorf("lines = %+v, want only past", lines)
	}

	lines, _, err = s.QueryLines(ctx, LogFilter{Start: 120, End: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Errorf("future window returned %d lines, want 0", len(lines))
	}
}

func TestQueryLinesTruncatesOldest(t *testing.T) {
	s := testStore(t)
	fixedNow(s, 1000)
	ctx := context.Background()

	var in []logview.Line
	for ts := int64(0); ts < 10; ts++ {
		in = append(in, logview.Line{TS: ts, Level: logview.Info, Msg: "x", Replica: "r"})
	}
	s.InsertLines(ctx, in)

	lines, truncated, err := s.QueryLines(ctx, LogFilter{Start: 0, End: 100, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !truncated {
		t.Error("truncated = false, want true")
	}
	if len(lines) != 3 || lines[0].TS != 7 || lines[2].TS != 9 {
		t.Errorf("lines = %+v, want ts 7..9", lines)
	}
}

func TestStoreFetch(t *testing.T) {
	s := testStore(t)
	fixedNow(s, 1000)
	s.SetFetchLimit(2)
	ctx := context.Background()

	s.InsertLines(ctx, SyntheticLines(0, 10, logview.Debug))

	lines, err := s.Fetch(ctx, 0, 10, logview.Debug)
	if err != nil {
		t.Fatal(err)
	}
	// Synthetic lines at 0, 2, 5, 7; the limit keeps the newest two.
	if len(lines) != 2 || lines[0].TS != 5 || lines[1].TS != 7 {
		t.Errorf("lines = %+v", lines)
	}
}

func TestStoreFetchLimited(t *testing.T) {
	s := testStore(t)
	fixedNow(s, 1000)
	s.SetFetchLimit(2)
	ctx := context.Background()
	s.InsertLines(ctx, SyntheticLines(0, 10, logview.Debug))

	_, truncated, err := s.FetchLimited(ctx, 0, 10, logview.Debug)
	if err != nil {
		t.Fatal(err)
	}
	if !truncated {
		t.Error("truncated = false with 4 matches and a limit of 2")
	}

	s.SetFetchLimit(10)
	lines, truncated, err := s.FetchLimited(ctx, 0, 10, logview.Debug)
	if err != nil {
		t.Fatal(err)
	}
	if truncated || len(lines) != 4 {
		t.Errorf("truncated = %v, lines = %d; want false, 4", truncated, len(lines))
	}
}

func TestStoreFetchClosedDB(t *testing.T) {
	s := testStore(t)
	s.Close()

	_, err := s.Fetch(context.Background(), 0, 10, logview.Debug)
	if err == nil {
		t.Fatal("expected error from closed store")
	}
	if errors.Unwrap(err) == nil {
		t.Errorf("err = %v, want wrapped error", err)
	}
}

func TestIngestedUntil(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	until, err := s.IngestedUntil(ctx, "synthetic")
	if err != nil || until != 0 {
		t.Fatalf("IngestedUntil on empty = %d, %v", until, err)
	}
	if err := s.SetIngestedUntil(ctx, "synthetic", 50); err != nil {
		t.Fatal(err)
	}
	if err := s.SetIngestedUntil(ctx, "synthetic", 80); err != nil {
		t.Fatal(err)
	}
	until, err = s.IngestedUntil(ctx, "synthetic")
	if err != nil || until != 80 {
		t.Errorf("IngestedUntil = %d, %v; want 80", until, err)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	const day = 86400
	fixedNow(s, 10*day)
	ctx := context.Background()

	s.InsertLines(ctx, []logview.Line{
		{TS: 1 * day, Level: logview.Info, Msg: "old", Replica: "r"},
		{TS: 8*day + 1, Level: logview.Info, Msg: "recent", Replica: "r"},
	})

	n, err := s.Prune(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	lines, _, _ := s.QueryLines(ctx, LogFilter{Start: 0, End: 10 * day})
	if len(lines) != 1 || lines[0].Msg != "recent" {
		t.Errorf("remaining = %+v", lines)
	}
}
