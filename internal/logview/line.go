package logview

import (
	"cmp"
	"slices"
)

// Line is a single log line as produced by a Source.
type Line struct {
	TS      int64 // unix seconds
	Level   Level
	Msg     string
	Replica string
}

type lineKey struct {
	ts      int64
	msg     string
	replica string
}

func (l Line) key() lineKey {
	return lineKey{l.TS, l.Msg, l.Replica}
}

// normalize returns the lines with start <= TS < end, stably sorted by TS
// with duplicate (TS, Msg, Replica) triples removed. The input is not modified.
func normalize(lines []Line, start, end int64) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.TS >= start && l.TS < end {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(a, b Line) int { return cmp.Compare(a.TS, b.TS) })

	seen := make(map[lineKey]struct{}, len(out))
	n := 0
	for _, l := range out {
		k := l.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out[n] = l
		n++
	}
	return out[:n]
}
