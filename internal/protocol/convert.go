package protocol

import "github.com/thobiasn/loglens/internal/logview"

// FromLines converts lines for the wire.
func FromLines(lines []logview.Line) []LogLine {
	out := make([]LogLine, len(lines))
	for i, l := range lines {
		out[i] = LogLine{TS: l.TS, Level: l.Level.String(), Msg: l.Msg, Replica: l.Replica}
	}
	return out
}

// ToLines converts wire lines back. Unknown levels decode as Debug.
func ToLines(lines []LogLine) []logview.Line {
	out := make([]logview.Line, len(lines))
	for i, l := range lines {
		lvl, err := logview.ParseLevel(l.Level)
		if err != nil {
			lvl = logview.Debug
		}
		out[i] = logview.Line{TS: l.TS, Level: lvl, Msg: l.Msg, Replica: l.Replica}
	}
	return out
}
