package logview

import "time"

// timestampLayout is an unpadded 12-hour clock: "2024-3-7 4:5:9 PM".
const timestampLayout = "2006-1-2 3:4:5 PM"

// FormatTimestamp renders t for display in the log list.
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// RowText is the display text of a line before wrapping.
func RowText(l Line, loc *time.Location) string {
	return FormatTimestamp(time.Unix(l.TS, 0).In(loc)) + ": " + l.Msg
}
