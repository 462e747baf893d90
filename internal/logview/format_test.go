package logview

import (
	"testing"
	"time"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2024, 3, 7, 16, 5, 9, 0, time.UTC), "2024-3-7 4:5:9 PM"},
		{time.Date(2024, 12, 25, 12, 30, 0, 0, time.UTC), "2024-12-25 12:30:0 PM"},
		{time.Date(2024, 1, 1, 9, 0, 59, 0, time.UTC), "2024-1-1 9:0:59 AM"},
		{time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC), "2024-1-1 12:15:0 AM"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.t); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestRowText(t *testing.T) {
	l := Line{TS: time.Date(2024, 3, 7, 16, 5, 9, 0, time.UTC).Unix(), Msg: "hello"}
	if got, want := RowText(l, time.UTC), "2024-3-7 4:5:9 PM: hello"; got != want {
		t.Errorf("RowText = %q, want %q", got, want)
	}
}
