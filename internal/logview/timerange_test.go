package logview

import "testing"

func TestRangeSeconds(t *testing.T) {
	want := map[Range]int64{
		LastMinute:   60,
		Last5Minutes: 300,
		LastHour:     3600,
		Last24Hours:  86400,
		Last7Days:    604800,
	}
	for r, secs := range want {
		if got := r.Seconds(); got != secs {
			t.Errorf("%s.Seconds() = %d, want %d", r, got, secs)
		}
	}
	if len(Ranges) != len(want) {
		t.Errorf("Ranges has %d entries, want %d", len(Ranges), len(want))
	}
}

func TestRangeSecondsUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown range")
		}
	}()
	Range(42).Seconds()
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in   string
		want Range
	}{
		{"1m", LastMinute},
		{"5m", Last5Minutes},
		{"1h", LastHour},
		{"24h", Last24Hours},
		{"7d", Last7Days},
		{"last-hour", LastHour},
		{"Last5Minutes", Last5Minutes},
		{"Last 7 days", Last7Days},
	}
	for _, tt := range tests {
		got, err := ParseRange(tt.in)
		if err != nil {
			t.Errorf("ParseRange(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRange(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseRange("2h"); err == nil {
		t.Error("expected error for 2h")
	}
}

func TestRangeShortRoundTrip(t *testing.T) {
	for _, r := range Ranges {
		got, err := ParseRange(r.Short())
		if err != nil || got != r {
			t.Errorf("ParseRange(%q) = %s, %v; want %s", r.Short(), got, err, r)
		}
	}
}

func TestRangeNextPrevClamp(t *testing.T) {
	if LastMinute.Prev() != LastMinute {
		t.Error("Prev of shortest range moved")
	}
	if Last7Days.Next() != Last7Days {
		t.Error("Next of longest range moved")
	}
	if LastHour.Next() != Last24Hours || LastHour.Prev() != Last5Minutes {
		t.Error("Next/Prev of LastHour wrong")
	}
}
