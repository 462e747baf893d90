package logview

import (
	"fmt"
	"strings"
)

// Range is a symbolic time range ending at "now".
type Range int

const (
	LastMinute Range = iota
	Last5Minutes
	LastHour
	Last24Hours
	Last7Days
)

// DefaultRange is selected when nothing else is configured.
const DefaultRange = Last5Minutes

// Ranges lists every range in selector order.
var Ranges = []Range{LastMinute, Last5Minutes, LastHour, Last24Hours, Last7Days}

// Seconds returns the length of the range. It panics on a value outside the
// closed set.
func (r Range) Seconds() int64 {
	switch r {
	case LastMinute:
		return 60
	case Last5Minutes:
		return 300
	case LastHour:
		return 3600
	case Last24Hours:
		return 86400
	case Last7Days:
		return 604800
	}
	panic(fmt.Sprintf("logview: unknown range %d", int(r)))
}

// String returns the selector label.
func (r Range) String() string {
	switch r {
	case LastMinute:
		return "Last 1 minute"
	case Last5Minutes:
		return "Last 5 minutes"
	case LastHour:
		return "Last hour"
	case Last24Hours:
		return "Last 24 hours"
	case Last7Days:
		return "Last 7 days"
	}
	return fmt.Sprintf("Range(%d)", int(r))
}

// Short returns the compact form accepted by ParseRange.
func (r Range) Short() string {
	switch r {
	case LastMinute:
		return "1m"
	case Last5Minutes:
		return "5m"
	case LastHour:
		return "1h"
	case Last24Hours:
		return "24h"
	case Last7Days:
		return "7d"
	}
	return ""
}

// Next returns the next longer range, or r if it is already the longest.
func (r Range) Next() Range {
	if r >= Last7Days {
		return Last7Days
	}
	return r + 1
}

// Prev returns the next shorter range, or r if it is already the shortest.
func (r Range) Prev() Range {
	if r <= LastMinute {
		return LastMinute
	}
	return r - 1
}

// ParseRange accepts the short forms ("1m", "5m", "1h", "24h", "7d") and
// the range names ("last-hour", "LastHour").
func ParseRange(s string) (Range, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch norm {
	case "1m", "60s", "lastminute", "last1minute":
		return LastMinute, nil
	case "5m", "last5minutes":
		return Last5Minutes, nil
	case "1h", "60m", "lasthour":
		return LastHour, nil
	case "24h", "1d", "last24hours":
		return Last24Hours, nil
	case "7d", "1w", "last7days":
		return Last7Days, nil
	}
	return DefaultRange, fmt.Errorf("unknown time range %q", s)
}
