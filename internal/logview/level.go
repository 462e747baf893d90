package logview

import (
	"fmt"
	"strings"
)

// Level is a log severity. Higher values are more severe.
type Level uint8

const (
	Debug Level = iota
	Info
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
}

// AtLeast reports whether l passes an inclusive minimum-severity filter.
func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// ParseLevel maps a level name (including common aliases) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "dbug", "trace", "verbose":
		return Debug, nil
	case "info", "information", "notice":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "error", "err", "fatal", "critical", "crit", "panic":
		return Error, nil
	}
	return Debug, fmt.Errorf("unknown level %q", s)
}
