package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thobiasn/loglens/internal/logview"
)

var (
	levelKeys = []string{"level", "lvl", "severity"}
	msgKeys   = []string{"msg", "message", "error"}
)

// InferLevel extracts a level from a raw container log line. It tries JSON
// (level/lvl/severity key), then logfmt, then a leading token such as
// "ERROR", "[warn]" or "INFO:". ok is false when nothing was recognized.
func InferLevel(message string) (lvl logview.Level, ok bool) {
	if strings.HasPrefix(message, "{") {
		if fields := jsonFields(message); fields != nil {
			for _, k := range levelKeys {
				if v, found := fields[k]; found {
					return parseLevel(v)
				}
			}
		}
	}
	if strings.ContainsRune(message, '=') {
		fields := logfmtFields(message)
		for _, k := range levelKeys {
			if v, found := fields[k]; found {
				return parseLevel(v)
			}
		}
	}
	first, _, _ := strings.Cut(strings.TrimSpace(message), " ")
	first = strings.Trim(first, "[]():|")
	if len(first) >= 3 && strings.ToUpper(first) == first {
		return parseLevel(first)
	}
	return logview.Debug, false
}

// ExtractDisplayMsg returns the msg/message field of a structured line, or
// the line itself.
func ExtractDisplayMsg(message string) string {
	if strings.HasPrefix(message, "{") {
		if fields := jsonFields(message); fields != nil {
			for _, k := range msgKeys {
				if v, ok := fields[k]; ok {
					return v
				}
			}
		}
	}
	if strings.ContainsRune(message, '=') {
		fields := logfmtFields(message)
		for _, k := range msgKeys[:2] {
			if v, ok := fields[k]; ok {
				return v
			}
		}
	}
	return message
}

func parseLevel(s string) (logview.Level, bool) {
	lvl, err := logview.ParseLevel(s)
	return lvl, err == nil
}

// jsonFields decodes a JSON object into lower-cased keys with stringified
// values. It returns nil for anything that is not an object.
func jsonFields(raw string) map[string]string {
	var m map[string]any
	if json.Unmarshal([]byte(raw), &m) != nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return out
}

// logfmtFields splits a logfmt line into lower-cased keys and values.
// Quoted values may contain spaces and backslash escapes.
func logfmtFields(raw string) map[string]string {
	out := make(map[string]string)
	rest := raw
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return out
		}
		eq := strings.IndexAny(rest, "= ")
		if eq < 0 {
			return out
		}
		if rest[eq] == ' ' {
			// Bare word without a value.
			rest = rest[eq:]
			continue
		}
		key := strings.ToLower(rest[:eq])
		rest = rest[eq+1:]

		var val string
		if strings.HasPrefix(rest, `"`) {
			val, rest = readQuoted(rest[1:])
		} else {
			val, rest, _ = strings.Cut(rest, " ")
		}
		if key != "" {
			out[key] = val
		}
	}
}

// readQuoted reads up to the closing quote and returns the unescaped value
// and what follows it.
func readQuoted(s string) (val, rest string) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), s[i+1:]
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), ""
}
