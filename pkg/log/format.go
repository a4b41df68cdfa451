package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// JSONFormatter renders an Entry as a single-line JSON object.
type JSONFormatter struct {
	// TimeKey overrides the default "timestamp" key name when non-empty.
	TimeKey string
}

// Format implements Formatter.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	timeKey := f.TimeKey
	if timeKey == "" {
		timeKey = "timestamp"
	}
	out := make(map[string]interface{}, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		out[k] = v
	}
	out[timeKey] = entry.Timestamp.Format(rfc3339Milli)
	out["level"] = entry.Level.String()
	out["message"] = entry.Message
	if entry.Caller != "" {
		out["caller"] = entry.Caller
	}
	if entry.Error != nil {
		out["error"] = entry.Error.Error()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter renders an Entry as a human-readable single line.
type TextFormatter struct {
	// DisableColor disables ANSI level coloring.
	DisableColor bool
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(entry.Timestamp.Format(rfc3339Milli))
	buf.WriteByte(' ')
	buf.WriteString(f.levelTag(entry.Level))
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, " %s=%v", k, entry.Fields[k])
		}
	}
	if entry.Error != nil {
		fmt.Fprintf(&buf, " error=%q", entry.Error.Error())
	}
	if entry.Caller != "" {
		fmt.Fprintf(&buf, " caller=%s", entry.Caller)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (f *TextFormatter) levelTag(level Level) string {
	if f.DisableColor {
		return "[" + level.String() + "]"
	}
	var color string
	switch level {
	case DebugLevel:
		color = "\033[36m"
	case InfoLevel:
		color = "\033[32m"
	case WarnLevel:
		color = "\033[33m"
	case ErrorLevel:
		color = "\033[31m"
	case FatalLevel:
		color = "\033[35m"
	default:
		color = ""
	}
	return color + "[" + level.String() + "]" + "\033[0m"
}
