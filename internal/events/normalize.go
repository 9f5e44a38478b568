package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize flattens transcript content into one trimmed string. Strings are
// trimmed; lists join their non-empty elements with single spaces; objects
// contribute their "text" field. Null or empty content yields "".
func Normalize(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return normalizeValue(v)
}

func normalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if empty(item) {
				continue
			}
			if p := itemText(item); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any:
		if t, ok := x["text"]; ok {
			return strings.TrimSpace(scalarText(t))
		}
		return strings.TrimSpace(scalarText(x))
	default:
		return strings.TrimSpace(scalarText(x))
	}
}

func itemText(item any) string {
	switch x := item.(type) {
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		if t, ok := x["text"]; ok {
			return strings.TrimSpace(scalarText(t))
		}
	}
	return strings.TrimSpace(scalarText(item))
}

func scalarText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// empty reports whether a list element carries nothing worth keeping.
func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// firstNonEmpty returns the first raw value that is present and not null.
func firstNonEmpty(raws ...json.RawMessage) json.RawMessage {
	for _, r := range raws {
		if len(r) == 0 || string(r) == "null" || string(r) == `""` {
			continue
		}
		return r
	}
	return nil
}
