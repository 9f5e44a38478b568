// Package metadata extracts call identity from room metadata.
package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Identity is the call identity carried in room metadata. Empty fields were
// not present.
type Identity struct {
	AgentID string
	CallID  string
}

var (
	agentKeys = []string{"agent_id", "agentId", "uuid", "id"}
	callKeys  = []string{"call_id", "callId"}
)

// Parse reads room metadata. A JSON object yields the first non-empty value
// among the known keys; anything that is not a JSON object is taken verbatim
// as the agent id.
func Parse(raw string) Identity {
	if strings.TrimSpace(raw) == "" {
		return Identity{}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Identity{AgentID: raw}
	}

	return Identity{
		AgentID: firstOf(data, agentKeys),
		CallID:  firstOf(data, callKeys),
	}
}

func firstOf(data map[string]any, keys []string) string {
	for _, k := range keys {
		if s := scalar(data[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v any) string {
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
	case bool:
		if !x {
			return ""
		}
		return "true"
	default:
		return ""
	}
}
