package metadata

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Identity
	}{
		{"empty", "", Identity{}},
		{"blank", "   ", Identity{}},
		{"snake case", `{"agent_id":"a1","call_id":"c1"}`, Identity{AgentID: "a1", CallID: "c1"}},
		{"camel case", `{"agentId":"a2","callId":"c2"}`, Identity{AgentID: "a2", CallID: "c2"}},
		{"uuid fallback", `{"uuid":"u-3"}`, Identity{AgentID: "u-3"}},
		{"id fallback", `{"id":"i-4","callId":"c4"}`, Identity{AgentID: "i-4", CallID: "c4"}},
		{"numeric id", `{"id":42}`, Identity{AgentID: "42"}},
		{"precedence", `{"id":"low","agentId":"mid","agent_id":"high"}`, Identity{AgentID: "high"}},
		{"empty value skipped", `{"agent_id":"","agentId":"next"}`, Identity{AgentID: "next"}},
		{"not json", "agent-plain", Identity{AgentID: "agent-plain"}},
		{"json array", `["a","b"]`, Identity{AgentID: `["a","b"]`}},
		{"object without keys", `{"foo":"bar"}`, Identity{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}
