package consolidate

import "github.com/opencoder-agent/memcore/pkg/temporal"

// longBodyThreshold is the single-message body length (in bytes) that
// makes a conversation noteworthy on its own, per spec.md §8 property 9.
const longBodyThreshold = 200

// Noteworthy applies spec.md §8 property 9's heuristic: a conversation
// is noteworthy iff it contains at least one tool_call or tool_result
// event, or any single message body exceeds 200 characters, and
// contains at least 5 events. Trivial turns (a handful of short text
// messages, no tool activity) are skipped before spending a
// consolidation sub-agent invocation on them.
func Noteworthy(messages []temporal.Message) bool {
	if len(messages) < 5 {
		return false
	}
	for _, m := range messages {
		if m.Kind == temporal.KindToolCall || m.Kind == temporal.KindToolResult {
			return true
		}
		if len(m.Content) > longBodyThreshold {
			return true
		}
	}
	return false
}
