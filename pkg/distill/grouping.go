package distill

import "github.com/opencoder-agent/memcore/pkg/temporal"

// groupMessages splits messages into contiguous groups whose combined
// token estimate is near (but at least) ceiling, per spec.md §4.7
// Grouping. A split point is only taken outside a (tool_call,
// tool_result) pair — pendingToolCall tracks whether the group is
// currently inside one.
func groupMessages(messages []temporal.Message, ceiling int) [][]temporal.Message {
	if ceiling <= 0 {
		ceiling = 1
	}

	var groups [][]temporal.Message
	var cur []temporal.Message
	curTokens := 0
	pendingToolCall := false

	for _, m := range messages {
		cur = append(cur, m)
		curTokens += m.TokenEstimate

		switch m.Kind {
		case temporal.KindToolCall:
			pendingToolCall = true
		case temporal.KindToolResult:
			pendingToolCall = false
		}

		if pendingToolCall {
			continue
		}
		if curTokens >= ceiling {
			groups = append(groups, cur)
			cur = nil
			curTokens = 0
		}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}
