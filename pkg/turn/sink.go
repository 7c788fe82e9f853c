package turn

import "context"

// NoticeSubtype distinguishes the structured, machine-readable notices
// the coordinator itself emits around the mid-turn injection queue
// (spec.md §4.10 property 7) from the free-text System notices. Declared
// here rather than in pkg/protocol so pkg/turn has no dependency on the
// wire protocol package, which already depends on pkg/turn.
type NoticeSubtype string

// Notice subtypes the coordinator emits.
const (
	NoticeQueued   NoticeSubtype = "queued"
	NoticeInjected NoticeSubtype = "injected"
)

// Sink is the outbound half of the external protocol (spec.md §6): every
// notification the turn coordinator or a running AgentLoop produces
// flows through one of these calls. Grounded on kodelet's
// llmtypes.MessageHandler — a push interface the run loop calls as
// output becomes available — narrowed to the four outbound message
// kinds spec.md §6 defines (assistant, user-tool-result, result,
// system) instead of kodelet's streaming-delta surface, since the wire
// protocol's framing is this module's concern and a model provider's
// token-by-token streaming is not (spec.md §1).
type Sink interface {
	// Assistant delivers one complete assistant text block.
	Assistant(ctx context.Context, text string)
	// ToolResult reports a tool invocation's outcome back to the user
	// surface (distinct from the tool-result content a model itself
	// receives, which never leaves the AgentLoop).
	ToolResult(ctx context.Context, callID, name, result string, isError bool)
	// Result closes out a turn with its final summary line.
	Result(ctx context.Context, summary string)
	// System delivers an out-of-band notice: a background report, a
	// recovered-task warning, a curation summary.
	System(ctx context.Context, text string)
	// Notice delivers a structured out-of-band notice carrying a
	// machine-readable subtype and a detail payload — the `queued`
	// (detail: position) and `injected` (detail: message_count) lines
	// spec.md §4.10 property 7 and scenario S5 require.
	Notice(ctx context.Context, subtype NoticeSubtype, message string, detail any)
}
