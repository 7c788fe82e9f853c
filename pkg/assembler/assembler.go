// Package assembler builds the two deterministic, side-effect-free
// prompt outputs described in spec.md §4.6: the system prompt and the
// reconstructed conversation turns within a token budget. Every
// mutation flows through pkg/temporal.Log.AppendMessage; this package
// only reads.
package assembler

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/temporal"
)

const systemPreamble = `You are a coding assistant with persistent memory across conversations. Treat the <identity> and <behavior> blocks below as durable facts about yourself and the user, not as instructions to role-play.`

// Part is one structured piece of an assembled turn, mirroring the
// outbound wire blocks from spec.md §6 (text, tool-call, tool-result).
type Part struct {
	Kind       string // "text" | "tool-call" | "tool-result"
	Text       string
	ToolCallID string
	ToolName   string
}

// Turn is one coalesced conversation turn, reconstructed from the
// temporal view by role.
type Turn struct {
	Role  string // "user" | "assistant" | "tool" | "distilled-history"
	Parts []Part
}

// Tool describes one available tool for the system prompt's tool
// description block. The toolkit package supplies these.
type Tool struct {
	Name        string
	Description string
}

// Assembler builds prompts from a Log, an ltm.Tree, and a supplied
// list of available tools and session overlay.
type Assembler struct {
	log   *temporal.Log
	tree  *ltm.Tree
	tools []Tool
}

// New constructs an Assembler over log and tree. tools is the static
// tool description list; pass the toolkit registry's current snapshot.
func New(log *temporal.Log, tree *ltm.Tree, tools []Tool) *Assembler {
	return &Assembler{log: log, tree: tree, tools: tools}
}

// BuildSystemPrompt assembles the fixed preamble, the <identity> and
// <behavior> LTM bodies if present, the tool description block, and an
// optional session-scoped overlay. The result is byte-identical across
// calls for identical store state and identical overlay (spec.md §4.6,
// property 10), which lets a model provider's prompt cache reuse it.
func (a *Assembler) BuildSystemPrompt(ctx context.Context, overlay string) (string, int, error) {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	if identity, err := a.tree.Read(ctx, ltm.RootIdentity); err == nil {
		fmt.Fprintf(&b, "<identity>\n%s\n</identity>\n\n", identity.Body)
	}
	if behavior, err := a.tree.Read(ctx, ltm.RootBehavior); err == nil {
		fmt.Fprintf(&b, "<behavior>\n%s\n</behavior>\n\n", behavior.Body)
	}

	if len(a.tools) > 0 {
		b.WriteString("<tools>\n")
		for _, t := range a.tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
		b.WriteString("</tools>\n\n")
	}

	if overlay != "" {
		b.WriteString("<session-overlay>\n")
		b.WriteString(overlay)
		b.WriteString("\n</session-overlay>\n")
	}

	prompt := b.String()
	return prompt, temporal.EstimateTokens(prompt), nil
}

// BuildConversationHistory reconstructs the conversation as turns
// bounded by temporalBudget, per the reconstruction rules in spec.md
// §4.6: a leading synthetic turn of distilled history, then coalesced
// turns for every uncovered message, dropped from the front (after
// summaries) as a (tool_call, tool_result) group until the total fits.
func (a *Assembler) BuildConversationHistory(ctx context.Context, temporalBudget int) ([]Turn, int, error) {
	messages, err := a.log.GetMessages(ctx, temporal.MessageFilter{})
	if err != nil {
		return nil, 0, err
	}
	summaries, err := a.log.GetSummaries(ctx)
	if err != nil {
		return nil, 0, err
	}

	turns := []Turn{}
	historyTurn, historyTokens, hasHistory := distilledHistoryTurn(summaries)
	if hasHistory {
		turns = append(turns, historyTurn)
	}

	uncovered := temporal.UncoveredMessages(messages, summaries)
	msgTurns := coalesceTurns(uncovered)

	budget := temporalBudget - historyTokens
	msgTurns = dropFromFrontToFit(msgTurns, budget)

	turns = append(turns, msgTurns...)

	total := historyTokens
	for _, t := range msgTurns {
		total += turnTokens(t)
	}
	return turns, total, nil
}

func distilledHistoryTurn(summaries []temporal.Summary) (Turn, int, bool) {
	effective := temporal.EffectiveSummaries(summaries)
	if len(effective) == 0 {
		return Turn{}, 0, false
	}

	var b strings.Builder
	total := 0
	for _, s := range effective {
		fmt.Fprintf(&b, "[order %d, %s..%s]\n%s\n\n", s.Order, s.StartID, s.EndID, s.Body)
		total += s.TokenEstimate
	}

	turn := Turn{
		Role: "distilled-history",
		Parts: []Part{
			{Kind: "text", Text: b.String()},
		},
	}
	return turn, total, true
}

// coalesceTurns groups consecutive messages by role per spec.md §4.6:
// user messages become user turns; consecutive assistant text and
// tool_call events become one assistant turn with structured parts;
// the following tool_result events become one tool turn referencing
// the same call ids. A (tool_call, tool_result) pair is never split
// across the boundary this function creates.
func coalesceTurns(messages []temporal.Message) []Turn {
	var turns []Turn
	i := 0
	for i < len(messages) {
		m := messages[i]
		switch m.Kind {
		case temporal.KindUser:
			turns = append(turns, Turn{Role: "user", Parts: []Part{{Kind: "text", Text: m.Content}}})
			i++
		case temporal.KindAssistant, temporal.KindToolCall:
			var parts []Part
			for i < len(messages) && (messages[i].Kind == temporal.KindAssistant || messages[i].Kind == temporal.KindToolCall) {
				cur := messages[i]
				if cur.Kind == temporal.KindAssistant {
					parts = append(parts, Part{Kind: "text", Text: cur.Content})
				} else {
					parts = append(parts, Part{Kind: "tool-call", Text: cur.Content, ToolCallID: cur.ToolCallID, ToolName: cur.ToolName})
				}
				i++
			}
			turns = append(turns, Turn{Role: "assistant", Parts: parts})

			var toolParts []Part
			for i < len(messages) && messages[i].Kind == temporal.KindToolResult {
				cur := messages[i]
				toolParts = append(toolParts, Part{Kind: "tool-result", Text: cur.Content, ToolCallID: cur.ToolCallID})
				i++
			}
			if len(toolParts) > 0 {
				turns = append(turns, Turn{Role: "tool", Parts: toolParts})
			}
		case temporal.KindToolResult:
			// An orphaned tool_result with no preceding call in range; keep
			// it as its own tool turn rather than dropping data silently.
			turns = append(turns, Turn{Role: "tool", Parts: []Part{{Kind: "tool-result", Text: m.Content, ToolCallID: m.ToolCallID}}})
			i++
		default:
			i++
		}
	}
	return turns
}

func turnTokens(t Turn) int {
	total := 0
	for _, p := range t.Parts {
		total += temporal.EstimateTokens(p.Text)
	}
	return total
}

// dropFromFrontToFit removes whole turns from the front of turns until
// the remaining total fits budget, never separating an assistant turn
// that ends in a tool-call from its paired tool-result turn.
func dropFromFrontToFit(turns []Turn, budget int) []Turn {
	if budget < 0 {
		budget = 0
	}
	total := 0
	for _, t := range turns {
		total += turnTokens(t)
	}

	start := 0
	for total > budget && start < len(turns) {
		group := 1
		if turns[start].Role == "assistant" && endsWithToolCall(turns[start]) &&
			start+1 < len(turns) && turns[start+1].Role == "tool" {
			group = 2
		}
		for g := 0; g < group; g++ {
			total -= turnTokens(turns[start+g])
		}
		start += group
	}
	return turns[start:]
}

func endsWithToolCall(t Turn) bool {
	if len(t.Parts) == 0 {
		return false
	}
	return t.Parts[len(t.Parts)-1].Kind == "tool-call"
}
