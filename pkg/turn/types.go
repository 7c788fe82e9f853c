package turn

import (
	"context"

	"github.com/opencoder-agent/memcore/pkg/assembler"
	"github.com/opencoder-agent/memcore/pkg/toolkit"
)

// Input is everything an AgentLoop needs to drive one turn: the
// deterministic prompts the context assembler built, the tool
// capability set, and a poll function for mid-turn injection.
type Input struct {
	UserMessage  string
	SystemPrompt string
	History      []assembler.Turn
	Tools        *toolkit.Registry

	// Injected polls the in-memory mid-turn FIFO queue (spec.md §4.10):
	// user input that arrived while this turn was already running. An
	// AgentLoop implementation calls this between model round-trips and
	// folds whatever it returns into the next round-trip's input; ok is
	// false when the queue is empty.
	Injected func() (text string, ok bool)
}

// ToolEvent is one tool call/result pair an AgentLoop performed during a
// turn, reported back so the coordinator can persist it to the temporal
// log in order.
type ToolEvent struct {
	CallID  string
	Name    string
	Params  string
	Result  string
	IsError bool
}

// Output is everything an AgentLoop produced over the course of a turn.
type Output struct {
	AssistantText string
	ToolEvents    []ToolEvent
}

// AgentLoop drives one turn to completion: it owns the model provider
// conversation (spec.md §1 — out of scope for this module) and reports
// its text and tool activity through sink as it happens, then returns
// the full Output for the coordinator to persist. Grounded on kodelet's
// llmtypes.MessageHandler-driven thread.SendMessage loop, split here
// into an explicit function value so the turn coordinator never depends
// on a concrete model client.
type AgentLoop func(ctx context.Context, in Input, sink Sink) (Output, error)
