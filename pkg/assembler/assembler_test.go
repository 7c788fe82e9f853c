package assembler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/store"
	"github.com/opencoder-agent/memcore/pkg/temporal"
)

func newTestAssembler(t *testing.T) (*Assembler, *temporal.Log) {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	idGen := ids.New()
	log := temporal.New(s, idGen)
	tree := ltm.New(s)
	require.NoError(t, tree.SeedDefaults(ctx, "system"))

	return New(log, tree, []Tool{{Name: "shell", Description: "run a shell command"}}), log
}

func TestBuildSystemPromptIncludesIdentityAndBehavior(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx := context.Background()

	prompt, tokens, err := a.BuildSystemPrompt(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "<identity>")
	assert.Contains(t, prompt, "<behavior>")
	assert.Contains(t, prompt, "shell")
	assert.Greater(t, tokens, 0)
}

func TestBuildSystemPromptIsDeterministic(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx := context.Background()

	p1, _, err := a.BuildSystemPrompt(ctx, "overlay text")
	require.NoError(t, err)
	p2, _, err := a.BuildSystemPrompt(ctx, "overlay text")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestBuildConversationHistoryCoalescesAndPairsTools(t *testing.T) {
	a, log := newTestAssembler(t)
	ctx := context.Background()

	_, err := log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindUser, Content: "list files"})
	require.NoError(t, err)
	_, err = log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindToolCall, Content: "ls", ToolCallID: "call_1", ToolName: "shell"})
	require.NoError(t, err)
	_, err = log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindToolResult, Content: "a.go b.go", ToolCallID: "call_1"})
	require.NoError(t, err)
	_, err = log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindAssistant, Content: "there are two files"})
	require.NoError(t, err)

	turns, total, err := a.BuildConversationHistory(ctx, 10_000)
	require.NoError(t, err)
	require.Len(t, turns, 4) // user, assistant(tool-call), tool, assistant
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "tool-call", turns[1].Parts[0].Kind)
	assert.Equal(t, "tool", turns[2].Role)
	assert.Equal(t, "call_1", turns[2].Parts[0].ToolCallID)
	assert.Equal(t, "assistant", turns[3].Role)
	assert.Greater(t, total, 0)
}

func TestBuildConversationHistoryDropsFromFrontKeepingToolPairsIntact(t *testing.T) {
	a, log := newTestAssembler(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindUser, Content: "message number padding to cost tokens"})
		require.NoError(t, err)
		_, err = log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindToolCall, Content: "do thing", ToolCallID: "call", ToolName: "shell"})
		require.NoError(t, err)
		_, err = log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindToolResult, Content: "result of thing", ToolCallID: "call"})
		require.NoError(t, err)
	}

	turns, total, err := a.BuildConversationHistory(ctx, 20)
	require.NoError(t, err)
	assert.LessOrEqual(t, total, 20)

	// No turn should be a dangling tool result without its preceding
	// assistant/tool-call turn, and vice versa.
	for i, t2 := range turns {
		if t2.Role == "tool" {
			require.Greater(t, i, 0)
			assert.Equal(t, "assistant", turns[i-1].Role)
		}
	}
}
