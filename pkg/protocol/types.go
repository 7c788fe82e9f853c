// Package protocol implements the external line-delimited JSON interface
// (spec.md §6): one JSON object per line on an inbound stream and an
// outbound stream. Grounded on kodelet's pkg/types/llm message/content
// block shapes (text, tool_use, tool_result) and its ACP/MCP line
// framing in pkg/acp, narrowed to the four outbound message kinds and
// two inbound message kinds this engine actually emits — the
// bit-level host negotiation those packages also handle is out of
// scope here (spec.md §1).
package protocol

import "encoding/json"

// InboundUser is a `{"type":"user",...}` inbound line: new input for
// the turn coordinator, optionally carrying per-turn overlays.
type InboundUser struct {
	Type         string            `json:"type"`
	Message      InboundMessage    `json:"message"`
	SessionID    string            `json:"session_id,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	MCPServers   []string          `json:"mcp_servers,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
}

// InboundMessage is the `message` field of an inbound user line.
// Content may be a plain string or a content-block array; Text
// normalizes either shape to plain text for the turn coordinator.
type InboundMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Text extracts the plain-text content of an inbound message,
// concatenating block text if content was sent as a content-block
// array rather than a bare string.
func (m InboundMessage) Text() (string, error) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s, nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return "", err
	}
	out := ""
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out, nil
}

// InboundControl is a `{"type":"control",...}` inbound line: an
// immediate action processed outside the ordinary turn sequence.
type InboundControl struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// ContentBlock is one element of an outbound assistant message's
// content array.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// OutboundAssistant is a `{"type":"assistant",...}` outbound line.
type OutboundAssistant struct {
	Type      string           `json:"type"`
	Message   AssistantMessage `json:"message"`
	SessionID string           `json:"session_id,omitempty"`
}

// AssistantMessage is the `message` field of an outbound assistant line.
type AssistantMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
	Model   string         `json:"model,omitempty"`
}

// ToolResultBlock is the single content-block kind an outbound
// `type":"user"` tool-result line carries.
type ToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// OutboundToolResult is a `{"type":"user",...}` outbound line carrying
// a tool result back toward the host, distinct from an inbound user
// line despite sharing the same "type" discriminator (spec.md §6).
type OutboundToolResult struct {
	Type      string            `json:"type"`
	Message   ToolResultMessage `json:"message"`
	SessionID string            `json:"session_id,omitempty"`
}

// ToolResultMessage is the `message` field of an outbound tool-result line.
type ToolResultMessage struct {
	Role    string            `json:"role"`
	Content []ToolResultBlock `json:"content"`
}

// ResultSubtype is the terminal state of one turn.
type ResultSubtype string

// Result subtypes.
const (
	ResultSuccess      ResultSubtype = "success"
	ResultErrorExec    ResultSubtype = "error_during_execution"
	ResultErrorMaxTurn ResultSubtype = "error_max_turns"
	ResultCancelled    ResultSubtype = "cancelled"
)

// OutboundResult is the `{"type":"result",...}` line that closes a turn.
type OutboundResult struct {
	Type       string        `json:"type"`
	Subtype    ResultSubtype `json:"subtype"`
	DurationMS int64         `json:"duration_ms"`
	IsError    bool          `json:"is_error"`
	NumTurns   int           `json:"num_turns"`
	SessionID  string        `json:"session_id"`
	Result     string        `json:"result,omitempty"`
	Usage      any           `json:"usage,omitempty"`
}

// SystemSubtype enumerates the out-of-band notices this engine sends.
type SystemSubtype string

// System subtypes.
const (
	SystemInit          SystemSubtype = "init"
	SystemQueued        SystemSubtype = "queued"
	SystemInjected      SystemSubtype = "injected"
	SystemInterrupted   SystemSubtype = "interrupted"
	SystemStatus        SystemSubtype = "status"
	SystemHeartbeatAck  SystemSubtype = "heartbeat_ack"
	SystemError         SystemSubtype = "error"
	SystemConsolidation SystemSubtype = "consolidation"
	SystemDistillation  SystemSubtype = "distillation"
)

// OutboundSystem is the `{"type":"system",...}` line.
type OutboundSystem struct {
	Type      string        `json:"type"`
	Subtype   SystemSubtype `json:"subtype"`
	SessionID string        `json:"session_id,omitempty"`
	Message   string        `json:"message,omitempty"`
	Detail    any           `json:"detail,omitempty"`
}
