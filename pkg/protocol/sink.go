package protocol

import (
	"context"
	"time"

	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/turn"
)

// Sink adapts an *Encoder to pkg/turn.Sink, translating the
// coordinator's push calls into the outbound wire shapes spec.md §6
// defines. One Sink is built per session, since every outbound line
// carries the same session_id.
type Sink struct {
	enc       *Encoder
	sessionID string
	model     string
	turnStart time.Time
}

// NewSink builds a Sink that tags every outbound line with sessionID.
func NewSink(enc *Encoder, sessionID, model string) *Sink {
	return &Sink{enc: enc, sessionID: sessionID, model: model}
}

// TurnStarted records when the current turn began, for the result
// line's duration_ms.
func (s *Sink) TurnStarted() {
	s.turnStart = time.Now()
}

func (s *Sink) Assistant(ctx context.Context, text string) {
	err := s.enc.Assistant(OutboundAssistant{
		Type:      "assistant",
		SessionID: s.sessionID,
		Message: AssistantMessage{
			Role:    "assistant",
			Model:   s.model,
			Content: []ContentBlock{{Type: "text", Text: text}},
		},
	})
	s.logWriteErr(ctx, err)
}

func (s *Sink) ToolResult(ctx context.Context, callID, name, result string, isError bool) {
	err := s.enc.ToolResult(OutboundToolResult{
		Type:      "user",
		SessionID: s.sessionID,
		Message: ToolResultMessage{
			Role: "user",
			Content: []ToolResultBlock{{
				Type:      "tool_result",
				ToolUseID: callID,
				Content:   result,
				IsError:   isError,
			}},
		},
	})
	s.logWriteErr(ctx, err)
}

func (s *Sink) Result(ctx context.Context, summary string) {
	durationMS := int64(0)
	if !s.turnStart.IsZero() {
		durationMS = time.Since(s.turnStart).Milliseconds()
	}
	err := s.enc.Result(OutboundResult{
		Type:       "result",
		Subtype:    ResultSuccess,
		DurationMS: durationMS,
		IsError:    false,
		NumTurns:   1,
		SessionID:  s.sessionID,
		Result:     summary,
	})
	s.logWriteErr(ctx, err)
}

func (s *Sink) System(ctx context.Context, text string) {
	err := s.enc.System(OutboundSystem{
		Type:      "system",
		Subtype:   SystemStatus,
		SessionID: s.sessionID,
		Message:   text,
	})
	s.logWriteErr(ctx, err)
}

// noticeSubtypes maps the coordinator's wire-agnostic notice subtypes
// onto this package's SystemSubtype wire values.
var noticeSubtypes = map[turn.NoticeSubtype]SystemSubtype{
	turn.NoticeQueued:   SystemQueued,
	turn.NoticeInjected: SystemInjected,
}

func (s *Sink) Notice(ctx context.Context, subtype turn.NoticeSubtype, message string, detail any) {
	wireSubtype, ok := noticeSubtypes[subtype]
	if !ok {
		wireSubtype = SystemStatus
	}
	err := s.enc.System(OutboundSystem{
		Type:      "system",
		Subtype:   wireSubtype,
		SessionID: s.sessionID,
		Message:   message,
		Detail:    detail,
	})
	s.logWriteErr(ctx, err)
}

func (s *Sink) logWriteErr(ctx context.Context, err error) {
	if err != nil {
		logger.G(ctx).WithError(err).Error("protocol: failed writing outbound line")
	}
}
