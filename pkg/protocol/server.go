// Package protocol's Server drives the line-delimited JSON transport:
// it decodes inbound lines and dispatches them to a turn.Coordinator,
// translating control actions into the coordinator's immediate-action
// surface (spec.md §6's "processed immediately, never enters the
// mid-turn queue"). Grounded on kodelet's pkg/acp read loop, which
// pumps framed JSON-RPC off a reader into dispatch handlers; narrowed
// here to the two inbound line shapes this engine defines.
package protocol

import (
	"context"
	"io"

	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/turn"
)

// Server pumps inbound lines to a turn.Coordinator until the stream
// ends or ctx is cancelled.
type Server struct {
	dec   *Decoder
	coord Coordinator
}

// Coordinator is the subset of *turn.Coordinator the server drives.
// Declared as an interface so tests can substitute a fake without
// constructing a full coordinator.
type Coordinator interface {
	Submit(ctx context.Context, text string)
	Control(ctx context.Context, action turn.ControlAction) turn.Status
}

// NewServer builds a Server reading inbound lines from r.
func NewServer(r io.Reader, coord Coordinator) *Server {
	return &Server{dec: NewDecoder(r), coord: coord}
}

// Serve blocks, dispatching inbound lines until EOF or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		user, control, err := s.dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			logger.G(ctx).WithError(err).Error("protocol: dropping malformed inbound line")
			continue
		}

		switch {
		case user != nil:
			text, err := user.Message.Text()
			if err != nil {
				logger.G(ctx).WithError(err).Error("protocol: malformed user message content")
				continue
			}
			s.coord.Submit(ctx, text)
		case control != nil:
			s.coord.Control(ctx, turn.ControlAction(control.Action))
		}
	}
}
