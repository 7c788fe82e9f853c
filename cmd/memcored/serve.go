package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencoder-agent/memcore/pkg/config"
	"github.com/opencoder-agent/memcore/pkg/consolidate"
	"github.com/opencoder-agent/memcore/pkg/curate"
	"github.com/opencoder-agent/memcore/pkg/distill"
	"github.com/opencoder-agent/memcore/pkg/events"
	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/protocol"
	"github.com/opencoder-agent/memcore/pkg/session"
	"github.com/opencoder-agent/memcore/pkg/store"
	"github.com/opencoder-agent/memcore/pkg/tasks"
	"github.com/opencoder-agent/memcore/pkg/telemetry"
	"github.com/opencoder-agent/memcore/pkg/temporal"
	"github.com/opencoder-agent/memcore/pkg/turn"
	"github.com/opencoder-agent/memcore/pkg/version"
	"github.com/opencoder-agent/memcore/pkg/worker"
	"github.com/opencoder-agent/memcore/pkg/workload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the line-delimited JSON protocol over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.WatchReload(func(next *config.Config) {
		logger.G(ctx).WithField("alarm_poll_interval_ms", next.AlarmPollIntervalMS).Info("config.yaml changed, new thresholds take effect on restart")
	})

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "memcored",
		ServiceVersion: version.Get().Version,
		SamplerType:    cfg.TracingSampler,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	dbPath := cfg.SessionDBPath
	var s *store.Store
	if dbPath == "" {
		logger.G(ctx).Warn("no session_db_path configured, serving against an in-memory store")
		s, err = store.OpenMemory(ctx)
	} else {
		s, err = store.Open(ctx, dbPath)
	}
	if err != nil {
		return err
	}
	defer s.Close()

	idGen := ids.New()
	log := temporal.New(s, idGen)
	tree := ltm.New(s)
	if err := tree.SeedDefaults(ctx, "system"); err != nil {
		return err
	}
	sess, err := session.New(ctx, s, idGen)
	if err != nil {
		return err
	}
	tasksStore := tasks.New(s, idGen)
	workers := worker.New(s, idGen)
	bus := events.New()

	bus.Subscribe(events.LTMConsolidationComplete, func(ctx context.Context, payload any) {
		if r, ok := payload.(consolidate.Report); ok && !r.Skipped {
			logger.G(ctx).WithField("created", r.Created).WithField("updated", r.Updated).Info("consolidation complete")
		}
	})
	bus.Subscribe(events.TemporalDistillationComplete, func(ctx context.Context, payload any) {
		if r, ok := payload.(distill.Report); ok && !r.Skipped {
			logger.G(ctx).WithField("created", r.DistillationsCreated).Info("distillation complete")
		}
	})

	distillEngine := distill.New(s, log, workers, idGen, bus, cfg, echoSummarizer)
	consolidateEngine := consolidate.New(tree, workers, bus, cfg.ConsolidationBudget, echoRunner)
	window := func(ctx context.Context) ([]temporal.Message, error) {
		return log.GetMessages(ctx, temporal.MessageFilter{})
	}
	curator := curate.New(distillEngine, consolidateEngine, window)

	sessionID, err := sess.ID(ctx)
	if err != nil {
		return err
	}
	enc := protocol.NewEncoder(os.Stdout)
	sink := protocol.NewSink(enc, sessionID, cfg.ModelWorkhorse)

	coord := turn.New(log, tree, sess, tasksStore, workers, curator, bus, cfg, sink, echoAgentLoop(sink), nil)
	group, err := coord.Start(ctx)
	if err != nil {
		return err
	}

	server := protocol.NewServer(os.Stdin, coord)
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	stop()
	return group.Wait()
}

// echoSummarizer and echoRunner are placeholders standing in for the
// model provider (spec.md §1 — out of scope for this module). A real
// deployment supplies a distill.Summarizer and a workload.Runner backed
// by an actual provider client in their place.
func echoSummarizer(_ context.Context, content, roleHint string) (string, error) {
	return fmt.Sprintf("[unsummarized %s excerpt, %d chars]", roleHint, len(content)), nil
}

func echoRunner(_ context.Context, w workload.Workload) (string, error) {
	return "", fmt.Errorf("no model provider configured for %s workload", w.Variant)
}

// echoAgentLoop is a placeholder AgentLoop that echoes the turn's user
// message (and any mid-turn injected text) back, so `memcored serve` is
// exercisable end to end without a model provider wired in.
func echoAgentLoop(sink *protocol.Sink) turn.AgentLoop {
	return func(ctx context.Context, in turn.Input, _ turn.Sink) (turn.Output, error) {
		sink.TurnStarted()
		select {
		case <-ctx.Done():
			return turn.Output{}, ctx.Err()
		default:
		}
		reply := fmt.Sprintf("echo: %s", in.UserMessage)
		if injected, ok := in.Injected(); ok {
			reply += fmt.Sprintf(" (also saw injected: %s)", injected)
		}
		return turn.Output{AssistantText: reply}, nil
	}
}

