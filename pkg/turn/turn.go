// Package turn implements the turn coordinator (spec.md §4.10): it runs
// exactly one turn at a time, queues user input that arrives mid-turn
// for injection rather than starting a second concurrent turn, polls
// for due alarms and background results at approximately 1Hz, and
// starts a synthetic turn when a background task finishes while the
// engine is otherwise idle. Grounded on kodelet's plain_chat read-loop
// (cmd/kodelet/plain_chat.go), generalized from "blocking stdin read,
// one thread.SendMessage per line" into a coordinator that can run a
// turn concurrently with accepting new input and with its own
// background polling goroutine.
package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencoder-agent/memcore/pkg/assembler"
	"github.com/opencoder-agent/memcore/pkg/config"
	"github.com/opencoder-agent/memcore/pkg/curate"
	"github.com/opencoder-agent/memcore/pkg/events"
	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/session"
	"github.com/opencoder-agent/memcore/pkg/tasks"
	"github.com/opencoder-agent/memcore/pkg/temporal"
	"github.com/opencoder-agent/memcore/pkg/toolkit"
	"github.com/opencoder-agent/memcore/pkg/worker"
)

// ControlAction is a control-channel action the external protocol
// delivers out of band from ordinary user turns (spec.md §6). Unlike a
// user message, a control action is processed immediately and never
// enters the mid-turn injection queue.
type ControlAction string

// Control actions.
const (
	ControlInterrupt ControlAction = "interrupt"
	ControlStatus    ControlAction = "status"
	ControlHeartbeat ControlAction = "heartbeat"
)

// Status reports the coordinator's current state, the payload a
// "status" control action returns.
type Status struct {
	Running    bool
	QueueDepth int
}

// Coordinator is the single entry point that owns turn sequencing.
type Coordinator struct {
	log     *temporal.Log
	tree    *ltm.Tree
	sess    *session.Session
	tasks   *tasks.Store
	workers *worker.Registry
	curator *curate.Orchestrator
	bus     *events.Bus
	cfg     *config.Config
	sink    Sink
	loop    AgentLoop
	tools   *toolkit.Registry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	queue   []string // in-memory mid-turn FIFO, distinct from tasks.Store's durable queued_results
}

// New constructs a Coordinator. tools is the main agent's capability
// set; it may be nil (spec.md §1 excludes the concrete tool
// implementations, not the seam that would carry them).
func New(
	log *temporal.Log,
	tree *ltm.Tree,
	sess *session.Session,
	tasksStore *tasks.Store,
	workers *worker.Registry,
	curator *curate.Orchestrator,
	bus *events.Bus,
	cfg *config.Config,
	sink Sink,
	loop AgentLoop,
	tools *toolkit.Registry,
) *Coordinator {
	return &Coordinator{
		log: log, tree: tree, sess: sess, tasks: tasksStore, workers: workers,
		curator: curator, bus: bus, cfg: cfg, sink: sink, loop: loop, tools: tools,
	}
}

// Start recovers state left behind by an unclean shutdown and launches
// the background alarm/queue poller. The returned errgroup's Wait
// blocks until ctx is cancelled; Start itself returns immediately.
func (c *Coordinator) Start(ctx context.Context) (*errgroup.Group, error) {
	killed, err := c.tasks.RecoverKilledTasks(ctx)
	if err != nil {
		return nil, err
	}
	if killed > 0 {
		c.sink.System(ctx, "recovered killed tasks on startup")
	}
	staleAfter := time.Duration(c.cfg.WorkerStaleThresholdSeconds) * time.Second
	if _, err := c.workers.CleanupStale(ctx, staleAfter); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.pollLoop(gctx)
	})
	return g, nil
}

// pollLoop wakes approximately once per AlarmPollIntervalMS, acks due
// alarms, and starts a synthetic turn when the engine is idle and there
// is background work waiting (spec.md §4.10).
func (c *Coordinator) pollLoop(ctx context.Context) error {
	interval := time.Duration(c.cfg.AlarmPollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.pollOnce(ctx); err != nil {
				logger.G(ctx).WithError(err).Warn("turn poll cycle failed")
			}
		}
	}
}

func (c *Coordinator) pollOnce(ctx context.Context) error {
	due, err := c.tasks.DueAlarms(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, a := range due {
		if err := c.tasks.AckAlarm(ctx, a.ID); err != nil {
			return err
		}
		if _, err := c.tasks.FileReport(ctx, "alarm", map[string]any{"alarm_id": a.ID, "payload": a.Payload}); err != nil {
			return err
		}
		c.bus.Emit(ctx, events.BackgroundTasksChanged, a.ID)
	}

	if c.isRunning() {
		return nil
	}
	return c.maybeStartSyntheticTurn(ctx)
}

// maybeStartSyntheticTurn drains undelivered background reports and
// queued results and, if there is anything to deliver, runs a turn
// whose user message is synthesized from them rather than typed by a
// human (spec.md §4.10's "background-triggered synthetic turn").
func (c *Coordinator) maybeStartSyntheticTurn(ctx context.Context) error {
	reports, err := c.tasks.UndeliveredReports(ctx)
	if err != nil {
		return err
	}
	queued, err := c.tasks.DrainQueue(ctx)
	if err != nil {
		return err
	}
	if len(reports) == 0 && len(queued) == 0 {
		return nil
	}

	var ids []string
	for _, r := range reports {
		ids = append(ids, r.ID)
		c.sink.System(ctx, r.Source+": "+r.Payload)
	}
	for _, q := range queued {
		c.sink.System(ctx, "queued result from "+q.TaskID+": "+q.Payload)
	}
	if err := c.tasks.MarkDelivered(ctx, ids); err != nil {
		return err
	}

	synthetic := renderSyntheticPrompt(reports, queued)
	go c.runTurn(context.WithoutCancel(ctx), synthetic)
	return nil
}

// Submit delivers one user message. If no turn is currently running it
// starts one in the background and returns immediately; otherwise the
// text is appended to the in-memory mid-turn queue for the running
// AgentLoop to pick up via Input.Injected, and a `queued` notice is
// emitted carrying the message's 1-indexed position in the queue
// (spec.md §4.10 property 7, scenario S5).
func (c *Coordinator) Submit(ctx context.Context, text string) {
	c.mu.Lock()
	if c.running {
		c.queue = append(c.queue, text)
		position := len(c.queue)
		c.mu.Unlock()
		c.sink.Notice(ctx, NoticeQueued, "message queued for mid-turn injection", map[string]any{"position": position})
		return
	}
	c.mu.Unlock()
	go c.runTurn(ctx, text)
}

// Control processes a control action immediately, bypassing the
// mid-turn queue entirely (spec.md §6).
func (c *Coordinator) Control(ctx context.Context, action ControlAction) Status {
	switch action {
	case ControlInterrupt:
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case ControlHeartbeat:
		c.sink.System(ctx, "heartbeat")
	}
	return c.status()
}

func (c *Coordinator) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Running: c.running, QueueDepth: len(c.queue)}
}

func (c *Coordinator) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// drainInjected pops every queued message at once, preserving FIFO
// order, and concatenates them into a single additional user message
// for the running turn's Input.Injected poll (spec.md §4.10: "the
// coordinator may drain the queue and hand the concatenated prompt
// back to the agent loop"). An `injected` notice carrying the drained
// count is emitted whenever anything is drained (property 7).
func (c *Coordinator) drainInjected(ctx context.Context) (string, bool) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return "", false
	}
	drained := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.sink.Notice(ctx, NoticeInjected, "queued messages injected into turn", map[string]any{"message_count": len(drained)})
	return strings.Join(drained, "\n"), true
}

func (c *Coordinator) runTurn(ctx context.Context, userMessage string) {
	c.mu.Lock()
	if c.running {
		// Another turn won the race; re-queue and let it pick this up.
		c.queue = append(c.queue, userMessage)
		c.mu.Unlock()
		return
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()

		// A mid-turn injection that arrived but was never consumed by the
		// AgentLoop (e.g. it returned before polling again) starts its own
		// follow-up turn rather than being silently dropped. The running
		// flag is released first so the follow-up is not re-queued behind
		// this finishing turn.
		if next, ok := c.drainInjected(ctx); ok {
			go c.runTurn(context.WithoutCancel(ctx), next)
		}
	}()

	c.bus.Emit(turnCtx, events.AgentTurnStarted, userMessage)
	if err := c.runTurn1(turnCtx, userMessage); err != nil {
		logger.G(turnCtx).WithError(err).Error("turn failed")
		c.sink.System(turnCtx, "turn failed: "+err.Error())
	}
	c.bus.Emit(turnCtx, events.AgentTurnCompleted, userMessage)

	if _, err := c.curator.Curate(context.WithoutCancel(turnCtx), false); err != nil {
		logger.G(turnCtx).WithError(err).Warn("post-turn curation failed")
	}
}

func (c *Coordinator) runTurn1(ctx context.Context, userMessage string) error {
	if _, err := c.log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindUser, Content: userMessage}); err != nil {
		return err
	}

	asm := assembler.New(c.log, c.tree, toAssemblerTools(c.tools))
	overlay := c.sess.SystemPromptOverlay()
	systemPrompt, _, err := asm.BuildSystemPrompt(ctx, overlay)
	if err != nil {
		return err
	}
	history, _, err := asm.BuildConversationHistory(ctx, c.cfg.TemporalBudget)
	if err != nil {
		return err
	}

	in := Input{
		UserMessage:  userMessage,
		SystemPrompt: systemPrompt,
		History:      history,
		Tools:        c.tools,
		Injected:     func() (string, bool) { return c.drainInjected(ctx) },
	}

	out, err := c.loop(ctx, in, c.sink)
	if err != nil {
		return err
	}

	for _, ev := range out.ToolEvents {
		if _, err := c.log.AppendMessage(ctx, temporal.Message{
			Kind: temporal.KindToolCall, Content: ev.Params, ToolCallID: ev.CallID, ToolName: ev.Name,
		}); err != nil {
			return err
		}
		if _, err := c.log.AppendMessage(ctx, temporal.Message{
			Kind: temporal.KindToolResult, Content: ev.Result, ToolCallID: ev.CallID, ToolName: ev.Name,
		}); err != nil {
			return err
		}
		c.sink.ToolResult(ctx, ev.CallID, ev.Name, ev.Result, ev.IsError)
	}

	if out.AssistantText != "" {
		if _, err := c.log.AppendMessage(ctx, temporal.Message{Kind: temporal.KindAssistant, Content: out.AssistantText}); err != nil {
			return err
		}
		c.sink.Assistant(ctx, out.AssistantText)
	}

	c.sink.Result(ctx, out.AssistantText)
	return nil
}

func toAssemblerTools(reg *toolkit.Registry) []assembler.Tool {
	if reg == nil {
		return nil
	}
	tools := reg.List()
	out := make([]assembler.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, assembler.Tool{Name: t.Name(), Description: t.Description()})
	}
	return out
}

func renderSyntheticPrompt(reports []tasks.BackgroundReport, queued []tasks.QueuedResult) string {
	msg := "[background update]\n"
	for _, r := range reports {
		msg += r.Source + ": " + r.Payload + "\n"
	}
	for _, q := range queued {
		msg += "result from " + q.TaskID + ": " + q.Payload + "\n"
	}
	return msg
}
