package agentrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/zhangyunhao116/agentrun/internal/gitmeta"
	"github.com/zhangyunhao116/agentrun/internal/pathutil"
	"github.com/zhangyunhao116/agentrun/internal/rollout"
	"github.com/zhangyunhao116/agentrun/model"
)

// sessionState tracks the lifecycle of a Session.
type sessionState int

const (
	stateIdle sessionState = iota
	stateRunning
	stateTerminated
)

// Session drives one conversation with the model: it streams turns,
// dispatches the tool calls the model issues, feeds results back, and
// repeats until the model stops requesting tools. A Session runs at most
// one task at a time; concurrent Sessions in one process are independent
// unless they share an ApprovalMemo.
type Session struct {
	id            string
	cfg           Config
	logger        *slog.Logger
	client        *model.Client
	exec          *executor
	confirm       ApprovalCallback
	onItem        func(model.Item)
	onEvent       func(Event)
	approvals     *ApprovalMemo
	workdir       string
	writableRoots []string
	recorder      *rollout.Recorder

	mu                 sync.Mutex
	state              sessionState
	cancelTask         context.CancelFunc
	currentTaskID      string
	pendingInput       []model.Item
	transcript         []model.Item // full history, resent each turn in ZDR mode
	previousResponseID string
	sentEnvContext     bool
	seenItemIDs        map[string]struct{}
	lastUserText       string
	lastWasUserMsg     bool
}

// NewSession validates cfg, detects the platform sandbox, and returns a
// Session ready for Run. The configuration is deep-copied; later changes
// to cfg do not affect the session.
func NewSession(cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config must not be nil", ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfgCopy := deepCopyConfig(cfg)

	logger := cfgCopy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workdir := cfgCopy.Workdir
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot determine working directory: %w", ErrConfigInvalid, err)
		}
		workdir = wd
	} else if !filepath.IsAbs(workdir) {
		abs, err := filepath.Abs(workdir)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot resolve Workdir: %w", ErrConfigInvalid, err)
		}
		workdir = abs
	}
	workdir = pathutil.Canonicalize(workdir)

	// The workdir is always the first writable root; relative extras
	// resolve against it. Roots are canonicalized so sandbox rules match
	// the paths the kernel sees, not a symlink alias.
	roots := []string{workdir}
	for _, root := range cfgCopy.AdditionalWritableRoots {
		if !filepath.IsAbs(root) {
			root = filepath.Join(workdir, root)
		}
		roots = append(roots, pathutil.Canonicalize(root))
	}

	var so sessionOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.approvals == nil {
		so.approvals = NewApprovalMemo()
	}
	client := so.client
	if client == nil {
		mc := cfgCopy.Model
		if mc.Logger == nil {
			mc.Logger = logger
		}
		client = model.NewClient(mc)
	}

	s := &Session{
		id:            uuid.NewString(),
		cfg:           cfgCopy,
		logger:        logger,
		client:        client,
		exec:          newExecutor(logger),
		confirm:       so.confirm,
		onItem:        so.onItem,
		onEvent:       so.onEvent,
		approvals:     so.approvals,
		workdir:       workdir,
		writableRoots: roots,
		seenItemIDs:   make(map[string]struct{}),
	}

	if cfgCopy.StateDir != "" {
		meta := rollout.Meta{
			ID:           s.id,
			Instructions: cfgCopy.Instructions,
			Git:          gitmeta.Collect(context.Background(), workdir),
		}
		rec, err := rollout.NewRecorder(cfgCopy.StateDir, meta, logger)
		if err != nil {
			// Persistence is best-effort: a read-only state dir must not
			// prevent the session from running.
			logger.Warn("rollout recorder disabled", "dir", cfgCopy.StateDir, "error", err)
		} else {
			s.recorder = rec
		}
	}

	return s, nil
}

// ID returns the session identifier used in rollout and history files.
func (s *Session) ID() string {
	return s.id
}

// Workdir returns the absolute working directory commands run in.
func (s *Session) Workdir() string {
	return s.workdir
}

// Run submits newItems to the conversation and drives turns until the
// model completes one without requesting any tool call. It returns
// ErrTerminated after Terminate, ErrTaskRunning while another Run is in
// flight, and nil otherwise: network failures and denied or failed
// commands are reported into the conversation, not as errors.
func (s *Session) Run(ctx context.Context, newItems []model.Item) error {
	taskID := uuid.NewString()
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	switch s.state {
	case stateTerminated:
		s.mu.Unlock()
		return ErrTerminated
	case stateRunning:
		s.mu.Unlock()
		return ErrTaskRunning
	}
	s.state = stateRunning
	s.cancelTask = cancel
	s.currentTaskID = taskID
	if !s.sentEnvContext {
		s.pendingInput = append(s.pendingInput, model.NewUserMessage(s.environmentContext()))
		s.sentEnvContext = true
	}
	s.pendingInput = append(s.pendingInput, newItems...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == stateRunning {
			s.state = stateIdle
		}
		if taskCtx.Err() != nil {
			// A cancelled turn must not be chained onto or replayed.
			s.pendingInput = nil
			s.previousResponseID = ""
		}
		s.cancelTask = nil
		s.currentTaskID = ""
		s.mu.Unlock()
	}()

	s.emitEvent(taskID, TaskStartedEvent{})
	s.recordUserHistory(newItems)

	lastAgentMessage, err := s.runTask(taskCtx, taskID)
	if err != nil {
		return err
	}
	if taskCtx.Err() != nil {
		// Cancelled tasks end without a completion event; the next Run
		// starts from a clean slate.
		return nil
	}

	s.emitEvent(taskID, TaskCompleteEvent{LastAgentMessage: lastAgentMessage})
	s.notifyTaskComplete(taskID, newItems, lastAgentMessage)
	return nil
}

// Cancel aborts the in-flight model stream and command execution, if
// any, and discards partial turn state so the next Run starts fresh. It
// is safe to call at any time, including with no task running.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelTask
	s.pendingInput = nil
	s.previousResponseID = ""
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Terminate cancels like Cancel and permanently poisons the session: all
// subsequent Run calls fail with ErrTerminated. The rollout recorder is
// flushed and closed.
func (s *Session) Terminate() {
	s.mu.Lock()
	cancel := s.cancelTask
	s.state = stateTerminated
	s.pendingInput = nil
	s.previousResponseID = ""
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.logger.Warn("rollout recorder close failed", "error", err)
		}
	}
}

// runTask loops model turns until one completes with zero function
// calls, returning the text of the last assistant message. Stream
// failures degrade into a synthetic system message and a clean return.
func (s *Session) runTask(ctx context.Context, taskID string) (string, error) {
	lastAgentMessage := ""
	for {
		turn, err := s.runTurn(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return lastAgentMessage, nil
			}
			// Non-retryable stream failure: tell the UI and end the
			// task cleanly rather than surfacing a Go error.
			msg := fmt.Sprintf("Network error while contacting the model: %v. Try again later.", err)
			s.logger.Warn("model stream failed", "task_id", taskID, "error", err)
			s.emitItem(model.NewSystemMessage(msg))
			s.emitEvent(taskID, ErrorEvent{Message: msg})
			return lastAgentMessage, nil
		}
		if turn.lastAgentMessage != "" {
			lastAgentMessage = turn.lastAgentMessage
		}
		if len(turn.nextInput) > 0 {
			// Queued even when the task ends here: a denied call's output
			// and the user's stop message must answer the dangling
			// function_call on the next request, or chaining wedges.
			s.mu.Lock()
			s.pendingInput = append(s.pendingInput, turn.nextInput...)
			s.mu.Unlock()
		}
		if turn.endTask || len(turn.nextInput) == 0 {
			return lastAgentMessage, nil
		}
	}
}

// turnResult is what one model round-trip produced.
type turnResult struct {
	// nextInput carries the tool outputs and injected messages to send
	// on the next round-trip. Empty means the turn requested nothing.
	nextInput []model.Item

	// lastAgentMessage is the last assistant message text of this turn.
	lastAgentMessage string

	// endTask is set when the user asked to stop the task.
	endTask bool

	// produced lists the items the model emitted this turn, for the
	// transcript and the rollout log.
	produced []model.Item

	// responseID chains the next turn when the server stored the
	// response.
	responseID string
}

// runTurn sends the pending input and services every event of the
// response stream. A connection or idle timeout is retried exactly once
// with the same request; any other stream failure is returned.
func (s *Session) runTurn(ctx context.Context, taskID string) (*turnResult, error) {
	prompt := s.buildPrompt()

	retried := false
	for {
		res, err := s.processTurnStream(ctx, taskID, prompt)
		if err != nil {
			if model.IsTimeout(err) && !retried && ctx.Err() == nil {
				retried = true
				s.logger.Debug("model stream timed out, retrying once", "task_id", taskID)
				continue
			}
			return nil, err
		}
		s.finishTurn(res)
		return res, nil
	}
}

// buildPrompt assembles the request for the next turn under the lock.
// With response storage the input is only the delta since the previous
// response; in ZDR mode the full transcript is resent every time.
func (s *Session) buildPrompt() *model.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := dedupeItems(s.pendingInput)
	prompt := &model.Prompt{
		Instructions: s.cfg.Instructions,
		Store:        !s.cfg.DisableResponseStorage,
	}
	if s.cfg.DisableResponseStorage {
		prompt.Input = append(append([]model.Item{}, s.transcript...), pending...)
	} else {
		prompt.Input = pending
		prompt.PreviousResponseID = s.previousResponseID
	}
	return prompt
}

// finishTurn commits the turn's bookkeeping: pending input becomes part
// of the transcript, the response id advances, and the rollout records
// what was said.
func (s *Session) finishTurn(res *turnResult) {
	s.mu.Lock()
	consumed := s.pendingInput
	s.pendingInput = nil
	if s.cfg.DisableResponseStorage {
		s.transcript = append(s.transcript, dedupeItems(consumed)...)
		s.transcript = append(s.transcript, res.produced...)
	}
	if res.responseID != "" {
		s.previousResponseID = res.responseID
	}
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Record(append(append([]model.Item{}, consumed...), res.produced...)); err != nil {
			s.logger.Warn("rollout record failed", "error", err)
		}
	}
}

// processTurnStream opens one model stream and handles its events in
// emission order. Function calls are serviced immediately and strictly
// sequentially, because later calls may depend on earlier side effects.
func (s *Session) processTurnStream(ctx context.Context, taskID string, prompt *model.Prompt) (*turnResult, error) {
	stream, err := s.client.Stream(ctx, prompt)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	res := &turnResult{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return nil, err
				}
				return res, nil
			}
			switch ev.Type {
			case model.EventOutputItemDone:
				if ev.Item != nil {
					s.handleOutputItem(ctx, taskID, *ev.Item, res)
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
				}
			case model.EventCompleted:
				res.responseID = ev.ResponseID
			}
		}
	}
}

// handleOutputItem surfaces one completed output item and, for function
// calls, services the call and queues its output for the next turn.
func (s *Session) handleOutputItem(ctx context.Context, taskID string, item model.Item, res *turnResult) {
	switch item.Type {
	case model.ItemTypeMessage:
		s.emitItem(item)
		res.produced = append(res.produced, item)
		if item.Role == model.RoleAssistant {
			res.lastAgentMessage = item.Text()
			s.emitEvent(taskID, AgentMessageEvent{Message: item.Text()})
		}
	case model.ItemTypeFunctionCall:
		s.emitItem(item)
		res.produced = append(res.produced, item)
		outcome := s.handleFunctionCall(ctx, taskID, item)
		if ctx.Err() != nil {
			// Cancelled mid-call: the output must never reach the sink
			// or the next turn.
			return
		}
		s.emitItem(outcome.output)
		res.nextInput = append(res.nextInput, outcome.output)
		res.nextInput = append(res.nextInput, outcome.extra...)
		if outcome.endTask {
			res.endTask = true
		}
	default:
		// Unknown item types pass through to the sink so a newer server
		// does not silently drop information.
		s.emitItem(item)
		res.produced = append(res.produced, item)
	}
}

// environmentContext renders the first-turn message describing where the
// agent is running and under which policy.
func (s *Session) environmentContext() string {
	sandbox := s.exec.sandboxType().String()
	network := "restricted inside the sandbox"
	if s.exec.sandboxType() == SandboxNone {
		network = "unrestricted"
	}
	return fmt.Sprintf(
		"<environment_context>\nCurrent working directory: %s\nApproval policy: %s\nSandbox: %s\nNetwork access: %s\n</environment_context>",
		s.workdir, s.cfg.ApprovalPolicy, sandbox, network)
}

// emitItem delivers an item to the sink, deduplicating by stable ID and
// collapsing consecutive byte-identical user messages.
func (s *Session) emitItem(item model.Item) {
	s.mu.Lock()
	if item.ID != "" {
		if _, seen := s.seenItemIDs[item.ID]; seen {
			s.mu.Unlock()
			return
		}
		s.seenItemIDs[item.ID] = struct{}{}
	}
	if item.Type == model.ItemTypeMessage && item.Role == model.RoleUser {
		text := item.Text()
		if s.lastWasUserMsg && text == s.lastUserText {
			s.mu.Unlock()
			return
		}
		s.lastUserText = text
		s.lastWasUserMsg = true
	} else {
		s.lastWasUserMsg = false
	}
	sink := s.onItem
	s.mu.Unlock()

	if sink != nil {
		sink(item)
	}
}

// emitEvent delivers a lifecycle event to the event sink, if any.
func (s *Session) emitEvent(taskID string, msg EventMsg) {
	if s.onEvent != nil {
		s.onEvent(Event{ID: taskID, Msg: msg})
	}
}

// recordUserHistory appends the text of user messages to the shared
// history file. Best-effort: failures are logged, never fatal.
func (s *Session) recordUserHistory(items []model.Item) {
	if s.cfg.StateDir == "" {
		return
	}
	for _, item := range items {
		if item.Type != model.ItemTypeMessage || item.Role != model.RoleUser {
			continue
		}
		if text := item.Text(); text != "" {
			if err := rollout.AppendHistory(s.cfg.StateDir, s.id, text); err != nil {
				s.logger.Warn("history append failed", "error", err)
			}
		}
	}
}

// notifyPayload is the JSON document passed to the Notify hook.
type notifyPayload struct {
	Type                 string   `json:"type"`
	TurnID               string   `json:"turn-id"`
	InputMessages        []string `json:"input-messages"`
	LastAssistantMessage string   `json:"last-assistant-message,omitempty"`
}

// notifyTaskComplete spawns the configured notify argv fire-and-forget
// with the completion payload appended as the final argument.
func (s *Session) notifyTaskComplete(taskID string, input []model.Item, lastAgentMessage string) {
	if len(s.cfg.Notify) == 0 {
		return
	}
	var msgs []string
	for _, item := range input {
		if item.Type == model.ItemTypeMessage && item.Role == model.RoleUser {
			msgs = append(msgs, item.Text())
		}
	}
	payload := notifyPayload{
		Type:                 "agent-turn-complete",
		TurnID:               taskID,
		InputMessages:        msgs,
		LastAssistantMessage: lastAgentMessage,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	argv := append(append([]string{}, s.cfg.Notify...), string(data))
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		s.logger.Warn("notify hook failed to start", "command", argv[0], "error", err)
		return
	}
	// Reap in the background so the hook never leaves a zombie.
	go func() { _ = cmd.Wait() }()
}

// dedupeItems removes items with an already-seen ID and collapses
// consecutive byte-identical user messages, preserving order otherwise.
func dedupeItems(items []model.Item) []model.Item {
	out := make([]model.Item, 0, len(items))
	seen := make(map[string]struct{})
	for _, item := range items {
		if item.ID != "" {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
		}
		if len(out) > 0 && isUserMessage(item) && isUserMessage(out[len(out)-1]) &&
			item.Text() == out[len(out)-1].Text() {
			continue
		}
		out = append(out, item)
	}
	return out
}

// isUserMessage reports whether item is a user message.
func isUserMessage(item model.Item) bool {
	return item.Type == model.ItemTypeMessage && item.Role == model.RoleUser
}
