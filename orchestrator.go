package agentrun

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/zhangyunhao116/agentrun/internal/pathutil"
	"github.com/zhangyunhao116/agentrun/model"
	"github.com/zhangyunhao116/agentrun/patch"
	"github.com/zhangyunhao116/agentrun/safety"
)

// Names of the tools the session services itself. Anything else is
// answered with an "unsupported call" output.
const (
	toolShell      = "shell"
	toolApplyPatch = "apply_patch"
)

// shellToolArgs is the decoded argument object of a shell tool call.
// TimeoutLegacy accepts the "timeout" spelling older prompts used.
type shellToolArgs struct {
	Command       []string `mapstructure:"command"`
	Workdir       string   `mapstructure:"workdir"`
	TimeoutMS     int64    `mapstructure:"timeout_ms"`
	TimeoutLegacy int64    `mapstructure:"timeout"`
}

// applyPatchToolArgs is the decoded argument object of an apply_patch
// tool call.
type applyPatchToolArgs struct {
	Patch string `mapstructure:"patch"`
}

// callOutcome is what servicing one function call produced: the output
// item answering it, any extra items to feed into the next turn (e.g. a
// user-authored denial message), and whether the user asked the whole
// task to stop.
type callOutcome struct {
	output  model.Item
	extra   []model.Item
	endTask bool
}

// decodeToolArgs unmarshals the raw JSON argument string of a function
// call and decodes it into out with weak typing, so a float64 timeout_ms
// or a []any command still land in the typed struct.
func decodeToolArgs(raw string, out any) error {
	var m map[string]any
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

// handleFunctionCall services one model-issued tool call and returns its
// outcome. It never returns an error: every failure mode becomes output
// text the model can read and react to.
func (s *Session) handleFunctionCall(ctx context.Context, taskID string, call model.Item) callOutcome {
	callID := call.CallID
	if callID == "" {
		callID = call.ID
	}
	switch call.Name {
	case toolShell:
		var args shellToolArgs
		if err := decodeToolArgs(call.Arguments, &args); err != nil {
			return failureOutcome(callID, fmt.Sprintf("failed to parse function arguments: %v", err))
		}
		timeout := args.TimeoutMS
		if timeout == 0 {
			timeout = args.TimeoutLegacy
		}
		input := ExecInput{
			Command: args.Command,
			Workdir: args.Workdir,
			Timeout: time.Duration(timeout) * time.Millisecond,
		}
		return s.handleExecCommand(ctx, taskID, callID, input)
	case toolApplyPatch:
		var args applyPatchToolArgs
		if err := decodeToolArgs(call.Arguments, &args); err != nil {
			return failureOutcome(callID, fmt.Sprintf("failed to parse function arguments: %v", err))
		}
		return s.handleApplyPatch(ctx, taskID, callID, args.Patch, false)
	default:
		return failureOutcome(callID, fmt.Sprintf("unsupported call: %s", call.Name))
	}
}

// handleExecCommand is the per-tool-call decision procedure: memo check,
// classification, optional confirmation, sandbox selection, execution,
// and the de-sandboxed retry on sandbox failure.
func (s *Session) handleExecCommand(ctx context.Context, taskID, callID string, input ExecInput) callOutcome {
	if len(input.Command) == 0 {
		return failureOutcome(callID, "aborted: empty command")
	}

	// apply_patch may arrive as a shell invocation; route it to the patch
	// path so it is classified by its targets, never spawned.
	if body, ok, err := patch.CommandBody(input.Command); ok {
		if err != nil {
			return failureOutcome(callID, fmt.Sprintf("aborted: %v", err))
		}
		return s.handleApplyPatch(ctx, taskID, callID, body, false)
	}

	if input.Workdir == "" {
		input.Workdir = s.workdir
	} else if !filepath.IsAbs(input.Workdir) {
		input.Workdir = filepath.Join(s.workdir, input.Workdir)
	}
	if input.Timeout <= 0 {
		input.Timeout = s.cfg.ExecTimeout
	}

	key := safety.CommandKey(input.Command)
	if s.approvals.Contains(key) {
		return s.execute(ctx, taskID, callID, input, SandboxNone)
	}

	assessment := safety.Classify(input.Command, s.cfg.ApprovalPolicy, s.writableRoots)

	sandbox := SandboxNone
	switch assessment.Verdict {
	case safety.Reject:
		return failureOutcome(callID, "aborted: "+assessment.Reason)
	case safety.AutoApprove:
		if assessment.RunInSandbox {
			sandbox = s.exec.sandboxType()
			if sandbox == SandboxNone {
				// Full auto wanted containment but the host provides
				// none; fall back to asking rather than running loose.
				assessment.Verdict = safety.AskUser
				assessment.Reason = "command is not on the trusted list and no sandbox is available on this host"
			}
		}
	}

	if assessment.Verdict == safety.AskUser {
		decision, out, ok := s.askExecApproval(ctx, taskID, callID, input, assessment.Reason)
		if !ok {
			return out
		}
		if decision == safety.Always {
			s.approvals.Add(key)
		}
	}

	outcome := s.execute(ctx, taskID, callID, input, sandbox)

	// A sandboxed failure is often the sandbox itself blocking a
	// legitimate write. Offer one unsandboxed re-run before reporting
	// the failure to the model.
	if sandbox != SandboxNone && !outcomeSucceeded(outcome) &&
		s.cfg.FullAutoErrorMode == FullAutoErrorAsk && ctx.Err() == nil {
		reason := "command failed; attempt to retry it without the sandbox?"
		decision, out, ok := s.askExecApproval(ctx, taskID, callID, input, reason)
		if !ok {
			return out
		}
		if decision == safety.Always {
			s.approvals.Add(key)
		}
		s.emitEvent(taskID, BackgroundEvent{Message: fmt.Sprintf("retrying command without sandbox: %s", strings.Join(input.Command, " "))})
		return s.execute(ctx, taskID, callID+"-retry", input, SandboxNone)
	}

	return outcome
}

// askExecApproval runs the confirmation callback for a command. ok is
// true only when the decision allows execution; otherwise out is the
// ready-made denial outcome.
func (s *Session) askExecApproval(ctx context.Context, taskID, callID string, input ExecInput, reason string) (safety.ReviewDecision, callOutcome, bool) {
	s.emitEvent(taskID, ExecApprovalRequestEvent{
		CallID:  callID,
		Command: input.Command,
		Workdir: input.Workdir,
		Reason:  reason,
	})
	decision := s.requestDecision(ctx, ApprovalRequest{
		CallID:  callID,
		Command: input.Command,
		Workdir: input.Workdir,
		Reason:  reason,
	})
	if decision.Approved() {
		return decision, callOutcome{}, true
	}
	return decision, s.denialOutcome(callID, decision, "command"), false
}

// denialOutcome builds the aborted output plus the user-authored message
// informing the model. The message text depends on whether the user
// stopped the task or only skipped this one action.
func (s *Session) denialOutcome(callID string, decision safety.ReviewDecision, what string) callOutcome {
	out := failureOutcome(callID, "aborted")
	switch decision {
	case safety.NoExit:
		out.extra = []model.Item{model.NewUserMessage(
			fmt.Sprintf("The user rejected the %s and asked to stop the current task.", what))}
		out.endTask = true
	case safety.Explain:
		out.extra = []model.Item{model.NewUserMessage(
			fmt.Sprintf("The user wants an explanation before approving the %s. Explain what it does and why it is needed, then propose it again.", what))}
	default:
		out.extra = []model.Item{model.NewUserMessage(
			fmt.Sprintf("The user rejected the %s. Continue the task without it.", what))}
	}
	return out
}

// execute runs input under the given sandbox strategy and renders the
// result for the model. Sandbox setup failures become output text so a
// single bad command never crashes the session.
func (s *Session) execute(ctx context.Context, taskID, callID string, input ExecInput, sandbox SandboxType) callOutcome {
	s.emitEvent(taskID, ExecCommandBeginEvent{
		CallID:  callID,
		Command: input.Command,
		Workdir: input.Workdir,
	})

	res, err := s.exec.run(ctx, input, sandbox, s.writableRoots)
	if err != nil {
		s.logger.Warn("sandbox unavailable", "command", input.Command, "error", err)
		s.emitEvent(taskID, ErrorEvent{Message: err.Error()})
		return failureOutcome(callID, err.Error())
	}

	s.emitEvent(taskID, ExecCommandEndEvent{
		CallID:   callID,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	})

	content, meta := formatOutputForModel(res)
	success := res.Success()
	return callOutcome{output: model.NewFunctionCallOutput(callID, model.FunctionOutput{
		Content:  content,
		Success:  &success,
		Metadata: &meta,
	})}
}

// handleApplyPatch classifies and applies a patch in-process. No child
// process is ever spawned for a patch; the filesystem callbacks are bound
// to the session working directory.
func (s *Session) handleApplyPatch(ctx context.Context, taskID, callID, body string, autoApproved bool) callOutcome {
	p, err := patch.Parse(patch.Normalize(body))
	if err != nil {
		return failureOutcome(callID, fmt.Sprintf("error: %v", err))
	}

	if !s.approvals.Contains("apply_patch") {
		assessment := safety.AssessPatch(p, s.cfg.ApprovalPolicy, s.writableRoots)
		switch assessment.Verdict {
		case safety.Reject:
			return failureOutcome(callID, "aborted: "+assessment.Reason)
		case safety.AskUser:
			grantRoot := s.patchGrantRoot(p)
			diff := s.renderPatchDiff(p)
			s.emitEvent(taskID, ApplyPatchApprovalRequestEvent{
				CallID:    callID,
				Files:     p.Targets(),
				Diff:      diff,
				Reason:    assessment.Reason,
				GrantRoot: grantRoot,
			})
			decision := s.requestDecision(ctx, ApprovalRequest{
				CallID:    callID,
				Reason:    assessment.Reason,
				Patch:     p,
				Diff:      diff,
				GrantRoot: grantRoot,
			})
			if !decision.Approved() {
				return s.denialOutcome(callID, decision, "patch")
			}
			if decision == safety.Always {
				s.approvals.Add("apply_patch")
			}
		case safety.AutoApprove:
			autoApproved = true
		}
	}

	commit, err := patch.ComputeCommit(p, patch.DirFS(s.workdir))
	if err != nil {
		return failureOutcome(callID, fmt.Sprintf("error: %v", err))
	}

	s.emitEvent(taskID, PatchApplyBeginEvent{
		CallID:       callID,
		AutoApproved: autoApproved,
		Summary:      patch.FormatSummary(commit),
	})

	if err := patch.ApplyCommit(commit, patch.DirFS(s.workdir)); err != nil {
		s.emitEvent(taskID, PatchApplyEndEvent{CallID: callID, Output: err.Error(), Success: false})
		return failureOutcome(callID, fmt.Sprintf("error: %v", err))
	}

	summary := patch.FormatSummary(commit)
	s.emitEvent(taskID, PatchApplyEndEvent{CallID: callID, Output: summary, Success: true})

	success := true
	return callOutcome{output: model.NewFunctionCallOutput(callID, model.FunctionOutput{
		Content: summary,
		Success: &success,
	})}
}

// patchGrantRoot returns the directory that approving the patch would
// make writable: the parent of the first target outside the current
// writable roots, empty when every target is already covered.
func (s *Session) patchGrantRoot(p *patch.Patch) string {
	for _, target := range p.Targets() {
		abs := target
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(s.workdir, abs)
		}
		abs = filepath.Clean(abs)
		covered := false
		for _, root := range s.writableRoots {
			if pathutil.WithinRoot(abs, root) {
				covered = true
				break
			}
		}
		if !covered {
			return filepath.Dir(abs)
		}
	}
	return ""
}

// renderPatchDiff builds a unified diff of the patch's pending changes
// for the confirmation prompt. Best effort: returns "" when the patch
// does not verify against the current file contents.
func (s *Session) renderPatchDiff(p *patch.Patch) string {
	commit, err := patch.ComputeCommit(p, patch.DirFS(s.workdir))
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, path := range commit.Paths() {
		change := commit.Changes[path]
		oldContent, newContent := change.OldContent, change.NewContent
		switch change.Kind {
		case patch.ChangeAdd:
			oldContent = ""
		case patch.ChangeDelete:
			newContent = ""
		}
		b.WriteString(patch.RenderUnifiedDiff(path, oldContent, newContent, 3))
	}
	return b.String()
}

// requestDecision invokes the user confirmation callback. A missing
// callback or a callback error counts as a denial that stops the task.
func (s *Session) requestDecision(ctx context.Context, req ApprovalRequest) safety.ReviewDecision {
	if s.confirm == nil {
		return safety.NoContinue
	}
	decision, err := s.confirm(ctx, req)
	if err != nil {
		s.logger.Warn("approval callback failed", "call_id", req.CallID, "error", err)
		return safety.NoExit
	}
	return decision
}

// failureOutcome builds a function output carrying msg with Success
// false.
func failureOutcome(callID, msg string) callOutcome {
	success := false
	return callOutcome{output: model.NewFunctionCallOutput(callID, model.FunctionOutput{
		Content: msg,
		Success: &success,
	})}
}

// outcomeSucceeded reports whether the outcome's output records success.
func outcomeSucceeded(o callOutcome) bool {
	out := o.output.Output
	return out != nil && out.Success != nil && *out.Success
}
