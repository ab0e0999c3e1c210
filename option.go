package agentrun

import (
	"context"

	"github.com/zhangyunhao116/agentrun/model"
	"github.com/zhangyunhao116/agentrun/patch"
	"github.com/zhangyunhao116/agentrun/safety"
)

// Option configures a Session at construction time.
type Option func(*sessionOptions)

// sessionOptions holds the collaborators applied via Option functions.
type sessionOptions struct {
	confirm   ApprovalCallback
	onItem    func(model.Item)
	onEvent   func(Event)
	approvals *ApprovalMemo
	client    *model.Client
}

// ApprovalCallback is invoked when a command or patch needs user
// confirmation. The callback should prompt the user and return a
// decision; it may block on human input and must honor ctx cancellation.
// Returning an error aborts the current task.
type ApprovalCallback func(ctx context.Context, req ApprovalRequest) (safety.ReviewDecision, error)

// ApprovalRequest describes the command or patch awaiting a decision.
type ApprovalRequest struct {
	// CallID identifies the originating tool call.
	CallID string

	// Command is the argv awaiting approval. Empty for patch requests.
	Command []string

	// Workdir is where the command would run.
	Workdir string

	// Reason explains why confirmation is needed, when the classifier or
	// a failed sandboxed run supplies one.
	Reason string

	// Patch is set when the request concerns an apply_patch call.
	Patch *patch.Patch

	// Diff is a unified rendering of the patch's pending changes, for
	// display in the confirmation prompt. Empty for command requests and
	// for patches that do not verify against the current files.
	Diff string

	// GrantRoot, when non-empty, is the directory approval would add to
	// the session's writable roots.
	GrantRoot string
}

// WithApprovalCallback installs the confirmation prompt. Without one,
// every request for confirmation is denied.
func WithApprovalCallback(cb ApprovalCallback) Option {
	return func(o *sessionOptions) {
		o.confirm = cb
	}
}

// WithItemSink registers fn to receive every conversation item the
// session produces or consumes, in order and deduplicated. fn is called
// from the task goroutine and should return quickly.
func WithItemSink(fn func(model.Item)) Option {
	return func(o *sessionOptions) {
		o.onItem = fn
	}
}

// WithEventSink registers fn to receive lifecycle events (task start and
// completion, command begin/end, patch application, background notices).
func WithEventSink(fn func(Event)) Option {
	return func(o *sessionOptions) {
		o.onEvent = fn
	}
}

// WithSharedApprovals makes the session use memo instead of a private
// approval memo, letting several sessions pool their "always approve"
// decisions.
func WithSharedApprovals(memo *ApprovalMemo) Option {
	return func(o *sessionOptions) {
		o.approvals = memo
	}
}

// WithModelClient overrides the model client built from Config.Model.
func WithModelClient(c *model.Client) Option {
	return func(o *sessionOptions) {
		o.client = c
	}
}
