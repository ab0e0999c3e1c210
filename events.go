package agentrun

// Event is one lifecycle notification delivered to the event sink while
// a task runs.
type Event struct {
	// ID identifies the task (one Run invocation) the event belongs to.
	ID string

	// Msg carries the event payload.
	Msg EventMsg
}

// EventMsg is implemented by every event payload type.
type EventMsg interface {
	eventMsg()
}

// TaskStartedEvent signals that a Run call began processing input.
type TaskStartedEvent struct{}

// TaskCompleteEvent terminates a task that ran to completion.
type TaskCompleteEvent struct {
	// LastAgentMessage is the text of the final assistant message of the
	// task, empty when the task produced none.
	LastAgentMessage string
}

// AgentMessageEvent carries one assistant message text.
type AgentMessageEvent struct {
	Message string
}

// ExecApprovalRequestEvent reports that the session is waiting on the
// approval callback for a command. It is informational; the decision
// travels through the callback.
type ExecApprovalRequestEvent struct {
	CallID  string
	Command []string
	Workdir string
	Reason  string
}

// ApplyPatchApprovalRequestEvent reports that the session is waiting on
// the approval callback for a patch.
type ApplyPatchApprovalRequestEvent struct {
	CallID string

	// Files lists the paths the patch touches.
	Files []string

	// Diff is a unified rendering of the pending changes, empty when the
	// patch does not verify against the current file contents.
	Diff string

	Reason string

	// GrantRoot is the directory approval would make writable for the
	// rest of the session, when the request stems from a path outside
	// the writable roots.
	GrantRoot string
}

// ExecCommandBeginEvent marks the start of a command execution. A
// sandbox-failure retry emits a fresh begin event with the call ID
// suffixed "-retry".
type ExecCommandBeginEvent struct {
	CallID  string
	Command []string
	Workdir string
}

// ExecCommandEndEvent marks the end of a command execution.
type ExecCommandEndEvent struct {
	CallID   string
	Stdout   string
	Stderr   string
	ExitCode int
}

// PatchApplyBeginEvent marks the start of an apply_patch application.
type PatchApplyBeginEvent struct {
	CallID string

	// AutoApproved is true when policy allowed the patch without asking.
	AutoApproved bool

	// Summary is a short per-file description of the changes.
	Summary string
}

// PatchApplyEndEvent marks the end of an apply_patch application.
type PatchApplyEndEvent struct {
	CallID  string
	Output  string
	Success bool
}

// BackgroundEvent carries a free-form progress notice, e.g. retry
// announcements.
type BackgroundEvent struct {
	Message string
}

// ErrorEvent reports a task-fatal error.
type ErrorEvent struct {
	Message string
}

func (TaskStartedEvent) eventMsg()               {}
func (TaskCompleteEvent) eventMsg()              {}
func (AgentMessageEvent) eventMsg()              {}
func (ExecApprovalRequestEvent) eventMsg()       {}
func (ApplyPatchApprovalRequestEvent) eventMsg() {}
func (ExecCommandBeginEvent) eventMsg()          {}
func (ExecCommandEndEvent) eventMsg()            {}
func (PatchApplyBeginEvent) eventMsg()           {}
func (PatchApplyEndEvent) eventMsg()             {}
func (BackgroundEvent) eventMsg()                {}
func (ErrorEvent) eventMsg()                     {}
