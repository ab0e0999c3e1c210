package safety

import (
	"strings"

	"github.com/zhangyunhao116/agentrun/patch"
)

// unknownStr is the string representation for unknown enum values.
const unknownStr = "unknown"

// ApprovalPolicy controls how much autonomy the agent has when running
// commands proposed by the model.
type ApprovalPolicy int

const (
	// Suggest requires user confirmation for every command. It is the zero
	// value, so an uninitialized policy defaults to the most restrictive
	// mode.
	Suggest ApprovalPolicy = iota

	// AutoEdit auto-approves known-safe commands and patches confined to
	// the writable roots, and asks the user about everything else.
	AutoEdit

	// FullAuto auto-approves known-safe commands unsandboxed and runs every
	// other command inside an OS-level sandbox instead of asking.
	FullAuto
)

// String returns the string representation of an ApprovalPolicy.
func (p ApprovalPolicy) String() string {
	switch p {
	case Suggest:
		return "suggest"
	case AutoEdit:
		return "auto-edit"
	case FullAuto:
		return "full-auto"
	default:
		return unknownStr
	}
}

// ReviewDecision is the user's answer to a command approval request.
type ReviewDecision int

const (
	// reviewUnset is the zero value, treated as a denial for safety.
	// It is unexported to prevent direct use.
	reviewUnset ReviewDecision = iota

	// Yes approves this one invocation.
	Yes

	// NoContinue denies the command but lets the task continue; the model
	// is told the command was not run.
	NoContinue

	// NoExit denies the command and stops the current task.
	NoExit

	// Always approves the command and asks the session to memoize its
	// CommandKey so equivalent future invocations skip confirmation.
	Always

	// Explain asks the model to explain the command before deciding.
	Explain
)

// String returns the string representation of a ReviewDecision.
func (d ReviewDecision) String() string {
	switch d {
	case reviewUnset:
		return "unset"
	case Yes:
		return "yes"
	case NoContinue:
		return "no-continue"
	case NoExit:
		return "no-exit"
	case Always:
		return "always"
	case Explain:
		return "explain"
	default:
		return unknownStr
	}
}

// Approved reports whether the decision allows the command to run.
func (d ReviewDecision) Approved() bool {
	return d == Yes || d == Always
}

// Verdict is the classification outcome for a proposed command.
type Verdict int

const (
	// AskUser indicates the command needs explicit user confirmation.
	// It is the zero value, so an uninitialized Assessment defaults to
	// requiring confirmation.
	AskUser Verdict = iota

	// AutoApprove indicates the command may run without confirmation.
	AutoApprove

	// Reject indicates the command must not run at all.
	Reject
)

// String returns the string representation of a Verdict.
func (v Verdict) String() string {
	switch v {
	case AskUser:
		return "ask-user"
	case AutoApprove:
		return "auto-approve"
	case Reject:
		return "reject"
	default:
		return unknownStr
	}
}

// Assessment holds the outcome of classifying one command.
type Assessment struct {
	// Verdict is the classification decision.
	Verdict Verdict

	// Reason is a short human-readable explanation of the decision.
	Reason string

	// Group buckets related commands for display ("Searching",
	// "Versioning"). Set when a known-safe shape matched.
	Group string

	// RunInSandbox requests OS-level isolation for an auto-approved
	// command.
	RunInSandbox bool
}

// CommandKey derives the identity used to memoize "always approve"
// decisions. Patch applications share the single key "apply_patch", a
// bash -lc script is keyed by its leading token, and anything else is
// keyed by its program name.
func CommandKey(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	if _, ok, _ := patch.CommandBody(argv); ok {
		return "apply_patch"
	}
	if isBashScript(argv) {
		if fields := strings.Fields(argv[2]); len(fields) > 0 {
			return fields[0]
		}
		return "bash"
	}
	return argv[0]
}

// Classify decides how a proposed command should be handled under the given
// approval policy. It is a pure function of its arguments: identical inputs
// always yield identical assessments.
//
// Patch applications are classified by the paths the patch touches rather
// than as opaque shell commands. writableRoots lists the directories the
// session may modify; entries should be absolute, and the first entry
// doubles as the base for resolving relative patch targets.
func Classify(argv []string, policy ApprovalPolicy, writableRoots []string) Assessment {
	if len(argv) == 0 {
		return Assessment{Verdict: Reject, Reason: "empty command"}
	}

	if body, ok, err := patch.CommandBody(argv); ok {
		if err != nil {
			return Assessment{Verdict: Reject, Reason: err.Error()}
		}
		p, err := patch.Parse(patch.Normalize(body))
		if err != nil {
			return Assessment{Verdict: Reject, Reason: err.Error()}
		}
		return AssessPatch(p, policy, writableRoots)
	}

	switch policy {
	case AutoEdit, FullAuto:
		if sh, ok := knownSafe(argv); ok {
			return Assessment{Verdict: AutoApprove, Reason: sh.reason, Group: sh.group}
		}
		if policy == FullAuto {
			return Assessment{
				Verdict:      AutoApprove,
				Reason:       "Full auto mode",
				Group:        "Running commands",
				RunInSandbox: true,
			}
		}
	}
	return Assessment{Verdict: AskUser}
}

// knownSafe reports whether argv matches a known-safe shape, either
// directly or as a bash -lc script whose every command is itself known
// safe.
func knownSafe(argv []string) (shape, bool) {
	if sh, ok := matchShape(argv); ok {
		return sh, true
	}
	if isBashScript(argv) {
		return scriptKnownSafe(argv[2])
	}
	return shape{}, false
}

// isBashScript reports whether argv is exactly ["bash", "-lc", script].
func isBashScript(argv []string) bool {
	return len(argv) == 3 && argv[0] == "bash" && argv[1] == "-lc"
}
