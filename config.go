package agentrun

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhangyunhao116/agentrun/internal/pathutil"
	"github.com/zhangyunhao116/agentrun/model"
	"github.com/zhangyunhao116/agentrun/safety"
)

// unknownStr is the string representation for unknown enum values.
const unknownStr = "unknown"

// FullAutoErrorMode selects what happens when a sandboxed command exits
// non-zero under the FullAuto policy. A failure inside the sandbox often
// means the sandbox itself blocked the command, so the session can either
// ask the user to retry without it or report the failure to the model.
type FullAutoErrorMode int

const (
	// FullAutoErrorAsk asks the user whether to retry the failed command
	// outside the sandbox. It is the zero value.
	FullAutoErrorAsk FullAutoErrorMode = iota

	// FullAutoErrorIgnore reports the failure to the model unchanged and
	// continues the task.
	FullAutoErrorIgnore
)

// String returns the string representation of a FullAutoErrorMode.
func (m FullAutoErrorMode) String() string {
	switch m {
	case FullAutoErrorAsk:
		return "ask"
	case FullAutoErrorIgnore:
		return "ignore"
	default:
		return unknownStr
	}
}

// Config controls a Session. The zero value is usable: it runs under the
// Suggest policy in the process working directory with no persistence.
type Config struct {
	// Model configures the streaming model client. Ignored when a client
	// is injected via WithModelClient.
	Model model.Config

	// Workdir is the directory commands run in and patch paths resolve
	// against. Empty means the process working directory at NewSession
	// time. Relative paths are made absolute.
	Workdir string

	// ApprovalPolicy governs which commands run without confirmation.
	// The zero value is safety.Suggest.
	ApprovalPolicy safety.ApprovalPolicy

	// AdditionalWritableRoots lists directories the session may modify
	// beyond the workdir and the platform temporary directories. Relative
	// entries resolve against Workdir.
	AdditionalWritableRoots []string

	// FullAutoErrorMode selects the recovery path for sandboxed command
	// failures. See the type documentation.
	FullAutoErrorMode FullAutoErrorMode

	// DisableResponseStorage resends the full conversation on every turn
	// instead of chaining on previous_response_id. Required for
	// zero-data-retention accounts.
	DisableResponseStorage bool

	// Instructions is the system prompt. In storage mode it is sent on the
	// first turn only; with DisableResponseStorage it accompanies every
	// request.
	Instructions string

	// Notify, when non-empty, is an argv spawned fire-and-forget after
	// each completed task with a JSON notification payload appended as
	// the final argument.
	Notify []string

	// StateDir is the directory for rollout and history files. Empty
	// disables persistence.
	StateDir string

	// ExecTimeout bounds a command execution when the model supplies no
	// timeout_ms. 0 means 10 seconds.
	ExecTimeout time.Duration

	// Logger receives debug and warning diagnostics. nil means
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a configuration suitable for interactive use:
// Suggest policy, process working directory, persistence disabled.
func DefaultConfig() *Config {
	return &Config{
		ApprovalPolicy: safety.Suggest,
	}
}

// Validate checks the configuration for problems that would only surface
// later as confusing failures. It returns an error wrapping
// ErrConfigInvalid listing everything wrong.
func (c *Config) Validate() error {
	var errs []string

	if c.ApprovalPolicy < safety.Suggest || c.ApprovalPolicy > safety.FullAuto {
		errs = append(errs, "ApprovalPolicy: invalid value")
	}
	if c.FullAutoErrorMode < FullAutoErrorAsk || c.FullAutoErrorMode > FullAutoErrorIgnore {
		errs = append(errs, "FullAutoErrorMode: invalid value")
	}

	if c.Workdir != "" && pathutil.ContainsNullByte(c.Workdir) {
		errs = append(errs, "Workdir: must not contain null bytes")
	}

	for i, root := range c.AdditionalWritableRoots {
		if root == "" {
			errs = append(errs, fmt.Sprintf("AdditionalWritableRoots[%d]: must not be empty", i))
			continue
		}
		if pathutil.ContainsNullByte(root) {
			errs = append(errs, fmt.Sprintf("AdditionalWritableRoots[%d]: must not contain null bytes", i))
		}
	}

	if len(c.Notify) > 0 && c.Notify[0] == "" {
		errs = append(errs, "Notify[0]: must not be empty")
	}

	if c.StateDir != "" && !filepath.IsAbs(c.StateDir) {
		errs = append(errs, fmt.Sprintf("StateDir: %q must be an absolute path", c.StateDir))
	}

	if c.ExecTimeout < 0 {
		errs = append(errs, "ExecTimeout: must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(errs, "; "))
	}

	return nil
}

// deepCopyConfig returns a copy of cfg with all slice fields deep-copied
// to prevent aliasing. The Logger and the model HTTP client are shared by
// reference intentionally.
func deepCopyConfig(cfg *Config) Config {
	cfgCopy := *cfg
	cfgCopy.AdditionalWritableRoots = append([]string{}, cfg.AdditionalWritableRoots...)
	cfgCopy.Notify = append([]string{}, cfg.Notify...)
	return cfgCopy
}
