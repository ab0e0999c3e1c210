package agentrun

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/zhangyunhao116/agentrun/internal/envutil"
	"github.com/zhangyunhao116/agentrun/platform"
)

const (
	// defaultMaxOutputBytes is the raw capture limit for stdout/stderr
	// (10 MB per stream). The much smaller model-facing caps live in
	// result.go.
	defaultMaxOutputBytes = 10 * 1024 * 1024

	// defaultExecTimeout bounds a command when neither the model nor the
	// configuration supplies a timeout.
	defaultExecTimeout = 10 * time.Second

	// Synthetic exit codes for abnormal termination, following the shell
	// convention of 128 plus a signal-like code.
	timeoutExitCode = 128 + 64 // command exceeded its timeout
	killExitCode    = 128 + 9  // command killed by cancellation

	// sandboxNetworkEnv is set in the environment of sandboxed commands
	// so scripts can detect that outbound network access is blocked.
	sandboxNetworkEnv = "AGENTRUN_SANDBOX_NETWORK_DISABLED"
)

// detectPlatformFn is the function used to detect the sandbox platform.
// Overridden per-OS by the platform_*.go init functions and in tests.
var detectPlatformFn = platform.Detect

// platformSandboxType names the sandbox strategy the current OS provides
// when its platform reports available. Set by the platform_*.go init
// functions; SandboxNone elsewhere.
var platformSandboxType = SandboxNone

// SandboxType identifies the sandbox strategy applied to one command.
type SandboxType int

const (
	// SandboxNone spawns the command directly.
	SandboxNone SandboxType = iota

	// SandboxMacosSeatbelt wraps the command in macOS sandbox-exec with a
	// generated profile: read everywhere, write only the permitted roots.
	SandboxMacosSeatbelt

	// SandboxLinuxLandlock wraps the command in the bundled helper binary
	// that applies Landlock filesystem rules and a seccomp network filter.
	SandboxLinuxLandlock
)

// String returns the string representation of a SandboxType.
func (t SandboxType) String() string {
	switch t {
	case SandboxNone:
		return "none"
	case SandboxMacosSeatbelt:
		return "macos-seatbelt"
	case SandboxLinuxLandlock:
		return "linux-landlock"
	default:
		return unknownStr
	}
}

// executor spawns commands, optionally wrapped in the platform sandbox.
// It is stateless apart from the detected platform and safe for use from
// a single task goroutine at a time.
type executor struct {
	platform platform.Platform // nil when no sandbox backend is available
	sandbox  SandboxType
	logger   *slog.Logger
}

// newExecutor detects the platform sandbox once. Sessions on hosts
// without a working sandbox get an executor that can still run commands
// directly.
func newExecutor(logger *slog.Logger) *executor {
	e := &executor{logger: logger}
	plat := detectPlatformFn()
	if plat != nil && plat.Available() {
		e.platform = plat
		e.sandbox = platformSandboxType
	}
	return e
}

// sandboxType returns the strategy used for sandboxed runs, SandboxNone
// when the host provides none.
func (e *executor) sandboxType() SandboxType {
	return e.sandbox
}

// run executes input and captures its output. Spawn failures, timeouts,
// and non-zero exits are all reported inside the ExecResult; the error
// return is reserved for sandbox setup problems, which occur before any
// process is started.
//
// ctx is the task context: its cancellation kills the process group and
// yields a synthetic kill exit code. The timeout is layered on top.
func (e *executor) run(ctx context.Context, input ExecInput, sandbox SandboxType, writableRoots []string) (*ExecResult, error) {
	if len(input.Command) == 0 {
		return &ExecResult{ExitCode: 1, Stderr: "empty command"}, nil
	}

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, input.Command[0], input.Command[1:]...)
	cmd.Dir = input.Workdir
	cmd.Env = os.Environ()

	sandboxed := sandbox != SandboxNone
	if sandboxed {
		if e.platform == nil {
			return nil, &SandboxUnavailableError{Reason: "no sandbox backend on this host"}
		}
		cmd.Env = envutil.Set(cmd.Env, sandboxNetworkEnv, "1")
		wcfg := &platform.WrapConfig{WritableRoots: writableRoots}
		if err := e.platform.WrapCommand(execCtx, cmd, wcfg); err != nil {
			return nil, &SandboxUnavailableError{Platform: e.platform.Name(), Reason: err.Error()}
		}
	}

	res := runCapture(cmd, defaultMaxOutputBytes)
	res.Sandboxed = sandboxed

	// Distinguish deliberate termination from ordinary failure. The
	// process group is already dead at this point; only the reported
	// exit code changes.
	switch {
	case ctx.Err() != nil:
		res.ExitCode = killExitCode
	case execCtx.Err() != nil:
		res.ExitCode = timeoutExitCode
		res.Stderr = appendLine(res.Stderr, "command timed out")
	}
	return res, nil
}

// runCapture runs cmd with limited output capture and process-group
// handling. Every failure mode is folded into the ExecResult: non-zero
// exits keep their code, signals and spawn failures are represented with
// a synthetic code and stderr text.
func runCapture(cmd *exec.Cmd, maxOutput int) *ExecResult {
	var stdout, stderr bytes.Buffer
	var stdoutWriter, stderrWriter io.Writer
	stdoutWriter = &stdout
	stderrWriter = &stderr
	if maxOutput > 0 {
		stdoutWriter = &limitedWriter{buf: &stdout, limit: maxOutput}
		stderrWriter = &limitedWriter{buf: &stderr, limit: maxOutput}
	}
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	setupProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	errText := ""
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if exitCode < 0 {
				// Killed by a signal; run's caller refines the code when
				// the cause was a timeout or cancellation.
				exitCode = killExitCode
			}
		} else {
			// Spawn failure: no process ran.
			exitCode = 127
			errText = err.Error()
		}
	}

	truncated := false
	if maxOutput > 0 && (stdout.Len() >= maxOutput || stderr.Len() >= maxOutput) {
		truncated = true
	}

	return &ExecResult{
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    appendLine(stderr.String(), errText),
		Duration:  duration,
		Truncated: truncated,
	}
}

// appendLine appends line to s on its own line; empty inputs pass through.
func appendLine(s, line string) string {
	if line == "" {
		return s
	}
	if s == "" {
		return line
	}
	if s[len(s)-1] != '\n' {
		return s + "\n" + line
	}
	return s + line
}

// limitedWriter caps how many bytes reach buf, discarding the rest while
// reporting success so the child never sees a write error.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) <= remaining {
		return w.buf.Write(p)
	}
	// Write only what fits, but report full length to avoid io.ErrShortWrite.
	_, err := w.buf.Write(p[:remaining])
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
