//go:build darwin

package darwin

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/zhangyunhao116/agentrun/platform"
)

// ---------------------------------------------------------------------------
// Platform basic tests
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("New() returned nil")
	}
}

func TestName(t *testing.T) {
	p := New()
	if p.Name() != "darwin-seatbelt" {
		t.Fatalf("Name() = %q, want darwin-seatbelt", p.Name())
	}
}

func TestAvailable(t *testing.T) {
	p := New()
	// On macOS, sandbox-exec should be available.
	if !p.Available() {
		t.Fatal("Available() should return true on macOS")
	}
}

func TestCheckDependencies(t *testing.T) {
	p := New()
	dc := p.CheckDependencies()
	if dc == nil {
		t.Fatal("CheckDependencies() returned nil")
	}
	if !dc.OK() {
		t.Fatalf("CheckDependencies() should be OK on macOS, got errors: %v", dc.Errors)
	}
}

func TestCapabilities(t *testing.T) {
	p := New()
	caps := p.Capabilities()

	if !caps.FileWriteRestrict {
		t.Error("FileWriteRestrict should be true")
	}
	if !caps.NetworkDeny {
		t.Error("NetworkDeny should be true")
	}
	// Seatbelt does not install a syscall filter or harden the process.
	if caps.SyscallFilter {
		t.Error("SyscallFilter should be false")
	}
	if caps.ProcessHarden {
		t.Error("ProcessHarden should be false")
	}
}

func TestCleanup(t *testing.T) {
	p := New()
	if err := p.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// WrapCommand tests
// ---------------------------------------------------------------------------

// separatorIndex returns the position of "--" in args, or -1.
func separatorIndex(args []string) int {
	for i, a := range args {
		if a == "--" {
			return i
		}
	}
	return -1
}

func TestWrapCommandModifiesCmd(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "hello", "world")

	cfg := &platform.WrapConfig{
		WritableRoots: []string{"/tmp"},
	}

	err := p.WrapCommand(ctx, cmd, cfg)
	if err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	// cmd.Path should be sandbox-exec.
	if cmd.Path != platform.SandboxExecPath {
		t.Errorf("cmd.Path = %q, want %q", cmd.Path, platform.SandboxExecPath)
	}

	// cmd.Args should be [sandbox-exec, -p, <profile>, -D..., --, <orig>...]
	if len(cmd.Args) < 5 {
		t.Fatalf("cmd.Args too short: %v", cmd.Args)
	}
	if cmd.Args[0] != "sandbox-exec" {
		t.Errorf("cmd.Args[0] = %q, want sandbox-exec", cmd.Args[0])
	}
	if cmd.Args[1] != "-p" {
		t.Errorf("cmd.Args[1] = %q, want -p", cmd.Args[1])
	}
	// Args[2] is the profile string.
	if !strings.Contains(cmd.Args[2], "(version 1)") {
		t.Error("profile in cmd.Args[2] missing (version 1)")
	}

	sep := separatorIndex(cmd.Args)
	if sep < 3 {
		t.Fatalf("cmd.Args missing -- separator: %v", cmd.Args)
	}
	// Everything between the profile and the separator is a -D parameter.
	for _, a := range cmd.Args[3:sep] {
		if !strings.HasPrefix(a, "-D"+writableRootParamPrefix) {
			t.Errorf("unexpected argument before --: %q", a)
		}
	}
	// Original command and args follow the separator.
	rest := cmd.Args[sep+1:]
	if len(rest) != 3 {
		t.Fatalf("args after -- = %v, want [/bin/echo hello world]", rest)
	}
	if rest[0] != "/bin/echo" || rest[1] != "hello" || rest[2] != "world" {
		t.Errorf("args after -- = %v, want [/bin/echo hello world]", rest)
	}
}

func TestWrapCommandParamsCarryWritableRoots(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "test")

	cfg := &platform.WrapConfig{
		WritableRoots: []string{"/Users/test/project"},
	}

	if err := p.WrapCommand(ctx, cmd, cfg); err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	sep := separatorIndex(cmd.Args)
	if sep < 0 {
		t.Fatalf("cmd.Args missing -- separator: %v", cmd.Args)
	}
	found := false
	for _, a := range cmd.Args[3:sep] {
		if strings.HasSuffix(a, "=/Users/test/project") {
			found = true
		}
	}
	if !found {
		t.Errorf("no -D parameter carries the writable root: %v", cmd.Args[3:sep])
	}
	// The path must not leak into the profile text itself.
	if strings.Contains(cmd.Args[2], "/Users/test/project") {
		t.Error("writable root path should not appear in the profile text")
	}
}

func TestWrapCommandNilConfig(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "test")

	// nil config should not panic.
	err := p.WrapCommand(ctx, cmd, nil)
	if err != nil {
		t.Fatalf("WrapCommand(nil config) error: %v", err)
	}
	if cmd.Path != platform.SandboxExecPath {
		t.Errorf("cmd.Path = %q, want %q", cmd.Path, platform.SandboxExecPath)
	}
}

func TestWrapCommandEmptyPath(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := &exec.Cmd{}

	err := p.WrapCommand(ctx, cmd, &platform.WrapConfig{})
	if err == nil {
		t.Fatal("WrapCommand() should return error for empty cmd.Path")
	}
}

func TestWrapCommandSanitizesEnv(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "test")
	cmd.Env = []string{
		"PATH=/usr/bin",
		"DYLD_LIBRARY_PATH=/bad",
		"HOME=/Users/test",
		"DYLD_INSERT_LIBRARIES=/evil",
	}

	err := p.WrapCommand(ctx, cmd, &platform.WrapConfig{})
	if err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	for _, e := range cmd.Env {
		if strings.HasPrefix(e, "DYLD_") {
			t.Errorf("DYLD_* var should be removed: %s", e)
		}
	}
}

func TestWrapCommandDefaultEnv(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "test")
	// cmd.Env is nil, should use os.Environ().

	err := p.WrapCommand(ctx, cmd, &platform.WrapConfig{})
	if err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	if cmd.Env == nil {
		t.Fatal("cmd.Env should not be nil after WrapCommand")
	}

	// Should contain PATH from os.Environ().
	hasPath := false
	for _, e := range cmd.Env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
			break
		}
	}
	if !hasPath {
		t.Error("cmd.Env should contain PATH from os.Environ()")
	}
}

// TestWrapCommandNoArgs verifies WrapCommand with a command that has no Args
// (only Path set).
func TestWrapCommandNoArgs(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := &exec.Cmd{Path: "/bin/echo"}
	// cmd.Args is nil, WrapCommand should use origPath as the argument.

	err := p.WrapCommand(ctx, cmd, &platform.WrapConfig{})
	if err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	// The last arg should be the original path since Args was empty.
	lastArg := cmd.Args[len(cmd.Args)-1]
	if lastArg != "/bin/echo" {
		t.Errorf("last arg = %q, want /bin/echo", lastArg)
	}
}

func TestWrapCommandNetworkDeniedByDefault(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "test")

	if err := p.WrapCommand(ctx, cmd, &platform.WrapConfig{}); err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	profile := cmd.Args[2]
	if !strings.Contains(profile, "(deny network*)") {
		t.Error("profile should deny network by default")
	}
}

func TestWrapCommandNetworkAllowed(t *testing.T) {
	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "test")

	cfg := &platform.WrapConfig{AllowNetwork: true}
	if err := p.WrapCommand(ctx, cmd, cfg); err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	profile := cmd.Args[2]
	if !strings.Contains(profile, "(allow network-outbound)") {
		t.Error("profile should allow outbound network when AllowNetwork is true")
	}
	if strings.Contains(profile, "(deny network*)") {
		t.Error("profile should not deny network when AllowNetwork is true")
	}
}

// ---------------------------------------------------------------------------
// Interface compliance
// ---------------------------------------------------------------------------

// Compile-time check that Platform implements platform.Platform.
var _ platform.Platform = (*Platform)(nil)

// ---------------------------------------------------------------------------
// Integration test: actually run sandbox-exec
// ---------------------------------------------------------------------------

func TestWrapCommandIntegration(t *testing.T) {
	if os.Getenv("CI") != "" {
		t.Skip("skipping integration test in CI")
	}

	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "sandbox-test")

	cfg := &platform.WrapConfig{
		WritableRoots: []string{"/tmp"},
	}

	err := p.WrapCommand(ctx, cmd, cfg)
	if err != nil {
		t.Fatalf("WrapCommand() error: %v", err)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("sandbox-exec failed: %v\noutput: %s", err, out)
	}

	if !strings.Contains(string(out), "sandbox-test") {
		t.Errorf("expected output to contain 'sandbox-test', got: %s", out)
	}
}

// ---------------------------------------------------------------------------
// CheckDependencies with missing sandbox-exec (SandboxExecPath override)
// ---------------------------------------------------------------------------

func TestCheckDependencies_MissingSandboxExec(t *testing.T) {
	// Temporarily override SandboxExecPath to a nonexistent path.
	orig := platform.SandboxExecPath
	platform.SandboxExecPath = "/nonexistent/sandbox-exec"
	t.Cleanup(func() {
		platform.SandboxExecPath = orig
	})

	p := New()
	dc := p.CheckDependencies()
	if dc == nil {
		t.Fatal("CheckDependencies() returned nil")
	}
	if dc.OK() {
		t.Fatal("CheckDependencies() should report errors when sandbox-exec is missing")
	}
	if !strings.Contains(dc.Errors[0], "sandbox-exec not found") {
		t.Errorf("error message should mention sandbox-exec not found, got: %s", dc.Errors[0])
	}
}

func TestAvailable_MissingSandboxExec(t *testing.T) {
	// Temporarily override SandboxExecPath to a nonexistent path.
	orig := platform.SandboxExecPath
	platform.SandboxExecPath = "/nonexistent/sandbox-exec"
	t.Cleanup(func() {
		platform.SandboxExecPath = orig
	})

	p := New()
	if p.Available() {
		t.Fatal("Available() should return false when sandbox-exec is missing")
	}
}

// ---------------------------------------------------------------------------
// WrapCommand: Build error path
// ---------------------------------------------------------------------------

func TestWrapCommand_BuildProfileError(t *testing.T) {
	// Override buildProfile to return an error.
	origBuild := buildProfile
	buildProfile = func(_ *platform.WrapConfig) (string, []string, error) {
		return "", nil, errors.New("simulated build failure")
	}
	t.Cleanup(func() {
		buildProfile = origBuild
	})

	p := New()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/bin/echo", "test")

	err := p.WrapCommand(ctx, cmd, &platform.WrapConfig{})
	if err == nil {
		t.Fatal("WrapCommand() should return error when profile build fails")
	}
	if !strings.Contains(err.Error(), "failed to build profile") {
		t.Errorf("error should mention build failure, got: %v", err)
	}
}
