//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zhangyunhao116/agentrun/platform"
)

// helperName is the sandbox helper binary that applies Landlock and seccomp
// restrictions to itself and then execs the target command.
const helperName = "agentrun-landlock"

// helperProbeTimeout bounds the first-use helper smoke test.
const helperProbeTimeout = 5 * time.Second

// HelperPath overrides the sandbox helper location. When empty, the helper is
// looked up next to the current executable and then on PATH.
var HelperPath string

// probeHelperFn is a function variable for the helper smoke test, overridden
// in tests.
var probeHelperFn = probeHelper

// Platform implements the platform.Platform interface by re-launching
// commands under the agentrun-landlock helper. The helper confines itself
// with Landlock filesystem rules and a seccomp network filter before
// executing the command, so the restrictions never touch the parent process.
type Platform struct {
	kernelVersion KernelVersion
	landlockABI   int

	helperOnce sync.Once
	helperPath string
	helperErr  error
}

// New creates a new Platform, detecting kernel version and Landlock support
// at construction time.
func New() *Platform {
	// DetectKernelVersion may fail in restricted environments (e.g., /proc not
	// mounted). A zero KernelVersion only affects diagnostics.
	kv, _ := DetectKernelVersion()
	ll := DetectLandlock()
	return &Platform{
		kernelVersion: kv,
		landlockABI:   ll.ABIVersion,
	}
}

// Name returns the platform identifier.
func (l *Platform) Name() string {
	return "linux-landlock"
}

// Available reports whether the sandbox helper is present and working on
// this system. The first call runs a short smoke test; the result is cached.
func (l *Platform) Available() bool {
	_, err := l.helper()
	return err == nil
}

// CheckDependencies inspects the system for the sandbox helper and kernel
// support.
func (l *Platform) CheckDependencies() *platform.DependencyCheck {
	check := &platform.DependencyCheck{}

	if !l.kernelVersion.SupportsLandlock() {
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("kernel %s < %d.%d: Landlock write restrictions unavailable",
				l.kernelVersion, landlockMinMajor, landlockMinMinor))
	} else if l.landlockABI < 1 {
		check.Warnings = append(check.Warnings,
			"Landlock disabled by kernel configuration: write restrictions unavailable")
	}

	if _, err := l.helper(); err != nil {
		check.Errors = append(check.Errors, err.Error())
	}

	return check
}

// Capabilities returns the set of isolation features supported by the Linux
// Landlock + seccomp platform.
func (l *Platform) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		FileWriteRestrict: l.landlockABI >= 1,
		NetworkDeny:       true, // via seccomp BPF
		SyscallFilter:     true, // via seccomp BPF
		ProcessHarden:     true, // via prctl
	}
}

// WrapCommand modifies cmd in-place to execute under the agentrun-landlock
// helper:
//
//	agentrun-landlock --sandbox-permission ... -- <command> <args...>
//
// The helper applies the restrictions to itself and execs the command, so a
// wrapped command that starts at all is guaranteed to be sandboxed.
func (l *Platform) WrapCommand(_ context.Context, cmd *exec.Cmd, cfg *platform.WrapConfig) error {
	if cfg == nil {
		cfg = &platform.WrapConfig{}
	}

	helper, err := l.helper()
	if err != nil {
		return fmt.Errorf("linux-landlock: %w", err)
	}

	origPath := cmd.Path
	if origPath == "" {
		return errors.New("linux-landlock: cmd.Path is empty")
	}

	origArgs := make([]string, len(cmd.Args))
	copy(origArgs, cmd.Args)

	newArgs := []string{helper}
	for _, perm := range sandboxPermissionArgs(cfg) {
		newArgs = append(newArgs, "--sandbox-permission", perm)
	}
	newArgs = append(newArgs, "--")
	if len(origArgs) > 0 {
		newArgs = append(newArgs, origArgs...)
	} else {
		newArgs = append(newArgs, origPath)
	}

	cmd.Path = helper
	cmd.Args = newArgs

	return nil
}

// Cleanup releases platform-specific resources. The helper leaves nothing
// behind, so this is a no-op.
func (l *Platform) Cleanup(_ context.Context) error {
	return nil
}

// sandboxPermissionArgs converts a WrapConfig into the helper's
// --sandbox-permission values. Reads are always unrestricted; the platform
// temp folders are always writable to match the macOS Seatbelt behavior.
func sandboxPermissionArgs(cfg *platform.WrapConfig) []string {
	perms := []string{
		"disk-full-read-access",
		"disk-write-platform-user-temp-folder",
		"disk-write-platform-global-temp-folder",
	}
	for _, root := range cfg.WritableRoots {
		perms = append(perms, "disk-write-folder="+root)
	}
	if cfg.AllowNetwork {
		perms = append(perms, "network-full-access")
	}
	return perms
}

// helper resolves and smoke-tests the sandbox helper binary once, caching
// the result for the lifetime of the Platform.
func (l *Platform) helper() (string, error) {
	l.helperOnce.Do(func() {
		path, err := resolveHelper()
		if err != nil {
			l.helperErr = err
			return
		}
		if err := probeHelperFn(path); err != nil {
			l.helperErr = err
			return
		}
		l.helperPath = path
	})
	return l.helperPath, l.helperErr
}

// resolveHelper locates the sandbox helper binary.
func resolveHelper() (string, error) {
	if HelperPath != "" {
		if _, err := os.Stat(HelperPath); err != nil {
			return "", fmt.Errorf("sandbox helper %q: %w", HelperPath, err)
		}
		return HelperPath, nil
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), helperName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(helperName)
	if err != nil {
		return "", fmt.Errorf("sandbox helper %s not found next to the executable or on PATH", helperName)
	}
	return path, nil
}

// probeHelper runs a trivial command under the helper to verify that the
// kernel supports the sandbox. A helper that exits non-zero here (for
// example on kernels without Landlock) would fail every wrapped command.
func probeHelper(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), helperProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--", "true").CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("sandbox helper %s probe failed: %w", path, err)
		}
		return fmt.Errorf("sandbox helper %s probe failed: %w: %s", path, err, msg)
	}
	return nil
}
