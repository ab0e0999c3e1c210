package platform

import (
	"context"
	"os/exec"
)

// Platform defines the interface for OS-specific sandbox implementations.
// Each supported operating system provides a concrete implementation that
// applies its isolation mechanism (Seatbelt on macOS, a Landlock helper
// binary on Linux).
type Platform interface {
	// Name returns a human-readable identifier for this platform
	// (e.g., "darwin-seatbelt", "linux-landlock").
	Name() string

	// Available reports whether this platform's sandbox mechanism is
	// functional on the current system.
	Available() bool

	// CheckDependencies inspects the system for required and optional
	// dependencies needed by this platform.
	CheckDependencies() *DependencyCheck

	// WrapCommand modifies an *exec.Cmd in-place to execute within the
	// platform's sandbox, applying the restrictions described by cfg.
	WrapCommand(ctx context.Context, cmd *exec.Cmd, cfg *WrapConfig) error

	// Cleanup releases all platform-specific resources.
	Cleanup(ctx context.Context) error

	// Capabilities returns the set of isolation features this platform supports.
	Capabilities() Capabilities
}

// DependencyCheck holds the result of a dependency check.
type DependencyCheck struct {
	// Errors lists critical missing dependencies that prevent sandboxing.
	Errors []string

	// Warnings lists non-critical issues that may degrade functionality.
	Warnings []string
}

// OK returns true if no critical dependency errors were found.
func (d *DependencyCheck) OK() bool {
	return len(d.Errors) == 0
}

// Capabilities describes what isolation features a platform supports.
type Capabilities struct {
	// FileWriteRestrict indicates the platform can confine writes to the
	// configured writable roots.
	FileWriteRestrict bool

	// NetworkDeny indicates the platform can block all network access.
	NetworkDeny bool

	// SyscallFilter indicates the platform can filter system calls (e.g., seccomp).
	SyscallFilter bool

	// ProcessHarden indicates the platform can apply process hardening measures.
	ProcessHarden bool
}

// WrapConfig is the configuration passed to Platform.WrapCommand.
// It describes the desired sandbox restrictions for a single command
// execution. Reads are always permitted everywhere; only writes and
// network access are restricted.
type WrapConfig struct {
	// WritableRoots lists directories where the sandboxed process may
	// write. Entries should be absolute paths; the command's working
	// directory belongs here if it must stay writable. Platform temp
	// directories are added by each implementation.
	WritableRoots []string

	// AllowNetwork grants the sandboxed process full network access.
	// When false, outbound and inbound traffic is blocked.
	AllowNetwork bool
}

// Detect returns the appropriate Platform for the current OS.
// On darwin: returns a platform that uses sandbox-exec (Seatbelt).
// On linux: returns a platform that shells out to the Landlock helper.
// On other OS: returns an unsupported platform stub.
func Detect() Platform {
	return detectPlatform()
}
