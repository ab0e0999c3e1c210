//go:build darwin

package darwin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/zhangyunhao116/agentrun/platform"
)

// Platform implements the platform.Platform interface using macOS sandbox-exec
// (Seatbelt). It generates SBPL profiles from WrapConfig and rewrites
// exec.Cmd to run under sandbox-exec.
type Platform struct{}

// buildProfile builds an SBPL profile and -D parameter arguments from a
// WrapConfig. It is a package-level variable so tests can override it to
// simulate errors.
var buildProfile = func(cfg *platform.WrapConfig) (string, []string, error) {
	return newProfileBuilder().Build(cfg)
}

// New returns a new Platform instance.
func New() *Platform {
	return &Platform{}
}

// Name returns the platform identifier.
func (d *Platform) Name() string {
	return "darwin-seatbelt"
}

// Available reports whether sandbox-exec is present on this system.
func (d *Platform) Available() bool {
	_, err := os.Stat(platform.SandboxExecPath)
	return err == nil
}

// CheckDependencies inspects the system for sandbox-exec and reports any
// issues.
func (d *Platform) CheckDependencies() *platform.DependencyCheck {
	check := &platform.DependencyCheck{}

	if _, err := os.Stat(platform.SandboxExecPath); err != nil {
		check.Errors = append(check.Errors,
			fmt.Sprintf("sandbox-exec not found at %s: %v", platform.SandboxExecPath, err))
	}

	return check
}

// Capabilities returns the set of isolation features supported by the
// macOS Seatbelt sandbox.
func (d *Platform) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		FileWriteRestrict: true,
		NetworkDeny:       true,
	}
}

// WrapCommand modifies cmd in-place to execute under sandbox-exec with an
// SBPL profile generated from cfg.
//
// sandbox-exec is addressed by absolute path, never resolved via PATH, and
// DYLD_* / LD_* environment variables are stripped to prevent dynamic
// library injection.
func (d *Platform) WrapCommand(_ context.Context, cmd *exec.Cmd, cfg *platform.WrapConfig) error {
	if cfg == nil {
		cfg = &platform.WrapConfig{}
	}

	// Build the SBPL profile and the -D parameter arguments.
	profile, params, err := buildProfile(cfg)
	if err != nil {
		return fmt.Errorf("darwin-seatbelt: failed to build profile: %w", err)
	}

	// Resolve the original command path.
	origPath := cmd.Path
	if origPath == "" {
		return errors.New("darwin-seatbelt: cmd.Path is empty")
	}

	origArgs := make([]string, len(cmd.Args))
	copy(origArgs, cmd.Args)

	// sandbox-exec -p <profile> -DWRITABLE_ROOT_N=<path>... -- <command> <args...>
	cmd.Path = platform.SandboxExecPath
	newArgs := []string{"sandbox-exec", "-p", profile}
	newArgs = append(newArgs, params...)
	newArgs = append(newArgs, "--")
	if len(origArgs) > 0 {
		newArgs = append(newArgs, origArgs...)
	} else {
		newArgs = append(newArgs, origPath)
	}
	cmd.Args = newArgs

	// Sanitize environment: remove DYLD_* and LD_* variables to prevent
	// dynamic library injection into the sandboxed process.
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = sanitizeEnv(env)

	return nil
}

// Cleanup releases platform-specific resources. For the Seatbelt platform,
// this is currently a no-op.
func (d *Platform) Cleanup(_ context.Context) error {
	return nil
}
