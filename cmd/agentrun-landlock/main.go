// Command agentrun-landlock confines itself with Landlock filesystem rules
// and a seccomp network filter, then execs the target command. The agentrun
// Linux platform invokes it for every sandboxed execution; it is not meant to
// be run by hand.
//
// Usage:
//
//	agentrun-landlock [--sandbox-permission PERM]... -- <command> [args...]
//
// Reads are always permitted everywhere. Writes are denied except for the
// folders granted by disk-write-* permissions, and all network access is
// blocked unless network-full-access is granted. Because the restrictions are
// applied before exec, a command that starts at all is guaranteed to run
// inside the sandbox.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Exit codes follow BSD sysexits conventions so callers can tell helper
// failures apart from the wrapped command's own exit status.
const (
	exitUsage       = 64 // bad command line
	exitUnavailable = 69 // kernel lacks sandbox support
	exitSandbox     = 70 // applying restrictions failed
	exitExec        = 71 // target command could not be executed
)

// permissionFlags accumulates repeated --sandbox-permission values.
type permissionFlags []string

func (p *permissionFlags) String() string {
	return strings.Join(*p, ",")
}

func (p *permissionFlags) Set(value string) error {
	*p = append(*p, value)
	return nil
}

// sandboxConfig is the aggregate of all --sandbox-permission flags.
type sandboxConfig struct {
	fullWriteAccess bool
	networkAccess   bool
	writableRoots   []string
}

// parsePermissions folds the raw permission strings into a sandboxConfig.
// Relative disk-write-folder paths are resolved against basePath.
func parsePermissions(raw []string, basePath string) (*sandboxConfig, error) {
	cfg := &sandboxConfig{}
	for _, perm := range raw {
		if err := cfg.grant(perm, basePath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *sandboxConfig) grant(raw, basePath string) error {
	if folder, ok := strings.CutPrefix(raw, "disk-write-folder="); ok {
		if folder == "" {
			return errors.New("--sandbox-permission disk-write-folder=<PATH> requires a non-empty PATH")
		}
		if !filepath.IsAbs(folder) {
			folder = filepath.Join(basePath, folder)
		}
		c.writableRoots = append(c.writableRoots, filepath.Clean(folder))
		return nil
	}

	switch raw {
	case "disk-full-read-access":
		// Reads are always unrestricted; accepted for compatibility.
	case "disk-write-cwd":
		c.writableRoots = append(c.writableRoots, basePath)
	case "disk-write-platform-user-temp-folder":
		// $TMPDIR when the caller has a private temp dir; nothing otherwise.
		if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" && filepath.IsAbs(tmpdir) {
			c.writableRoots = append(c.writableRoots, filepath.Clean(tmpdir))
		}
	case "disk-write-platform-global-temp-folder":
		c.writableRoots = append(c.writableRoots, "/tmp")
	case "disk-full-write-access":
		c.fullWriteAccess = true
	case "network-full-access":
		c.networkAccess = true
	default:
		return fmt.Errorf("%q is not a recognized permission", raw)
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}
