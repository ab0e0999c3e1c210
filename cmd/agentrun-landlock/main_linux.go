//go:build linux

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/zhangyunhao116/agentrun/platform/linux"
)

// Function variables for dependency injection in tests.
var (
	hardenFn         = linux.Harden
	detectLandlockFn = linux.DetectLandlock
	applyLandlockFn  = linux.ApplyFilesystemRestrictions
	applySeccompFn   = linux.ApplyNetworkFilter
	lookPathFn       = exec.LookPath
	execFn           = syscall.Exec
)

// run parses the command line, applies the sandbox to the current process,
// and execs the target command. It only returns on failure.
func run(args []string) int {
	// Lock the OS thread: Landlock, seccomp, and prctl target the calling
	// thread, and this process either execs or exits from here.
	runtime.LockOSThread()

	fs := flag.NewFlagSet("agentrun-landlock", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [--sandbox-permission PERM]... -- <command> [args...]\n", fs.Name())
		fs.PrintDefaults()
	}
	var perms permissionFlags
	fs.Var(&perms, "sandbox-permission", "permission to grant the command (repeatable)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	command := fs.Args()
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "agentrun-landlock: no command to execute")
		fs.Usage()
		return exitUsage
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrun-landlock: getcwd: %v\n", err)
		return exitSandbox
	}

	cfg, err := parsePermissions(perms, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrun-landlock: %v\n", err)
		return exitUsage
	}

	if err := hardenFn(); err != nil {
		fmt.Fprintf(os.Stderr, "agentrun-landlock: harden: %v\n", err)
		return exitSandbox
	}

	if !cfg.fullWriteAccess {
		if ll := detectLandlockFn(); !ll.Supported {
			fmt.Fprintln(os.Stderr, "agentrun-landlock: landlock is not supported by this kernel")
			return exitUnavailable
		}
		if err := applyLandlockFn(cfg.writableRoots); err != nil {
			fmt.Fprintf(os.Stderr, "agentrun-landlock: %v\n", err)
			return exitSandbox
		}
	}

	if !cfg.networkAccess {
		if err := applySeccompFn(); err != nil {
			fmt.Fprintf(os.Stderr, "agentrun-landlock: %v\n", err)
			return exitSandbox
		}
	}

	path, err := lookPathFn(command[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrun-landlock: %v\n", err)
		return exitExec
	}
	if err := execFn(path, command, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "agentrun-landlock: exec %s: %v\n", command[0], err)
		return exitExec
	}
	return 0 // unreachable
}
