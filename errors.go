package agentrun

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the agentrun package.
var (
	// ErrTerminated indicates Run was called on a terminated session.
	ErrTerminated = errors.New("agentrun: session terminated")

	// ErrTaskRunning indicates Run was called while another task is in flight.
	ErrTaskRunning = errors.New("agentrun: a task is already running")

	// ErrSandboxUnavailable indicates a command required an OS sandbox that
	// this host cannot provide.
	ErrSandboxUnavailable = errors.New("agentrun: sandbox unavailable")

	// ErrConfigInvalid indicates the provided configuration failed validation.
	ErrConfigInvalid = errors.New("agentrun: invalid configuration")
)

// SandboxUnavailableError is returned when a command was supposed to run
// inside an OS sandbox but the sandbox could not be set up. It wraps
// ErrSandboxUnavailable so that errors.Is(err, ErrSandboxUnavailable)
// still works.
type SandboxUnavailableError struct {
	// Platform names the sandbox backend that failed, e.g. "macos-seatbelt".
	Platform string
	// Reason explains what is missing and how to remedy it.
	Reason string
}

func (e *SandboxUnavailableError) Error() string {
	if e.Platform == "" {
		return fmt.Sprintf("%s: %s", ErrSandboxUnavailable.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSandboxUnavailable.Error(), e.Platform, e.Reason)
}

func (e *SandboxUnavailableError) Unwrap() error {
	return ErrSandboxUnavailable
}
