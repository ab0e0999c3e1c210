package platform

import (
	"context"
	"errors"
	"os/exec"
)

const unsupportedName = "unsupported"

// unsupportedPlatform stands in for the sandbox on operating systems the
// package has no backend for. It never reports available and refuses to
// wrap commands, which pushes callers into their no-sandbox path.
type unsupportedPlatform struct{}

func (p *unsupportedPlatform) Name() string { return unsupportedName }

func (p *unsupportedPlatform) Available() bool { return false }

func (p *unsupportedPlatform) CheckDependencies() *DependencyCheck {
	return &DependencyCheck{
		Errors: []string{"no sandbox backend for this operating system"},
	}
}

func (p *unsupportedPlatform) WrapCommand(_ context.Context, _ *exec.Cmd, _ *WrapConfig) error {
	return errors.New("cannot sandbox commands on this operating system")
}

func (p *unsupportedPlatform) Cleanup(_ context.Context) error {
	return nil
}

func (p *unsupportedPlatform) Capabilities() Capabilities {
	return Capabilities{}
}

// NewUnsupportedPlatform returns the stub backend used when no real
// sandbox exists for the host OS. Tests also use it to exercise the
// unavailable path.
func NewUnsupportedPlatform() Platform {
	return &unsupportedPlatform{}
}
