package platform

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
)

// ---------------------------------------------------------------------------
// DependencyCheck tests
// ---------------------------------------------------------------------------

func TestDependencyCheckOK_NoErrors(t *testing.T) {
	d := &DependencyCheck{}
	if !d.OK() {
		t.Fatal("OK() should return true when Errors is empty")
	}
}

func TestDependencyCheckOK_NilSlices(t *testing.T) {
	d := &DependencyCheck{Errors: nil, Warnings: nil}
	if !d.OK() {
		t.Fatal("OK() should return true when Errors is nil")
	}
}

func TestDependencyCheckOK_WithWarningsOnly(t *testing.T) {
	d := &DependencyCheck{Warnings: []string{"minor issue"}}
	if !d.OK() {
		t.Fatal("OK() should return true when only Warnings are present")
	}
}

func TestDependencyCheckOK_WithErrors(t *testing.T) {
	d := &DependencyCheck{Errors: []string{"missing dependency"}}
	if d.OK() {
		t.Fatal("OK() should return false when Errors is non-empty")
	}
}

func TestDependencyCheckOK_WithErrorsAndWarnings(t *testing.T) {
	d := &DependencyCheck{
		Errors:   []string{"critical"},
		Warnings: []string{"minor"},
	}
	if d.OK() {
		t.Fatal("OK() should return false when Errors is non-empty, even with Warnings")
	}
}

// ---------------------------------------------------------------------------
// Capabilities tests
// ---------------------------------------------------------------------------

func TestCapabilitiesZeroValue(t *testing.T) {
	var caps Capabilities
	if caps.FileWriteRestrict || caps.NetworkDeny || caps.SyscallFilter || caps.ProcessHarden {
		t.Fatal("zero-value Capabilities should have all fields false")
	}
}

func TestCapabilitiesAllTrue(t *testing.T) {
	caps := Capabilities{
		FileWriteRestrict: true,
		NetworkDeny:       true,
		SyscallFilter:     true,
		ProcessHarden:     true,
	}
	if !caps.FileWriteRestrict || !caps.NetworkDeny || !caps.SyscallFilter || !caps.ProcessHarden {
		t.Fatal("all capabilities should be true")
	}
}

// ---------------------------------------------------------------------------
// WrapConfig tests
// ---------------------------------------------------------------------------

func TestWrapConfigFields(t *testing.T) {
	cfg := &WrapConfig{
		WritableRoots: []string{"/tmp", "/var/tmp"},
		AllowNetwork:  true,
	}

	if len(cfg.WritableRoots) != 2 {
		t.Fatalf("WritableRoots: got %d, want 2", len(cfg.WritableRoots))
	}
	if cfg.WritableRoots[0] != "/tmp" {
		t.Fatalf("WritableRoots[0]: got %q, want /tmp", cfg.WritableRoots[0])
	}
	if !cfg.AllowNetwork {
		t.Fatal("AllowNetwork: got false, want true")
	}
}

func TestWrapConfigZeroValue(t *testing.T) {
	cfg := &WrapConfig{}
	if cfg.WritableRoots != nil {
		t.Fatal("zero-value WritableRoots should be nil")
	}
	if cfg.AllowNetwork {
		t.Fatal("zero-value AllowNetwork should be false")
	}
}

// ---------------------------------------------------------------------------
// Detect tests
// ---------------------------------------------------------------------------

func TestDetectReturnsNonNil(t *testing.T) {
	p := Detect()
	if p == nil {
		t.Fatal("Detect() returned nil")
	}
}

func TestDetectNameNonEmpty(t *testing.T) {
	p := Detect()
	if p.Name() == "" {
		t.Fatal("Detect().Name() returned empty string")
	}
}

func TestDetectPlatformMatchesOS(t *testing.T) {
	p := Detect()
	switch runtime.GOOS {
	case "darwin":
		if p.Name() != "darwin-seatbelt" {
			t.Fatalf("on darwin: got Name() = %q, want darwin-seatbelt", p.Name())
		}
	case "linux":
		if p.Name() != "linux-landlock" {
			t.Fatalf("on linux: got Name() = %q, want linux-landlock", p.Name())
		}
		if p.Available() {
			t.Fatal("on linux: builtin stub Available() should return false")
		}
	default:
		if p.Name() != "unsupported" {
			t.Fatalf("on %s: got Name() = %q, want unsupported", runtime.GOOS, p.Name())
		}
		if p.Available() {
			t.Fatalf("on %s: Available() should return false", runtime.GOOS)
		}
	}
}

func TestDetectCheckDependencies(t *testing.T) {
	p := Detect()
	dc := p.CheckDependencies()
	if dc == nil {
		t.Fatal("CheckDependencies() returned nil")
	}
	// On supported platforms, the stub should have no errors.
	switch runtime.GOOS {
	case "darwin", "linux":
		if !dc.OK() {
			t.Fatalf("on %s: CheckDependencies() should be OK, got errors: %v", runtime.GOOS, dc.Errors)
		}
	}
}

func TestDetectCapabilities(t *testing.T) {
	p := Detect()
	caps := p.Capabilities()
	switch runtime.GOOS {
	case "darwin":
		if !caps.FileWriteRestrict {
			t.Fatal("darwin: FileWriteRestrict should be true")
		}
		if !caps.NetworkDeny {
			t.Fatal("darwin: NetworkDeny should be true")
		}
		// Seatbelt has no seccomp equivalent.
		if caps.SyscallFilter {
			t.Fatal("darwin: SyscallFilter should be false")
		}
	case "linux":
		if !caps.FileWriteRestrict {
			t.Fatal("linux: FileWriteRestrict should be true")
		}
		if !caps.NetworkDeny {
			t.Fatal("linux: NetworkDeny should be true")
		}
		if !caps.SyscallFilter {
			t.Fatal("linux: SyscallFilter should be true")
		}
	}
}

func TestDetectCleanup(t *testing.T) {
	p := Detect()
	if err := p.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup() returned error: %v", err)
	}
}

func TestDetectWrapCommand(t *testing.T) {
	p := Detect()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "echo", "hello")
	cfg := &WrapConfig{}
	// Stub implementations return an error; the real wrapping lives in the
	// platform/darwin and platform/linux sub-packages.
	err := p.WrapCommand(ctx, cmd, cfg)
	if runtime.GOOS == "darwin" || runtime.GOOS == "linux" {
		if err == nil {
			t.Fatal("stub WrapCommand() should return an error")
		}
	}
}

// ---------------------------------------------------------------------------
// unsupportedPlatform tests (via exported constructor)
// ---------------------------------------------------------------------------

func TestUnsupportedPlatformName(t *testing.T) {
	p := NewUnsupportedPlatform()
	if p.Name() != "unsupported" {
		t.Fatalf("Name(): got %q, want unsupported", p.Name())
	}
}

func TestUnsupportedPlatformAvailable(t *testing.T) {
	p := NewUnsupportedPlatform()
	if p.Available() {
		t.Fatal("Available() should return false for unsupported platform")
	}
}

func TestUnsupportedPlatformCheckDependencies(t *testing.T) {
	p := NewUnsupportedPlatform()
	dc := p.CheckDependencies()
	if dc == nil {
		t.Fatal("CheckDependencies() returned nil")
	}
	if dc.OK() {
		t.Fatal("unsupported platform CheckDependencies() should not be OK")
	}
	if len(dc.Errors) == 0 {
		t.Fatal("unsupported platform should have at least one error")
	}
}

func TestUnsupportedPlatformWrapCommand(t *testing.T) {
	p := NewUnsupportedPlatform()
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "echo", "hello")
	err := p.WrapCommand(ctx, cmd, &WrapConfig{})
	if err == nil {
		t.Fatal("unsupported WrapCommand() should return an error")
	}
}

func TestUnsupportedPlatformCleanup(t *testing.T) {
	p := NewUnsupportedPlatform()
	if err := p.Cleanup(context.Background()); err != nil {
		t.Fatalf("unsupported Cleanup() should not return error, got: %v", err)
	}
}

func TestUnsupportedCapabilities(t *testing.T) {
	p := NewUnsupportedPlatform()
	caps := p.Capabilities()
	if caps.FileWriteRestrict || caps.NetworkDeny || caps.SyscallFilter || caps.ProcessHarden {
		t.Fatal("unsupported platform should have all capabilities false")
	}
}

// ---------------------------------------------------------------------------
// Interface compliance
// ---------------------------------------------------------------------------

// Compile-time check that all stub types implement Platform.
var (
	_ Platform = (*unsupportedPlatform)(nil)
)
