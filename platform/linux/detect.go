//go:build linux

package linux

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// landlockMinMajor/landlockMinMinor is the first kernel release that ships
// Landlock (LSM introduced in 5.13).
const (
	landlockMinMajor = 5
	landlockMinMinor = 13
)

// KernelVersion represents a parsed Linux kernel version.
type KernelVersion struct {
	Major, Minor, Patch int
}

// readProcVersion is a function variable for reading /proc/version.
// It is overridden in tests to simulate errors.
var readProcVersion = func() ([]byte, error) {
	return os.ReadFile("/proc/version")
}

// DetectKernelVersion reads and parses the running kernel version from /proc/version.
func DetectKernelVersion() (KernelVersion, error) {
	data, err := readProcVersion()
	if err != nil {
		return KernelVersion{}, fmt.Errorf("read /proc/version: %w", err)
	}
	// /proc/version format: "Linux version X.Y.Z-... (...)"
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return KernelVersion{}, errors.New("unexpected /proc/version format")
	}
	return ParseKernelVersion(fields[2])
}

// ParseKernelVersion parses a kernel version string like "5.15.0-generic" into
// a KernelVersion. Only the major.minor.patch components are extracted; any
// trailing suffix (e.g., "-generic") is ignored.
func ParseKernelVersion(s string) (KernelVersion, error) {
	// Strip everything after the first hyphen, plus, or space.
	if idx := strings.IndexAny(s, "-+ "); idx != -1 {
		s = s[:idx]
	}

	majorStr, rest, ok := strings.Cut(s, ".")
	if !ok {
		return KernelVersion{}, fmt.Errorf("invalid kernel version: %q", s)
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return KernelVersion{}, fmt.Errorf("invalid major version in %q: %w", s, err)
	}

	minorStr, patchStr, _ := strings.Cut(rest, ".")
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return KernelVersion{}, fmt.Errorf("invalid minor version in %q: %w", s, err)
	}

	var patch int
	if patchStr != "" {
		patch, err = strconv.Atoi(patchStr)
		if err != nil {
			return KernelVersion{}, fmt.Errorf("invalid patch version in %q: %w", s, err)
		}
	}

	return KernelVersion{Major: major, Minor: minor, Patch: patch}, nil
}

// AtLeast reports whether v is at least major.minor.
func (v KernelVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// SupportsLandlock reports whether this kernel release is new enough to ship
// Landlock. The authoritative check is the runtime ABI probe in DetectLandlock;
// this is only used to produce a clearer diagnostic on old kernels.
func (v KernelVersion) SupportsLandlock() bool {
	return v.AtLeast(landlockMinMajor, landlockMinMinor)
}

// String returns the version in "major.minor.patch" format.
func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
