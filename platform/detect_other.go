//go:build !darwin && !linux

package platform

// SandboxExecPath is the path to the macOS sandbox-exec binary. Unused on
// this platform; defined so cross-platform tests referencing it compile.
var SandboxExecPath = ""

// detectPlatform reports that no sandbox strategy exists for this
// operating system.
func detectPlatform() Platform {
	return &unsupportedPlatform{}
}
