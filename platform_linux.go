//go:build linux

package agentrun

import (
	"github.com/zhangyunhao116/agentrun/platform"
	"github.com/zhangyunhao116/agentrun/platform/linux"
)

func init() {
	detectPlatformFn = func() platform.Platform {
		return linux.New()
	}
	platformSandboxType = SandboxLinuxLandlock
}
