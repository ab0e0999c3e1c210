//go:build darwin

package agentrun

import (
	"github.com/zhangyunhao116/agentrun/platform"
	"github.com/zhangyunhao116/agentrun/platform/darwin"
)

func init() {
	detectPlatformFn = func() platform.Platform {
		return darwin.New()
	}
	platformSandboxType = SandboxMacosSeatbelt
}
