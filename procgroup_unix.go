//go:build darwin || linux

package agentrun

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// processGroupWaitDelay bounds how long Wait blocks on pipe reads after
// the process group was killed.
const processGroupWaitDelay = 3 * time.Second

// setupProcessGroup makes cmd the leader of a fresh session and installs
// a Cancel hook that kills the whole group, not just the direct child.
// Tool commands are frequently shells that fork further children; a
// plain per-PID kill would leave those running and holding the output
// pipes open past the timeout.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		pid := cmd.Process.Pid
		// kill(-1) would signal every process of the user and kill(0)
		// the caller's own group. Refuse rather than risk either.
		if pid <= 1 {
			return os.ErrProcessDone
		}
		err := syscall.Kill(-pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = processGroupWaitDelay
}
