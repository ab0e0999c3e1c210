//go:build darwin || linux

package rollout

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockMaxRetries = 10
	lockRetrySleep = 100 * time.Millisecond
)

// lockExclusive takes an exclusive advisory lock on f, retrying a bounded
// number of times while another process holds it.
func lockExclusive(f *os.File) error {
	for i := 0; i < lockMaxRetries; i++ {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("rollout: lock history file: %w", err)
		}
		time.Sleep(lockRetrySleep)
	}
	return errors.New("rollout: could not acquire exclusive lock on history file after multiple attempts")
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
