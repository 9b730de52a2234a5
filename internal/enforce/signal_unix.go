//go:build unix

package enforce

import (
	"errors"

	"golang.org/x/sys/unix"
)

const platformCanSignal = true

func platformKill(pid int, sig Signal) error {
	s := unix.SIGTERM
	if sig == SignalForce {
		s = unix.SIGKILL
	}

	err := unix.Kill(pid, s)
	if errors.Is(err, unix.ESRCH) {
		return ErrGone
	}
	return err
}
