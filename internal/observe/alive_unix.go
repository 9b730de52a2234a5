//go:build unix

package observe

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid exists. A negative pid asks about a whole
// process group. A process we may not signal still exists.
func Alive(pid int) bool {
	if pid == 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
