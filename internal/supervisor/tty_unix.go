//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package supervisor

import (
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// foregroundTerminal reports whether fd is a terminal whose foreground
// process group is the governor's own.
func foregroundTerminal(fd int) bool {
	if !term.IsTerminal(fd) {
		return false
	}
	pgrp, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	return err == nil && pgrp == unix.Getpgrp()
}

// reclaimTerminal makes the governor's process group the foreground group
// again. SIGTTOU is ignored while doing so, since the governor is then a
// background group.
func reclaimTerminal(fd int) {
	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)
	unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, unix.Getpgrp())
}
