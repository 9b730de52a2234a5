//go:build unix && !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package supervisor

func foregroundTerminal(fd int) bool { return false }

func reclaimTerminal(fd int) {}
