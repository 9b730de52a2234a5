//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// groupSignals is true where the child can lead its own process group.
const groupSignals = true

// setProcessGroup puts the child in its own process group. When the governor
// owns the terminal on stdin, the child's group is made the foreground group
// so it can read from the tty; the returned func hands the terminal back.
func setProcessGroup(cmd *exec.Cmd) (restore func()) {
	return configureGroup(cmd, int(os.Stdin.Fd()))
}

func configureGroup(cmd *exec.Cmd, ttyFD int) (restore func()) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	if !foregroundTerminal(ttyFD) {
		return func() {}
	}
	cmd.SysProcAttr.Foreground = true
	cmd.SysProcAttr.Ctty = ttyFD
	return func() { reclaimTerminal(ttyFD) }
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
