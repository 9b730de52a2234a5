//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

const groupSignals = false

func setProcessGroup(cmd *exec.Cmd) (restore func()) { return func() {} }

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	return state.ExitCode()
}
