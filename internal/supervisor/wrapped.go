package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/psantana5/governor/internal/classify"
	"github.com/psantana5/governor/internal/enforce"
	"github.com/psantana5/governor/internal/escalation"
	"github.com/psantana5/governor/internal/logging"
	"github.com/psantana5/governor/internal/observe"
	"github.com/psantana5/governor/internal/report"
	"github.com/psantana5/governor/internal/sampler"
)

// ExitLaunchFailed is returned when the command could not be started.
const ExitLaunchFailed = 127

// RunWrapped spawns argv in its own process group and governs it until it
// exits. The returned code is the child's exit status, 128+signal when it was
// killed by a signal.
func (s *Supervisor) RunWrapped(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 1, errors.New("no command to run")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	restoreTerminal := setProcessGroup(cmd)

	timing := observe.NewTiming()
	if err := cmd.Start(); err != nil {
		restoreTerminal()
		return ExitLaunchFailed, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	defer restoreTerminal()

	pid := cmd.Process.Pid
	s.adoptChild(pid)
	s.announce("wrapper", pid)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	s.tickLogged(ctx)

	ticker := time.NewTicker(s.policy.Interval())
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			timing.Complete()
			return s.childExited(cmd, err, timing.Duration()), nil
		case <-ctx.Done():
			return s.stopChild(cmd, exited, timing), nil
		case <-ticker.C:
			s.tickLogged(ctx)
		}
	}
}

// adoptChild makes the child the only target.
func (s *Supervisor) adoptChild(pid int) {
	s.group = &enforce.Target{PID: pid, Group: groupSignals}
	s.selector = sampler.Selector{PIDs: []int{pid}}
	s.classifier = classify.New(classify.Rules{
		TargetPIDs:        []int{pid},
		ProtectedPatterns: s.policy.ProtectedPatterns,
	})
	s.machine = escalation.NewMachine(thresholds(s.policy))
}

// stopChild terminates the child group after an interrupt: SIGTERM, the
// shutdown grace, then SIGKILL.
func (s *Supervisor) stopChild(cmd *exec.Cmd, exited <-chan error, timing *observe.Timing) int {
	grace := s.policy.ShutdownGrace()
	s.logger.Info("interrupted, stopping child", logging.Fields{
		"pid":   s.group.PID,
		"grace": grace.String(),
	})
	s.sendToChild(enforce.SignalGraceful)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	var err error
	select {
	case err = <-exited:
	case <-timer.C:
		s.logger.Warn("child ignored SIGTERM, killing", logging.Fields{"pid": s.group.PID})
		s.sendToChild(enforce.SignalForce)
		err = <-exited
	}

	timing.Complete()
	code := s.childExited(cmd, err, timing.Duration())
	s.emit(report.NewEvent(s.now(), report.EventShutdown, s.group.PID, "interrupted"))
	return code
}

func (s *Supervisor) sendToChild(sig enforce.Signal) {
	outcome, err := s.enforcer.Send(*s.group, sig)
	if err != nil {
		s.logger.Error("failed to signal child", logging.Fields{
			"pid":    s.group.PID,
			"signal": sig.String(),
			"error":  err.Error(),
		})
		return
	}
	s.logger.Debug("signalled child", logging.Fields{"signal": sig.String(), "outcome": string(outcome)})
}

// childExited reports the child's exit and returns the governor exit code.
func (s *Supervisor) childExited(cmd *exec.Cmd, waitErr error, elapsed time.Duration) int {
	code := exitStatus(cmd.ProcessState)

	fields := logging.Fields{
		"pid":       s.group.PID,
		"exit_code": code,
		"runtime":   elapsed.Round(time.Millisecond).String(),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			fields["error"] = waitErr.Error()
		}
	}

	if w, ok := s.machine.State(s.group.PID); ok {
		fields["state"] = string(w.State)
	}
	s.logger.Info("child exited", fields)

	if s.group.Group && observe.Alive(-s.group.PID) {
		s.logger.Warn("child's process group still has live members", logging.Fields{"pgid": s.group.PID})
	}

	rec := report.NewEvent(s.now(), report.EventChildExit, s.group.PID,
		fmt.Sprintf("child exited after %s", elapsed.Round(time.Millisecond))).WithExitCode(code)
	s.emit(rec)
	return code
}
