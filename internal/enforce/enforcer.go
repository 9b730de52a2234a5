// Package enforce turns escalation decisions into signals.
package enforce

import (
	"errors"
	"fmt"

	"github.com/psantana5/governor/internal/escalation"
)

// Signal is the platform independent name of a signal the governor sends.
type Signal int

const (
	SignalGraceful Signal = iota
	SignalForce
)

func (s Signal) String() string {
	if s == SignalForce {
		return "SIGKILL"
	}
	return "SIGTERM"
}

// Outcome describes what happened to one enforcement attempt.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeDelivered   Outcome = "delivered"
	OutcomeGone        Outcome = "gone"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeFailed      Outcome = "failed"
)

var (
	// ErrGone is returned by a KillFunc when the process no longer exists.
	ErrGone = errors.New("process already exited")

	// ErrUnsupported is returned by a KillFunc on platforms without signals.
	ErrUnsupported = errors.New("signal delivery not supported on this platform")
)

// KillFunc delivers sig to pid. A negative pid addresses a process group.
type KillFunc func(pid int, sig Signal) error

// Target is what a decision is enforced against. Group targets are signalled
// as a whole process group, led by PID.
type Target struct {
	PID   int
	Group bool
}

// Options configures an Enforcer.
type Options struct {
	// ObserveOnly disables signal delivery for decisions
	ObserveOnly bool

	// Kill replaces platform signal delivery
	Kill KillFunc
}

// Enforcer delivers signals for SIGNAL_GRACEFUL and SIGNAL_FORCE decisions.
// Calls never block on the target.
type Enforcer struct {
	canSignal bool
	kill      KillFunc
}

// New creates an enforcer for this platform.
func New(opts Options) *Enforcer {
	kill := opts.Kill
	capable := opts.Kill != nil || platformCanSignal
	if kill == nil {
		kill = platformKill
	}
	return &Enforcer{
		canSignal: capable && !opts.ObserveOnly,
		kill:      kill,
	}
}

// CanSignal reports whether decisions will actually be enforced.
func (e *Enforcer) CanSignal() bool {
	return e.canSignal
}

// Apply enforces one decision. Non-signal actions are a no-op.
func (e *Enforcer) Apply(d escalation.Decision, t Target) (Outcome, error) {
	if !d.Action.Signals() {
		return OutcomeNone, nil
	}
	if !e.canSignal {
		return OutcomeUnsupported, nil
	}

	sig := SignalGraceful
	if d.Action == escalation.ActionSignalForce {
		sig = SignalForce
	}
	return e.Send(t, sig)
}

// Send delivers sig to t regardless of observe-only mode. The supervisor uses
// it to stop a wrapped child it started itself.
func (e *Enforcer) Send(t Target, sig Signal) (Outcome, error) {
	if t.PID <= 1 {
		return OutcomeFailed, fmt.Errorf("refusing to send %s to pid %d", sig, t.PID)
	}

	pid := t.PID
	if t.Group {
		pid = -t.PID
	}

	err := e.kill(pid, sig)
	switch {
	case err == nil:
		return OutcomeDelivered, nil
	case errors.Is(err, ErrGone):
		return OutcomeGone, nil
	case errors.Is(err, ErrUnsupported):
		return OutcomeUnsupported, nil
	default:
		return OutcomeFailed, fmt.Errorf("failed to send %s to pid %d: %w", sig, t.PID, err)
	}
}
