// Package escalation owns per-process watch state and turns samples into
// enforcement decisions.
package escalation

import (
	"time"

	"github.com/psantana5/governor/internal/sampler"
)

// State is the escalation stage of one watched process
type State string

const (
	StateOK         State = "OK"
	StateWarned     State = "WARNED"
	StateEscalating State = "ESCALATING"
	StateTerminated State = "TERMINATED"
)

// Action is what the enforcer should do this tick
type Action string

const (
	ActionNone           Action = "NONE"
	ActionLogWarn        Action = "LOG_WARN"
	ActionSignalGraceful Action = "SIGNAL_GRACEFUL"
	ActionSignalForce    Action = "SIGNAL_FORCE"
)

// Signals reports whether the action delivers a signal.
func (a Action) Signals() bool {
	return a == ActionSignalGraceful || a == ActionSignalForce
}

// Cause records which threshold opened the current breach.
type Cause string

const (
	CauseNone   Cause = ""
	CauseMemory Cause = "memory"
	CauseCPU    Cause = "cpu"
)

// Decision is produced and consumed within a single tick.
type Decision struct {
	PID    int    `json:"pid"`
	Action Action `json:"action"`
	State  State  `json:"state"`
	Reason string `json:"reason"`
}

// WatchState is the per-pid record owned by the Machine.
type WatchState struct {
	PID           int
	State         State
	Cause         Cause
	FirstBreachAt *time.Time
	LastAction    string
	StartedAt     time.Time
	Samples       *Ring

	// force retry bookkeeping once TERMINATED
	ForceAttempts int
	NextForceAt   time.Time
	GaveUp        bool // retries exhausted and reported
}

// Thresholds is the subset of the policy the Machine needs.
type Thresholds struct {
	MaxRssMB      float64
	MaxCPUPercent float64 // 0 disables the CPU dimension
	WarnGrace     time.Duration
	KillGrace     time.Duration

	// Interval is the base of the forced-kill retry schedule
	Interval     time.Duration
	ForceRetries int
}

func (t Thresholds) memoryBreached(s sampler.ProcessSample) bool {
	return s.RssMB > t.MaxRssMB
}

func (t Thresholds) cpuBreached(s sampler.ProcessSample) bool {
	return t.MaxCPUPercent > 0 && s.CPUPercent > t.MaxCPUPercent
}
