package escalation

import (
	"fmt"
	"sort"
	"time"

	"github.com/psantana5/governor/internal/classify"
	"github.com/psantana5/governor/internal/sampler"
)

// Machine tracks every pid that has breached a threshold. It is driven by
// the supervisor's single tick goroutine and holds no locks.
type Machine struct {
	th       Thresholds
	backoff  *BackoffStrategy
	ringSize int
	watches  map[int]*WatchState
}

// NewMachine creates a machine for one policy.
func NewMachine(th Thresholds) *Machine {
	return &Machine{
		th:       th,
		backoff:  NewBackoffStrategy(th.Interval),
		ringSize: DefaultRingSize,
		watches:  make(map[int]*WatchState),
	}
}

// Observe feeds one sample and returns this tick's decision for its pid.
func (m *Machine) Observe(s sampler.ProcessSample, tag classify.Tag, now time.Time) Decision {
	switch tag {
	case classify.Protected:
		delete(m.watches, s.PID)
		return Decision{PID: s.PID, Action: ActionNone, State: StateOK, Reason: "protected"}
	case classify.Ignored:
		delete(m.watches, s.PID)
		return Decision{PID: s.PID, Action: ActionNone, State: StateOK, Reason: "not a target"}
	}

	w := m.watches[s.PID]
	if w != nil && isReused(w, s) {
		delete(m.watches, s.PID)
		w = nil
	}

	mem := m.th.memoryBreached(s)
	cpu := m.th.cpuBreached(s)

	if w == nil {
		if !mem && !cpu {
			return Decision{PID: s.PID, Action: ActionNone, State: StateOK, Reason: "within limits"}
		}
		w = &WatchState{
			PID:       s.PID,
			State:     StateOK,
			StartedAt: s.StartedAt,
			Samples:   NewRing(m.ringSize),
		}
		m.watches[s.PID] = w
	}
	w.Samples.Push(s)

	if w.State == StateTerminated {
		return m.watchdog(w, s, now)
	}

	if recovered(w, mem, cpu) {
		delete(m.watches, s.PID)
		return Decision{PID: s.PID, Action: ActionNone, State: StateOK, Reason: m.recoveredReason(w, s)}
	}

	d := Decision{PID: s.PID, Action: ActionNone}

	switch {
	case w.State == StateOK:
		w.State = StateWarned
		w.Cause = CauseCPU
		if mem {
			w.Cause = CauseMemory
		}
		w.FirstBreachAt = timePtr(now)
		d.Action = ActionLogWarn
	case w.Cause == CauseCPU && mem:
		// memory joins a CPU warning: the grace windows start now
		w.Cause = CauseMemory
		w.FirstBreachAt = timePtr(now)
		d.Action = ActionLogWarn
	}

	// CPU alone is informational and never escalates.
	if w.Cause == CauseMemory {
		elapsed := now.Sub(*w.FirstBreachAt)
		if w.State == StateWarned && elapsed >= m.th.WarnGrace {
			w.State = StateEscalating
			d.Action = ActionSignalGraceful
		}
		if w.State == StateEscalating && elapsed >= m.th.WarnGrace+m.th.KillGrace {
			w.State = StateTerminated
			d.Action = ActionSignalForce
			w.NextForceAt = now.Add(m.backoff.CalculateDelay(0))
		}
	}

	d.State = w.State
	d.Reason = m.breachReason(w, s, d.Action, now)
	if d.Action != ActionNone {
		w.LastAction = string(d.Action)
	}
	return d
}

// watchdog re-sends SIGNAL_FORCE to a TERMINATED process that is still
// reported alive, on a bounded schedule.
func (m *Machine) watchdog(w *WatchState, s sampler.ProcessSample, now time.Time) Decision {
	d := Decision{PID: s.PID, Action: ActionNone, State: StateTerminated}

	switch {
	case !m.th.memoryBreached(s):
		// a killed but unreaped process holds no memory; signalling it again is pointless
		d.Reason = "memory released after SIGNAL_FORCE, awaiting reap"
	case w.ForceAttempts >= m.th.ForceRetries && w.GaveUp:
		d.Reason = "still alive after SIGNAL_FORCE, no further signals"
	case w.ForceAttempts >= m.th.ForceRetries:
		w.GaveUp = true
		d.Reason = fmt.Sprintf("still alive after SIGNAL_FORCE, force retries exhausted (%d)", m.th.ForceRetries)
	case now.Before(w.NextForceAt):
		d.Reason = "awaiting exit after SIGNAL_FORCE"
	default:
		w.ForceAttempts++
		w.NextForceAt = now.Add(m.backoff.CalculateDelay(w.ForceAttempts))
		w.LastAction = string(ActionSignalForce)
		d.Action = ActionSignalForce
		d.Reason = fmt.Sprintf("still alive after SIGNAL_FORCE, retry %d/%d", w.ForceAttempts, m.th.ForceRetries)
	}
	return d
}

// Sweep discards state for every pid not present in this tick's samples and
// returns the removed pids.
func (m *Machine) Sweep(live map[int]bool) []int {
	var removed []int
	for pid := range m.watches {
		if !live[pid] {
			delete(m.watches, pid)
			removed = append(removed, pid)
		}
	}
	sort.Ints(removed)
	return removed
}

// State returns a copy of the watch state for pid.
func (m *Machine) State(pid int) (WatchState, bool) {
	w, ok := m.watches[pid]
	if !ok {
		return WatchState{}, false
	}
	return *w, true
}

// Snapshot returns copies of all watch states ordered by pid.
func (m *Machine) Snapshot() []WatchState {
	out := make([]WatchState, 0, len(m.watches))
	for _, w := range m.watches {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Counts returns the number of watched pids per state.
func (m *Machine) Counts() map[State]int {
	counts := map[State]int{
		StateWarned:     0,
		StateEscalating: 0,
		StateTerminated: 0,
	}
	for _, w := range m.watches {
		counts[w.State]++
	}
	return counts
}

// Len returns the number of watched pids.
func (m *Machine) Len() int {
	return len(m.watches)
}

func recovered(w *WatchState, mem, cpu bool) bool {
	switch w.Cause {
	case CauseMemory:
		return !mem
	case CauseCPU:
		return !mem && !cpu
	}
	return false
}

// isReused detects a new process that inherited a watched pid.
func isReused(w *WatchState, s sampler.ProcessSample) bool {
	if w.StartedAt.IsZero() || s.StartedAt.IsZero() {
		return false
	}
	return !w.StartedAt.Equal(s.StartedAt)
}

func (m *Machine) breachReason(w *WatchState, s sampler.ProcessSample, action Action, now time.Time) string {
	if w.Cause == CauseCPU {
		return fmt.Sprintf("cpu %.1f%% > max %.1f%% (informational)", s.CPUPercent, m.th.MaxCPUPercent)
	}

	over := fmt.Sprintf("rss %.1fMB > max %.1fMB", s.RssMB, m.th.MaxRssMB)
	elapsed := now.Sub(*w.FirstBreachAt)

	switch action {
	case ActionLogWarn:
		return over
	case ActionSignalGraceful:
		return fmt.Sprintf("%s for %s (warn grace %s)", over, elapsed, m.th.WarnGrace)
	case ActionSignalForce:
		return fmt.Sprintf("%s for %s (warn+kill grace %s), peak %.1fMB",
			over, elapsed, m.th.WarnGrace+m.th.KillGrace, w.Samples.PeakRssMB())
	}

	if w.State == StateWarned {
		return fmt.Sprintf("%s for %s, graceful stop in %s", over, elapsed, m.th.WarnGrace-elapsed)
	}
	return fmt.Sprintf("%s for %s, force kill in %s", over, elapsed, m.th.WarnGrace+m.th.KillGrace-elapsed)
}

func (m *Machine) recoveredReason(w *WatchState, s sampler.ProcessSample) string {
	if w.Cause == CauseCPU {
		return fmt.Sprintf("cpu %.1f%% back under max %.1f%%", s.CPUPercent, m.th.MaxCPUPercent)
	}
	return fmt.Sprintf("rss %.1fMB back under max %.1fMB", s.RssMB, m.th.MaxRssMB)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
