// Package report emits the structured decision stream and the governor's
// Prometheus metrics.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/psantana5/governor/internal/classify"
	"github.com/psantana5/governor/internal/enforce"
	"github.com/psantana5/governor/internal/escalation"
	"github.com/psantana5/governor/internal/sampler"
)

// Event marks records that describe the governor itself rather than a tick
// decision.
type Event string

const (
	EventStart                  Event = "start"
	EventChildExit              Event = "child_exit"
	EventPermissionDenied       Event = "permission_denied"
	EventEnforcementUnsupported Event = "enforcement_unsupported"
	EventShutdown               Event = "shutdown"
)

// Record is one line of the decision stream. The first seven fields are
// always present.
type Record struct {
	Time       time.Time         `json:"time"`
	PID        int               `json:"pid"`
	RssMB      float64           `json:"rssMB"`
	CPUPercent float64           `json:"cpuPercent"`
	State      escalation.State  `json:"state"`
	Action     escalation.Action `json:"action"`
	Reason     string            `json:"reason"`

	Command     string          `json:"command,omitempty"`
	Class       string          `json:"class,omitempty"`
	Enforcement enforce.Outcome `json:"enforcement,omitempty"`
	Event       Event           `json:"event,omitempty"`
	ExitCode    *int            `json:"exitCode,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewRecord builds the record for one sample and its decision.
func NewRecord(s sampler.ProcessSample, tag classify.Tag, d escalation.Decision) Record {
	return Record{
		Time:       s.SampledAt,
		PID:        s.PID,
		RssMB:      round1(s.RssMB),
		CPUPercent: round1(s.CPUPercent),
		State:      d.State,
		Action:     d.Action,
		Reason:     d.Reason,
		Command:    s.Command,
		Class:      tag.String(),
	}
}

// NewEvent builds a lifecycle record.
func NewEvent(now time.Time, event Event, pid int, reason string) Record {
	return Record{
		Time:   now,
		PID:    pid,
		State:  escalation.StateOK,
		Action: escalation.ActionNone,
		Reason: reason,
		Event:  event,
	}
}

// WithEnforcement attaches the enforcer's outcome.
func (r Record) WithEnforcement(o enforce.Outcome, err error) Record {
	r.Enforcement = o
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// WithExitCode attaches a child exit status.
func (r Record) WithExitCode(code int) Record {
	r.ExitCode = &code
	return r
}

// Reporter writes records as JSON lines. Safe for concurrent use.
type Reporter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	recent *EnforcementLog
}

// NewReporter creates a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Reporter{
		enc:    enc,
		recent: NewEnforcementLog(DefaultRecentSize),
	}
}

// Record writes one line. Signal decisions are also kept in the recent
// enforcement log.
func (r *Reporter) Record(rec Record) error {
	if rec.Action.Signals() {
		r.recent.Record(rec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write record for pid %d: %w", rec.PID, err)
	}
	return nil
}

// Recent returns the enforcement log.
func (r *Reporter) Recent() *EnforcementLog {
	return r.recent
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
