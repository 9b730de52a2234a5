// Package sampler reads resident memory, CPU usage and command lines of host
// processes. It never changes anything it observes.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSample is one observation of one process. Never mutated.
type ProcessSample struct {
	PID        int           `json:"pid"`
	RssMB      float64       `json:"rssMB"`
	CPUPercent float64       `json:"cpuPercent"`
	Command    string        `json:"command"`
	SampledAt  time.Time     `json:"sampledAt"`
	StartedAt  time.Time     `json:"startedAt"` // process creation time, identifies pid reuse
	Elapsed    time.Duration `json:"elapsed"`
}

// Selector names the processes a tick is interested in.
type Selector struct {
	PIDs     []int
	Patterns []string
}

// Empty reports whether the selector would match nothing.
func (s Selector) Empty() bool {
	return len(s.PIDs) == 0 && len(s.Patterns) == 0
}

// Result is the merged outcome of one sampling pass.
type Result struct {
	Samples []ProcessSample
	Denied  []*DeniedError
	Failed  []error // unexpected per-pid errors; the pid is omitted

	// Partial is set when the pass hit its deadline before every pid was
	// queried. Absent pids in a partial result are not known to be gone.
	Partial bool
}

// Sampler is implemented once per platform family; the supervisor only sees this.
type Sampler interface {
	Sample(ctx context.Context, sel Selector) (*Result, error)
}

// DeniedError reports a process whose details could not be read.
type DeniedError struct {
	PID int
	Err error
}

// Error implements error interface
func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied reading pid %d: %v", e.PID, e.Err)
}

// Unwrap implements error unwrapping
func (e *DeniedError) Unwrap() error {
	return e.Err
}

type errKind int

const (
	errNone errKind = iota
	errVanished
	errDenied
	errOther
)

// classify sorts per-pid query errors. A process exiting between listing and
// detail query is expected and never surfaced.
func classify(err error) errKind {
	if err == nil {
		return errNone
	}
	if errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ESRCH) {
		return errVanished
	}
	if errors.Is(err, fs.ErrPermission) {
		return errDenied
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such process"),
		strings.Contains(msg, "no such file"),
		strings.Contains(msg, "process does not exist"):
		return errVanished
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "operation not permitted"):
		return errDenied
	}
	return errOther
}
