// Package supervisor drives the tick loop: sample, classify, decide, enforce,
// report. It owns cancellation and the wrapped child, if any.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/psantana5/governor/internal/classify"
	"github.com/psantana5/governor/internal/enforce"
	"github.com/psantana5/governor/internal/escalation"
	"github.com/psantana5/governor/internal/logging"
	"github.com/psantana5/governor/internal/observe"
	"github.com/psantana5/governor/internal/policy"
	"github.com/psantana5/governor/internal/report"
	"github.com/psantana5/governor/internal/sampler"
)

// Config wires a Supervisor. Only Policy and Sampler are required.
type Config struct {
	Policy   *policy.Policy
	Sampler  sampler.Sampler
	Enforcer *enforce.Enforcer
	Reporter *report.Reporter
	Metrics  *report.Metrics
	Health   *HealthCheck
	Logger   *logging.Logger
	Notifier Notifier

	// Now is the decision clock
	Now func() time.Time
}

// Supervisor runs one policy for one governor process.
type Supervisor struct {
	policy     *policy.Policy
	sampler    sampler.Sampler
	classifier *classify.Classifier
	machine    *escalation.Machine
	enforcer   *enforce.Enforcer
	reporter   *report.Reporter
	metrics    *report.Metrics
	health     *HealthCheck
	logger     *logging.Logger
	notifier   Notifier
	now        func() time.Time

	selector sampler.Selector

	// group is set in wrapper mode; the child leads its own process group
	group *enforce.Target

	denied   map[int]bool
	throttle *logThrottle
}

// New creates a supervisor. The policy must already be normalized and valid.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("supervisor: policy is required")
	}
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("supervisor: sampler is required")
	}

	p := cfg.Policy
	if cfg.Enforcer == nil {
		cfg.Enforcer = enforce.New(enforce.Options{ObserveOnly: p.ObserveOnly})
	}
	if cfg.Reporter == nil {
		cfg.Reporter = report.NewReporter(io.Discard)
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthCheck(p.Interval())
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Supervisor{
		policy:   p,
		sampler:  cfg.Sampler,
		enforcer: cfg.Enforcer,
		reporter: cfg.Reporter,
		metrics:  cfg.Metrics,
		health:   cfg.Health,
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
		now:      cfg.Now,
		selector: sampler.Selector{
			PIDs:     p.TargetPids,
			Patterns: p.TargetPatterns,
		},
		denied:   make(map[int]bool),
		throttle: newLogThrottle(logWarnEvery, cfg.Now),
	}
	s.classifier = classify.New(classify.Rules{
		TargetPIDs:        p.TargetPids,
		TargetPatterns:    p.TargetPatterns,
		ProtectedPatterns: p.ProtectedPatterns,
	})
	s.machine = escalation.NewMachine(thresholds(p))
	return s, nil
}

func thresholds(p *policy.Policy) escalation.Thresholds {
	return escalation.Thresholds{
		MaxRssMB:      p.MaxRssMB,
		MaxCPUPercent: p.MaxCPUPercent,
		WarnGrace:     p.WarnGrace(),
		KillGrace:     p.KillGrace(),
		Interval:      p.Interval(),
		ForceRetries:  p.ForceRetries,
	}
}

// Health returns the loop's health check.
func (s *Supervisor) Health() *HealthCheck {
	return s.health
}

// Machine returns the escalation state machine.
func (s *Supervisor) Machine() *escalation.Machine {
	return s.machine
}

// Tick runs one sample-decide-enforce pass. Only a failure to read the
// process table is returned; per-pid problems are reported and skipped.
func (s *Supervisor) Tick(ctx context.Context) error {
	timing := observe.NewTimingWithClock(time.Now)

	res, err := s.sampler.Sample(ctx, s.selector)
	if err != nil {
		s.health.RecordTickFailure(err)
		s.metrics.RecordTickFailure()
		return fmt.Errorf("tick: %w", err)
	}

	s.handleDenied(res.Denied)
	if len(res.Failed) > 0 && s.throttle.Allow("sample") {
		s.logger.Warn("processes skipped after sampling errors", logging.Fields{
			"count": len(res.Failed),
			"error": res.Failed[0].Error(),
		})
	}

	now := s.now()
	live := make(map[int]bool, len(res.Samples))
	counts := make(map[classify.Tag]int)

	for _, smp := range res.Samples {
		live[smp.PID] = true
		tag := s.classifier.Classify(smp)
		counts[tag]++

		d := s.machine.Observe(smp, tag, now)
		if tag == classify.Ignored {
			continue
		}
		s.act(smp, tag, d)
	}

	// a partial pass says nothing about absent pids
	if !res.Partial {
		for _, pid := range s.machine.Sweep(live) {
			s.throttle.Forget(enforceKey(pid))
			s.logger.Debug("process gone, watch state dropped", logging.Fields{"pid": pid})
		}
	} else if s.throttle.Allow("partial") {
		s.logger.Warn("sampling pass incomplete, keeping watch state", logging.Fields{
			"sampled": len(res.Samples),
		})
	}

	timing.Complete()
	s.metrics.SetSampled(counts)
	s.metrics.SetWatched(s.machine.Counts())
	s.metrics.ObserveTick(timing.Duration(), res.Partial)
	s.health.RecordTickSuccess()
	return nil
}

// act enforces and reports one decision.
func (s *Supervisor) act(smp sampler.ProcessSample, tag classify.Tag, d escalation.Decision) {
	target := enforce.Target{PID: smp.PID}
	if s.group != nil && smp.PID == s.group.PID {
		target = *s.group
	}

	outcome, err := s.enforcer.Apply(d, target)
	rec := report.NewRecord(smp, tag, d).WithEnforcement(outcome, err)
	if rerr := s.reporter.Record(rec); rerr != nil {
		s.logger.Error("failed to write decision record", logging.Fields{"error": rerr.Error()})
	}
	s.metrics.RecordDecision(d, outcome)

	fields := logging.Fields{
		"pid":     smp.PID,
		"rss_mb":  rec.RssMB,
		"state":   string(d.State),
		"action":  string(d.Action),
		"reason":  d.Reason,
		"command": truncate(smp.Command, 80),
	}

	switch {
	case err != nil:
		fields["error"] = err.Error()
		fields["max_rss_mb"] = s.policy.MaxRssMB
		if s.throttle.Allow(enforceKey(smp.PID)) {
			s.logger.Error("enforcement failed", fields)
		}
	case d.Action.Signals():
		fields["enforcement"] = string(outcome)
		s.logger.Warn("enforcing", fields)
	case d.Action == escalation.ActionLogWarn:
		s.logger.Warn("threshold breached", fields)
	}
}

// handleDenied warns once per pid per run.
func (s *Supervisor) handleDenied(denied []*sampler.DeniedError) {
	for _, de := range denied {
		s.metrics.RecordDenied()
		if s.denied[de.PID] {
			continue
		}
		s.denied[de.PID] = true

		s.logger.Warn("permission denied, process ignored", logging.Fields{
			"pid":   de.PID,
			"error": de.Err.Error(),
		})
		rec := report.NewEvent(s.now(), report.EventPermissionDenied, de.PID, "process details not readable, ignored")
		rec.Error = de.Err.Error()
		s.emit(rec)
	}
}

// announce logs and records the start of a run.
func (s *Supervisor) announce(mode string, pid int) {
	p := s.policy
	s.logger.Info("governor started", logging.Fields{
		"mode":          mode,
		"max_rss_mb":    p.MaxRssMB,
		"max_cpu_pct":   p.MaxCPUPercent,
		"interval_ms":   p.IntervalMs,
		"warn_grace_ms": p.WarnGraceMs,
		"kill_grace_ms": p.KillGraceMs,
		"patterns":      strings.Join(p.TargetPatterns, ","),
		"pids":          len(p.TargetPids),
		"protected":     strings.Join(p.ProtectedPatterns, ","),
	})
	s.emit(report.NewEvent(s.now(), report.EventStart, pid,
		fmt.Sprintf("%s mode, max rss %.1fMB, interval %s", mode, p.MaxRssMB, p.Interval())))

	if !s.enforcer.CanSignal() {
		reason := "signal delivery unavailable on this platform, observe only"
		if p.ObserveOnly {
			reason = "observe-only mode, no signals will be sent"
		}
		s.logger.Warn("enforcement disabled", logging.Fields{"reason": reason})
		s.emit(report.NewEvent(s.now(), report.EventEnforcementUnsupported, 0, reason))
	}
}

func (s *Supervisor) emit(rec report.Record) {
	if err := s.reporter.Record(rec); err != nil {
		s.logger.Error("failed to write record", logging.Fields{"event": string(rec.Event), "error": err.Error()})
	}
}

// tickLogged runs one tick and logs a tick-level failure.
func (s *Supervisor) tickLogged(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("tick failed", logging.Fields{
			"error":  err.Error(),
			"health": s.health.Status().String(),
		})
	}
}

// RunDaemon ticks until ctx is cancelled and returns exit code 0.
func (s *Supervisor) RunDaemon(ctx context.Context) (int, error) {
	s.announce("daemon", 0)
	s.notifier.Notify(NotifyReady)

	s.tickLogged(ctx)
	s.notifier.Notify(NotifyWatchdog)

	ticker := time.NewTicker(s.policy.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.notifier.Notify(NotifyStopping)
			s.logger.Info("governor stopping", logging.Fields{"watched": s.machine.Len()})
			s.emit(report.NewEvent(s.now(), report.EventShutdown, 0, "interrupted"))
			return 0, nil
		case <-ticker.C:
			s.tickLogged(ctx)
			s.notifier.Notify(NotifyWatchdog)
		}
	}
}

func enforceKey(pid int) string {
	return fmt.Sprintf("enforce:%d", pid)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
