package report

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/governor/internal/classify"
	"github.com/psantana5/governor/internal/enforce"
	"github.com/psantana5/governor/internal/escalation"
)

// Metrics are boring counters and gauges. Every value can be explained by
// reading the record stream of the same run. A nil *Metrics discards
// everything.
type Metrics struct {
	ticks            prometheus.Counter
	tickFailures     prometheus.Counter
	partialTicks     prometheus.Counter
	tickDuration     prometheus.Histogram
	sampled          *prometheus.GaugeVec
	decisions        *prometheus.CounterVec
	enforcements     *prometheus.CounterVec
	watched          *prometheus.GaugeVec
	permissionDenied prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_ticks_total",
			Help: "Completed supervisor ticks",
		}),
		tickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_tick_failures_total",
			Help: "Ticks that could not list the process table",
		}),
		partialTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_partial_ticks_total",
			Help: "Ticks whose sampling pass hit its deadline",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "governor_tick_duration_seconds",
			Help:    "Wall time of one supervisor tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		sampled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_sampled_processes",
			Help: "Processes sampled in the last tick by class",
		}, []string{"class"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_decisions_total",
			Help: "Decisions with an action other than NONE",
		}, []string{"action"}),
		enforcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_enforcements_total",
			Help: "Signal decisions by outcome",
		}, []string{"action", "outcome"}),
		watched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_watched_processes",
			Help: "Processes currently in breach by escalation state",
		}, []string{"state"}),
		permissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_permission_denied_total",
			Help: "Processes that could not be read",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ticks,
			m.tickFailures,
			m.partialTicks,
			m.tickDuration,
			m.sampled,
			m.decisions,
			m.enforcements,
			m.watched,
			m.permissionDenied,
		)
	}
	return m
}

// ObserveTick records a completed tick.
func (m *Metrics) ObserveTick(d time.Duration, partial bool) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	if partial {
		m.partialTicks.Inc()
	}
}

// RecordTickFailure records a tick that produced no samples.
func (m *Metrics) RecordTickFailure() {
	if m == nil {
		return
	}
	m.tickFailures.Inc()
}

// SetSampled replaces the per-class sample counts.
func (m *Metrics) SetSampled(counts map[classify.Tag]int) {
	if m == nil {
		return
	}
	for _, tag := range []classify.Tag{classify.Target, classify.Protected, classify.Ignored} {
		m.sampled.WithLabelValues(tag.String()).Set(float64(counts[tag]))
	}
}

// RecordDecision counts one decision and its enforcement outcome.
func (m *Metrics) RecordDecision(d escalation.Decision, o enforce.Outcome) {
	if m == nil || d.Action == escalation.ActionNone {
		return
	}
	m.decisions.WithLabelValues(string(d.Action)).Inc()
	if d.Action.Signals() {
		m.enforcements.WithLabelValues(string(d.Action), string(o)).Inc()
	}
}

// SetWatched replaces the per-state watch counts.
func (m *Metrics) SetWatched(counts map[escalation.State]int) {
	if m == nil {
		return
	}
	for _, st := range []escalation.State{escalation.StateWarned, escalation.StateEscalating, escalation.StateTerminated} {
		m.watched.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// RecordDenied counts a process that could not be read.
func (m *Metrics) RecordDenied() {
	if m == nil {
		return
	}
	m.permissionDenied.Inc()
}
