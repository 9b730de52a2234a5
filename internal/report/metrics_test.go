package report

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/psantana5/governor/internal/classify"
	"github.com/psantana5/governor/internal/enforce"
	"github.com/psantana5/governor/internal/escalation"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTick(20*time.Millisecond, false)
	m.ObserveTick(30*time.Millisecond, true)
	m.RecordTickFailure()
	m.RecordDenied()
	m.SetSampled(map[classify.Tag]int{classify.Target: 3, classify.Protected: 1})
	m.SetWatched(map[escalation.State]int{escalation.StateWarned: 2})

	m.RecordDecision(escalation.Decision{Action: escalation.ActionNone}, enforce.OutcomeNone)
	m.RecordDecision(escalation.Decision{Action: escalation.ActionLogWarn}, enforce.OutcomeNone)
	m.RecordDecision(escalation.Decision{Action: escalation.ActionSignalForce}, enforce.OutcomeDelivered)
	m.RecordDecision(escalation.Decision{Action: escalation.ActionSignalForce}, enforce.OutcomeUnsupported)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"ticks", testutil.ToFloat64(m.ticks), 2},
		{"partial", testutil.ToFloat64(m.partialTicks), 1},
		{"failures", testutil.ToFloat64(m.tickFailures), 1},
		{"denied", testutil.ToFloat64(m.permissionDenied), 1},
		{"sampled target", testutil.ToFloat64(m.sampled.WithLabelValues("TARGET")), 3},
		{"sampled ignored", testutil.ToFloat64(m.sampled.WithLabelValues("IGNORED")), 0},
		{"watched warned", testutil.ToFloat64(m.watched.WithLabelValues("WARNED")), 2},
		{"decisions none", testutil.ToFloat64(m.decisions.WithLabelValues("NONE")), 0},
		{"decisions warn", testutil.ToFloat64(m.decisions.WithLabelValues("LOG_WARN")), 1},
		{"decisions force", testutil.ToFloat64(m.decisions.WithLabelValues("SIGNAL_FORCE")), 2},
		{"force delivered", testutil.ToFloat64(m.enforcements.WithLabelValues("SIGNAL_FORCE", "delivered")), 1},
		{"force unsupported", testutil.ToFloat64(m.enforcements.WithLabelValues("SIGNAL_FORCE", "unsupported")), 1},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTick(time.Second, true)
	m.RecordTickFailure()
	m.RecordDenied()
	m.SetSampled(nil)
	m.SetWatched(nil)
	m.RecordDecision(escalation.Decision{Action: escalation.ActionSignalForce}, enforce.OutcomeDelivered)
}

type fakeHealth struct {
	healthy bool
}

func (f fakeHealth) IsHealthy() bool { return f.healthy }

func (f fakeHealth) Report() map[string]interface{} {
	status := "healthy"
	if !f.healthy {
		status = "unhealthy"
	}
	return map[string]interface{}{"status": status}
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveTick(time.Millisecond, false)

	recent := NewEnforcementLog(10)
	recent.Record(Record{PID: 7, Action: escalation.ActionSignalForce})
	recent.Record(Record{PID: 8, Action: escalation.ActionSignalGraceful})

	tests := []struct {
		name       string
		health     HealthReporter
		path       string
		wantStatus int
		wantBody   string
	}{
		{"metrics", fakeHealth{true}, "/metrics", http.StatusOK, "governor_ticks_total 1"},
		{"healthy", fakeHealth{true}, "/healthz", http.StatusOK, `"status":"healthy"`},
		{"unhealthy", fakeHealth{false}, "/healthz", http.StatusServiceUnavailable, `"status":"unhealthy"`},
		{"no health source", nil, "/healthz", http.StatusOK, `"status":"healthy"`},
		{"enforcements", nil, "/enforcements?limit=1", http.StatusOK, `"pid":8`},
		{"bad limit", nil, "/enforcements?limit=x", http.StatusBadRequest, "invalid limit"},
		{"unknown", nil, "/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewRouter(reg, tt.health, recent))
			defer srv.Close()

			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body %q does not contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestEnforcementsEndpointReturnsNewestFirst(t *testing.T) {
	recent := NewEnforcementLog(10)
	recent.Record(Record{PID: 1})
	recent.Record(Record{PID: 2})

	srv := httptest.NewServer(NewRouter(prometheus.NewRegistry(), nil, recent))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/enforcements")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].PID != 2 {
		t.Errorf("unexpected records %+v", records)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0", Gatherer: prometheus.NewRegistry()})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := s.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
