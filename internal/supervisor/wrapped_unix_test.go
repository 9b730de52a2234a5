//go:build linux || darwin

package supervisor

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/governor/internal/enforce"
	"github.com/psantana5/governor/internal/policy"
	"github.com/psantana5/governor/internal/report"
	"github.com/psantana5/governor/internal/sampler"
)

func wrapperSupervisor(t *testing.T, p *policy.Policy) (*Supervisor, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	sup, err := New(Config{
		Policy:   p,
		Sampler:  sampler.NewPsutilSampler(sampler.Options{Concurrency: 2}),
		Enforcer: enforce.New(enforce.Options{}),
		Reporter: report.NewReporter(&out),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sup, &out
}

func wrapperPolicy() *policy.Policy {
	p := policy.Defaults()
	p.MaxRssMB = 100000
	p.IntervalMs = 100
	p.ShutdownGraceMs = 500
	p.Normalize()
	return p
}

func TestRunWrappedReturnsChildExitCode(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want int
	}{
		{"success", []string{"sh", "-c", "exit 0"}, 0},
		{"failure", []string{"sh", "-c", "exit 3"}, 3},
		{"killed", []string{"sh", "-c", "kill -9 $$"}, 137},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, out := wrapperSupervisor(t, wrapperPolicy())

			code, err := sup.RunWrapped(context.Background(), tt.argv)
			if err != nil {
				t.Fatalf("RunWrapped() error = %v", err)
			}
			if code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
			if strings.Contains(out.String(), "SIGNAL_") {
				t.Errorf("unexpected enforcement decision: %s", out.String())
			}
			if !strings.Contains(out.String(), `"event":"child_exit"`) {
				t.Errorf("child_exit event missing: %s", out.String())
			}
		})
	}
}

func TestRunWrappedLaunchFailure(t *testing.T) {
	sup, _ := wrapperSupervisor(t, wrapperPolicy())
	code, err := sup.RunWrapped(context.Background(), []string{"/nonexistent/governor-test-binary"})
	if err == nil || code != ExitLaunchFailed {
		t.Errorf("RunWrapped() = %d, %v; want %d and an error", code, err, ExitLaunchFailed)
	}
}

func TestRunWrappedInterruptTerminatesChild(t *testing.T) {
	sup, out := wrapperSupervisor(t, wrapperPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	code, err := sup.RunWrapped(ctx, []string{"sleep", "30"})
	if err != nil {
		t.Fatal(err)
	}
	if code != 128+15 {
		t.Errorf("exit code = %d, want 143", code)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("child was not stopped promptly")
	}
	if !strings.Contains(out.String(), `"event":"shutdown"`) {
		t.Errorf("shutdown event missing: %s", out.String())
	}
}

func TestRunWrappedForceKillsAfterShutdownGrace(t *testing.T) {
	sup, _ := wrapperSupervisor(t, wrapperPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	code, err := sup.RunWrapped(ctx, []string{"sh", "-c", "trap '' TERM; sleep 30 & wait"})
	if err != nil {
		t.Fatal(err)
	}
	if code != 128+9 {
		t.Errorf("exit code = %d, want 137", code)
	}
}

func TestRunWrappedEnforcesMemoryLimit(t *testing.T) {
	p := wrapperPolicy()
	p.MaxRssMB = 0.1
	p.WarnGraceMs = 0
	p.KillGraceMs = 0
	sup, out := wrapperSupervisor(t, p)

	code, err := sup.RunWrapped(context.Background(), []string{"sleep", "30"})
	if err != nil {
		t.Fatal(err)
	}
	if code != 128+9 {
		t.Errorf("exit code = %d, want 137", code)
	}
	if !strings.Contains(out.String(), `"action":"SIGNAL_FORCE"`) {
		t.Errorf("force decision missing: %s", out.String())
	}
}
