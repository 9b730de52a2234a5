package enforce

import (
	"errors"
	"testing"

	"github.com/psantana5/governor/internal/escalation"
)

type call struct {
	pid int
	sig Signal
}

type recorder struct {
	calls []call
	err   error
}

func (r *recorder) kill(pid int, sig Signal) error {
	r.calls = append(r.calls, call{pid, sig})
	return r.err
}

func decision(a escalation.Action) escalation.Decision {
	return escalation.Decision{PID: 4321, Action: a}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		action  escalation.Action
		target  Target
		killErr error
		want    Outcome
		wantErr bool
		calls   []call
	}{
		{"none", escalation.ActionNone, Target{PID: 4321}, nil, OutcomeNone, false, nil},
		{"log warn", escalation.ActionLogWarn, Target{PID: 4321}, nil, OutcomeNone, false, nil},
		{"graceful", escalation.ActionSignalGraceful, Target{PID: 4321}, nil, OutcomeDelivered, false,
			[]call{{4321, SignalGraceful}}},
		{"force", escalation.ActionSignalForce, Target{PID: 4321}, nil, OutcomeDelivered, false,
			[]call{{4321, SignalForce}}},
		{"group", escalation.ActionSignalForce, Target{PID: 4321, Group: true}, nil, OutcomeDelivered, false,
			[]call{{-4321, SignalForce}}},
		{"already gone", escalation.ActionSignalForce, Target{PID: 4321}, ErrGone, OutcomeGone, false,
			[]call{{4321, SignalForce}}},
		{"permission", escalation.ActionSignalGraceful, Target{PID: 4321}, errors.New("operation not permitted"), OutcomeFailed, true,
			[]call{{4321, SignalGraceful}}},
		{"init is never signalled", escalation.ActionSignalForce, Target{PID: 1}, nil, OutcomeFailed, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{err: tt.killErr}
			e := New(Options{Kill: rec.kill})

			got, err := e.Apply(decision(tt.action), tt.target)
			if got != tt.want {
				t.Errorf("Apply() outcome = %q, want %q", got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(rec.calls) != len(tt.calls) {
				t.Fatalf("calls = %v, want %v", rec.calls, tt.calls)
			}
			for i := range tt.calls {
				if rec.calls[i] != tt.calls[i] {
					t.Errorf("call %d = %v, want %v", i, rec.calls[i], tt.calls[i])
				}
			}
		})
	}
}

func TestObserveOnly(t *testing.T) {
	rec := &recorder{}
	e := New(Options{ObserveOnly: true, Kill: rec.kill})

	if e.CanSignal() {
		t.Fatal("observe-only enforcer reports CanSignal")
	}
	got, err := e.Apply(decision(escalation.ActionSignalForce), Target{PID: 4321})
	if err != nil || got != OutcomeUnsupported {
		t.Errorf("Apply() = %q, %v; want unsupported", got, err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("signal sent in observe-only mode: %v", rec.calls)
	}

	// explicit Send still works for the wrapped child
	if got, _ := e.Send(Target{PID: 4321, Group: true}, SignalGraceful); got != OutcomeDelivered {
		t.Errorf("Send() = %q", got)
	}
}

func TestSignalString(t *testing.T) {
	if SignalGraceful.String() != "SIGTERM" || SignalForce.String() != "SIGKILL" {
		t.Errorf("unexpected names %s %s", SignalGraceful, SignalForce)
	}
}
