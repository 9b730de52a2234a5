package supervisor

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/psantana5/governor/internal/logging"
)

// Service manager notifications sent by the daemon loop.
const (
	NotifyReady    = daemon.SdNotifyReady
	NotifyWatchdog = daemon.SdNotifyWatchdog
	NotifyStopping = daemon.SdNotifyStopping
)

// Notifier tells a service manager about lifecycle changes.
type Notifier interface {
	Notify(state string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// SystemdNotifier talks to systemd over NOTIFY_SOCKET. Outside systemd every
// call is a no-op.
type SystemdNotifier struct {
	Logger *logging.Logger
}

// Notify sends state, logging only real failures.
func (n SystemdNotifier) Notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if n.Logger == nil {
		return
	}
	if err != nil {
		n.Logger.Warn("systemd notification failed", logging.Fields{"state": state, "error": err.Error()})
		return
	}
	if sent {
		n.Logger.Debug("systemd notified", logging.Fields{"state": state})
	}
}
