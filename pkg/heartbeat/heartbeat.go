// Package heartbeat toggles liveness indicators on a fixed period,
// independently of the update loop.
package heartbeat

import (
	"context"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/coreos/go-systemd/v22/daemon"
)

// DefaultInterval is the indicator period when the service manager does not
// ask for a shorter one.
const DefaultInterval = 200 * time.Millisecond

// Indicator shows liveness. Set is called with alternating values.
type Indicator interface {
	Set(on bool) error
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(on bool) error

func (f IndicatorFunc) Set(on bool) error {
	return f(on)
}

type Heartbeat struct {
	log        logging.Logger
	interval   time.Duration
	indicators []Indicator
}

func New(log logging.Logger, interval time.Duration, indicators ...Indicator) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Heartbeat{log: log, interval: interval, indicators: indicators}
}

// Run toggles every indicator each interval until ctx is cancelled. A failing
// indicator is reported when it starts and stops failing, and never stops the
// others.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	failing := make([]bool, len(h.indicators))
	on := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}
		on = !on
		for i, ind := range h.indicators {
			err := ind.Set(on)
			switch {
			case err != nil && !failing[i]:
				h.log.WithError(err).WithField("indicator", i).Warn("indicator failed")
			case err == nil && failing[i]:
				h.log.WithField("indicator", i).Info("indicator recovered")
			}
			failing[i] = err != nil
		}
	}
}

// Blink logs the indicator state at debug level.
func Blink(log logging.Logger) Indicator {
	return IndicatorFunc(func(on bool) error {
		if on {
			log.Debug("heartbeat on")
		} else {
			log.Debug("heartbeat off")
		}
		return nil
	})
}

// Watchdog pets the service manager's watchdog on every toggle. It is a no-op
// when the process is not supervised.
type Watchdog struct {
	notify func(state string) (bool, error)
}

func NewWatchdog() *Watchdog {
	return &Watchdog{notify: func(state string) (bool, error) {
		return daemon.SdNotify(false, state)
	}}
}

func (w *Watchdog) Set(bool) error {
	_, err := w.notify(daemon.SdNotifyWatchdog)
	return err
}

// Ready tells the service manager that startup completed. It reports whether
// a service manager was listening.
func (w *Watchdog) Ready() (bool, error) {
	return w.notify(daemon.SdNotifyReady)
}

// Stopping tells the service manager that shutdown began.
func (w *Watchdog) Stopping() {
	w.notify(daemon.SdNotifyStopping)
}

// Interval returns the heartbeat period, shortened to half the service
// manager's watchdog timeout when one is configured.
func Interval(configured time.Duration) time.Duration {
	if configured <= 0 {
		configured = DefaultInterval
	}
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil || timeout == 0 {
		return configured
	}
	if half := timeout / 2; half < configured {
		return half
	}
	return configured
}
