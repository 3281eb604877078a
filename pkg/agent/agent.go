package agent

import (
	"context"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/internal/logfields"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the pause between the end of one cycle and the start of
// the next.
const DefaultInterval = time.Second

// VersionStore is the durable record of the running firmware version.
type VersionStore interface {
	Load() firmware.Version
	Save(firmware.Version) error
}

// Observer is told the outcome of every cycle. Observers run on the poll loop
// and should return promptly.
type Observer interface {
	Observe(ctx context.Context, o firmware.Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o firmware.Outcome)

func (f ObserverFunc) Observe(ctx context.Context, o firmware.Outcome) {
	f(ctx, o)
}

type Options struct {
	ManifestURL string
	// Interval defaults to DefaultInterval.
	Interval  time.Duration
	Source    platform.ManifestSource
	Installer platform.Installer
	Store     VersionStore
	Observers []Observer
}

type Agent struct {
	log       logging.Logger
	url       string
	interval  time.Duration
	source    platform.ManifestSource
	installer platform.Installer
	store     VersionStore
	observers []Observer
}

func New(log logging.Logger, opts Options) (*Agent, error) {
	switch {
	case opts.ManifestURL == "":
		return nil, errors.New("manifest url must be provided")
	case opts.Source == nil:
		return nil, errors.New("manifest source is nil")
	case opts.Installer == nil:
		return nil, errors.New("installer is nil")
	case opts.Store == nil:
		return nil, errors.New("version store is nil")
	case opts.Interval < 0:
		return nil, errors.Errorf("negative poll interval %s", opts.Interval)
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Agent{
		log:       log,
		url:       opts.ManifestURL,
		interval:  interval,
		source:    opts.Source,
		installer: opts.Installer,
		store:     opts.Store,
		observers: opts.Observers,
	}, nil
}

// Run polls until ctx is cancelled. It has no failure exit; the returned
// error is always nil.
func (a *Agent) Run(ctx context.Context) error {
	a.log.WithField("interval", a.interval).WithField("url", a.url).Info("polling for updates")
	defer a.log.Debug("finished")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		o := a.cycle(ctx)
		if ctx.Err() != nil {
			// Interrupted mid-cycle by shutdown. Not worth reporting.
			return nil
		}
		a.report(o)
		a.notify(ctx, o)
		timer.Reset(a.interval)
	}
}

// cycle is RunCycle guarded against panics escaping it.
func (a *Agent) cycle(ctx context.Context) (o firmware.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("cycle panicked: %v", r)
			a.log.WithError(err).Error("recovered from panic")
			o = firmware.Outcome{Kind: firmware.FetchFailed, Err: err}
		}
	}()
	return a.RunCycle(ctx)
}

func (a *Agent) report(o firmware.Outcome) {
	log := a.log.WithFields(logfields.Outcome(o))
	switch {
	case o.Failed():
		log.WithError(o.Err).Error("update cycle failed")
	case o.Stale():
		log.WithError(o.PersistErr).Warn("update installed, version record stale")
	case o.Kind == firmware.Installed:
		log.Info("update installed")
	default:
		log.Info("up to date, nothing to do")
	}
}

func (a *Agent) notify(ctx context.Context, o firmware.Outcome) {
	for _, obs := range a.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.WithField("panic", r).Error("outcome observer panicked")
				}
			}()
			obs.Observe(ctx, o)
		}()
	}
}

func (a *Agent) fields(extra logrus.Fields) logrus.FieldLogger {
	return a.log.WithField("url", a.url).WithFields(extra)
}
