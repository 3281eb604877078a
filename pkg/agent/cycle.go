package agent

import (
	"context"
	"fmt"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/internal/logfields"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/manifest"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/policy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PanicError is a panic recovered from a collaborator during a cycle.
type PanicError struct {
	Stage string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Stage, e.Value)
}

// guard runs fn, converting a panic into a *PanicError.
func guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Stage: stage, Value: r}
		}
	}()
	return fn()
}

// RunCycle performs one fetch, parse, decide and install pass. The persisted
// version changes only after the installer reports success.
func (a *Agent) RunCycle(ctx context.Context) firmware.Outcome {
	var raw []byte
	err := guard("fetch", func() (err error) {
		raw, err = a.source.Fetch(ctx, a.url)
		return err
	})
	if err != nil {
		return firmware.Outcome{Kind: firmware.FetchFailed, Err: err}
	}

	var m firmware.Manifest
	err = guard("parse", func() (err error) {
		m, err = manifest.Parse(raw)
		return err
	})
	if err != nil {
		return firmware.Outcome{Kind: firmware.ParseFailed, Err: err}
	}
	if m.OutOfRange() {
		a.fields(logfields.Manifest(m)).Warn("published version does not fit the version range, using wrapped value")
	}
	if m.Fractional() {
		a.fields(logfields.Manifest(m)).Warn("published version is not a whole number, fractional part dropped")
	}

	current := firmware.DefaultVersion
	if err := guard("load", func() error {
		current = a.store.Load()
		return nil
	}); err != nil {
		a.log.WithError(err).Error("unable to read recorded version, assuming default")
		current = firmware.DefaultVersion
	}

	d := policy.Decide(current, m)
	log := a.fields(logfields.Manifest(m)).WithField(logfields.CurrentKey, current.String())
	if d.Action == policy.Skip {
		log.Debug("no newer firmware offered")
		return firmware.Outcome{Kind: firmware.NoChange, Version: current}
	}

	log.Info("newer firmware offered, installing")
	err = guard("install", func() error {
		return a.installer.Install(ctx, d.Target.File)
	})
	if err != nil {
		return firmware.Outcome{Kind: firmware.InstallFailed, Version: current, Err: err}
	}

	o := firmware.Outcome{Kind: firmware.Installed, Version: d.Target.Version}
	err = guard("save", func() error {
		return a.store.Save(d.Target.Version)
	})
	if err != nil {
		o.PersistErr = errors.WithMessage(err, "record installed version")
		log.WithFields(logrus.Fields{logfields.StageKey: "save"}).WithError(err).
			Warn("image installed but version record not updated, the update may be repeated")
	}
	return o
}
