// Package logfields names the structured fields attached to cycle logs.
package logfields

import (
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/sirupsen/logrus"
)

const (
	OutcomeKey  = "outcome"
	VersionKey  = "version"
	CurrentKey  = "current"
	TargetKey   = "target"
	DeclaredKey = "declared"
	FileKey     = "file"
	StageKey    = "stage"
)

// Outcome returns the fields describing o. Errors are left to WithError.
func Outcome(o firmware.Outcome) logrus.Fields {
	return logrus.Fields{
		OutcomeKey: o.Kind.String(),
		VersionKey: o.Version.String(),
	}
}

// Manifest returns the fields describing m.
func Manifest(m firmware.Manifest) logrus.Fields {
	fields := logrus.Fields{
		TargetKey: m.Version.String(),
		FileKey:   m.File,
	}
	if m.Truncated() {
		fields[DeclaredKey] = m.Declared
	}
	return fields
}
