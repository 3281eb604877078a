package logfields

import (
	"testing"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"gotest.tools/assert"
)

func TestOutcome(t *testing.T) {
	fields := Outcome(firmware.Outcome{Kind: firmware.Installed, Version: 4})
	assert.Equal(t, "installed", fields[OutcomeKey])
	assert.Equal(t, "4", fields[VersionKey])
}

func TestManifestDeclaredOnlyWhenTruncated(t *testing.T) {
	fields := Manifest(firmware.Manifest{Version: 2, File: "https://host/fw", Declared: 2})
	_, ok := fields[DeclaredKey]
	assert.Check(t, !ok)

	fields = Manifest(firmware.Manifest{Version: 44, File: "https://host/fw", Declared: 300})
	assert.Equal(t, 300.0, fields[DeclaredKey])
	assert.Equal(t, "44", fields[TargetKey])
}
