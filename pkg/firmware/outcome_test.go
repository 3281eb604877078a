package firmware

import (
	"errors"
	"testing"

	"gotest.tools/assert"
)

func TestOutcomeString(t *testing.T) {
	cases := []struct {
		Outcome  Outcome
		Expected string
	}{
		{Outcome: Outcome{Kind: NoChange, Version: 3}, Expected: "no-change"},
		{Outcome: Outcome{Kind: Installed, Version: 2}, Expected: "installed(2)"},
		{Outcome: Outcome{Kind: Installed, Version: 2, PersistErr: errors.New("flash")}, Expected: "installed(2, version record stale)"},
		{Outcome: Outcome{Kind: FetchFailed}, Expected: "fetch-failed"},
		{Outcome: Outcome{Kind: OutcomeKind(42)}, Expected: "unknown(42)"},
	}
	for _, tc := range cases {
		t.Run(tc.Expected, func(t *testing.T) {
			assert.Equal(t, tc.Expected, tc.Outcome.String())
		})
	}
}

func TestOutcomeFailed(t *testing.T) {
	assert.Check(t, !Outcome{Kind: NoChange}.Failed())
	assert.Check(t, !Outcome{Kind: Installed}.Failed())
	assert.Check(t, Outcome{Kind: FetchFailed}.Failed())
	assert.Check(t, Outcome{Kind: ParseFailed}.Failed())
	assert.Check(t, Outcome{Kind: InstallFailed}.Failed())
}

func TestManifestTruncated(t *testing.T) {
	assert.Check(t, !Manifest{Version: 2, Declared: 2}.Truncated())
	assert.Check(t, Manifest{Version: 2, Declared: 2.5}.Truncated())
	assert.Check(t, Manifest{Version: -128, Declared: 128}.Truncated())
}

func TestManifestTruncationCause(t *testing.T) {
	cases := []struct {
		Declared   float64
		Fractional bool
		OutOfRange bool
	}{
		{Declared: 2},
		{Declared: -128},
		{Declared: 127},
		{Declared: 4.9, Fractional: true},
		{Declared: -0.5, Fractional: true},
		{Declared: 128, OutOfRange: true},
		{Declared: -129, OutOfRange: true},
		{Declared: 300.5, Fractional: true, OutOfRange: true},
		{Declared: 1e300, OutOfRange: true},
	}
	for _, tc := range cases {
		m := Manifest{Declared: tc.Declared}
		assert.Check(t, m.Fractional() == tc.Fractional, "fractional(%v)", tc.Declared)
		assert.Check(t, m.OutOfRange() == tc.OutOfRange, "out of range(%v)", tc.Declared)
	}
}
