package policy

import (
	"fmt"
	"math"
	"testing"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"gotest.tools/assert"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		Current  firmware.Version
		Offered  firmware.Version
		Expected Action
	}{
		{Current: 1, Offered: 2, Expected: Install},
		{Current: 1, Offered: 1, Expected: Skip},
		{Current: 5, Offered: 3, Expected: Skip},
		{Current: -1, Offered: 0, Expected: Install},
		{Current: 126, Offered: 127, Expected: Install},
		// Wrapped versions compare as plain integers.
		{Current: 127, Offered: -128, Expected: Skip},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.Current, tc.Offered), func(t *testing.T) {
			m := firmware.Manifest{Version: tc.Offered, File: "https://x/fw.bin"}
			d := Decide(tc.Current, m)
			assert.Equal(t, tc.Expected, d.Action)
			if tc.Expected == Install {
				assert.Equal(t, m, d.Target)
			}
		})
	}
}

// Every pair in the Version range installs iff the offer is strictly greater.
func TestDecideExhaustive(t *testing.T) {
	for c := math.MinInt8; c <= math.MaxInt8; c++ {
		for o := math.MinInt8; o <= math.MaxInt8; o++ {
			d := Decide(firmware.Version(c), firmware.Manifest{Version: firmware.Version(o), File: "f"})
			if (d.Action == Install) != (o > c) {
				t.Fatalf("current=%d offered=%d: got %s", c, o, d.Action)
			}
		}
	}
}
