// Package policy decides whether an offered manifest should be installed over
// the running firmware.
package policy

import (
	"fmt"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
)

// Action is the verdict of a Decision.
type Action int

const (
	Skip Action = iota
	Install
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Install:
		return "install"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// Decision carries the verdict and, for Install, the manifest to apply.
type Decision struct {
	Action Action
	Target firmware.Manifest
}

// Decide permits an install only when the manifest offers a strictly newer
// version. An equal version is never reinstalled.
func Decide(current firmware.Version, m firmware.Manifest) Decision {
	if m.Version > current {
		return Decision{Action: Install, Target: m}
	}
	return Decision{Action: Skip}
}
