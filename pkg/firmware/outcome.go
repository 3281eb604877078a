package firmware

import "fmt"

// OutcomeKind enumerates the results of a single poll cycle.
type OutcomeKind int

const (
	NoChange OutcomeKind = iota
	Installed
	FetchFailed
	ParseFailed
	InstallFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case NoChange:
		return "no-change"
	case Installed:
		return "installed"
	case FetchFailed:
		return "fetch-failed"
	case ParseFailed:
		return "parse-failed"
	case InstallFailed:
		return "install-failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the observable result of one poll cycle. It is consumed by
// logging and reporting only.
type Outcome struct {
	Kind OutcomeKind
	// Version is the newly installed version for Installed, and the version
	// the device is running otherwise (when it was determined).
	Version Version
	// Err is the failure that ended the cycle for the *Failed kinds.
	Err error
	// PersistErr is set when an image was installed but recording its version
	// failed; the durable version is stale until the next successful save.
	PersistErr error
}

// Failed reports whether the cycle ended in one of the failure kinds.
func (o Outcome) Failed() bool {
	return o.Kind == FetchFailed || o.Kind == ParseFailed || o.Kind == InstallFailed
}

// Stale reports whether the installed image is ahead of the durable version
// record.
func (o Outcome) Stale() bool {
	return o.Kind == Installed && o.PersistErr != nil
}

func (o Outcome) String() string {
	switch {
	case o.Stale():
		return fmt.Sprintf("%s(%s, version record stale)", o.Kind, o.Version)
	case o.Kind == Installed:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Version)
	default:
		return o.Kind.String()
	}
}
