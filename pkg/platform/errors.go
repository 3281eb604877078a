package platform

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound reports an absent namespace or key.
	ErrNotFound = errors.New("not found")
	// ErrNeedsErase reports a store whose contents cannot be used by this
	// version (unknown format or corruption).
	ErrNeedsErase = errors.New("store needs erase")
	// ErrNotInitialized reports use of a store before a successful Init.
	ErrNotInitialized = errors.New("store not initialized")
	// ErrTypeMismatch reports a stored value of a different type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrReadOnly reports a write through a ReadOnly handle.
	ErrReadOnly = errors.New("handle is read only")
	// ErrVerification reports a received image that failed verification.
	ErrVerification = errors.New("image verification failed")
)

// FetchError is a manifest retrieval failure.
type FetchError struct {
	URL string
	// StatusCode is the HTTP status when a response was received.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// InstallStage locates an install failure.
type InstallStage int

const (
	StageTransport InstallStage = iota
	StageVerify
	StageWrite
)

func (s InstallStage) String() string {
	switch s {
	case StageTransport:
		return "transport"
	case StageVerify:
		return "verification"
	case StageWrite:
		return "flash-write"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// InstallError is a failure to download, verify or write an image.
type InstallError struct {
	URL   string
	Stage InstallStage
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %s failure: %v", e.URL, e.Stage, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
