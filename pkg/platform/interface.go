package platform

import (
	"context"
	"io"
)

// ManifestSource retrieves the raw manifest document. Implementations bound
// the number of bytes they return.
type ManifestSource interface {
	// Fetch performs a blocking GET of url. Transport failures and non-success
	// responses are reported as *FetchError.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Installer downloads a firmware image and hands it to the platform's atomic
// install primitive. The image is streamed; it is never held in memory whole.
type Installer interface {
	// Install fetches url and activates the image only after it has been
	// received in full and verified. Failures are reported as *InstallError
	// and leave the running image untouched.
	Install(ctx context.Context, url string) error
}

// ImageSink is the atomic "install firmware image from stream" primitive.
type ImageSink interface {
	// Begin opens a staging area for a new image.
	Begin() (ImageWriter, error)
}

// ImageWriter receives image bytes for a single install attempt. Exactly one
// of Commit or Abort must be called.
type ImageWriter interface {
	io.Writer
	// Commit verifies the staged image (expectedSize < 0 skips the length
	// check) and activates it atomically.
	Commit(expectedSize int64) error
	// Abort discards the staged image.
	Abort() error
}

// Mode selects how a KeyValueStore namespace is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// KeyValueStore is the platform's durable, namespaced key/value storage.
type KeyValueStore interface {
	// Init prepares the store for use. ErrNeedsErase reports a store that must
	// be erased before it can be initialised.
	Init() error
	// Erase discards all stored data.
	Erase() error
	// Open returns a handle on namespace. Opening an absent namespace
	// ReadOnly fails with ErrNotFound.
	Open(namespace string, mode Mode) (Handle, error)
}

// Handle is an open namespace. Writes become durable only on Commit.
type Handle interface {
	// GetInt8 returns ErrNotFound for an absent key and ErrTypeMismatch for a
	// value that is not an 8-bit integer.
	GetInt8(key string) (int8, error)
	SetInt8(key string, value int8) error
	// Commit durably writes pending changes. On error no pending change is
	// visible.
	Commit() error
	Close() error
}
