package ota

import (
	"net/http"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
)

// Platform bundles the manifest source and installer sharing one TLS client.
type Platform struct {
	*Fetcher
	*Installer
}

var (
	_ platform.ManifestSource = (*Platform)(nil)
	_ platform.Installer      = (*Platform)(nil)
)

// Options configures New.
type Options struct {
	// TrustAnchor is the PEM encoded certificate set trusted for TLS.
	TrustAnchor []byte
	Timeout     time.Duration
	BufferSize  int
	RetryDelay  time.Duration
	// AllowInsecureImage permits plain http image URLs.
	AllowInsecureImage bool
}

// New returns a Platform installing into sink.
func New(sink platform.ImageSink, opts Options) (*Platform, error) {
	client, err := NewClient(opts.TrustAnchor, opts.Timeout)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, sink, opts), nil
}

// NewWithClient is New over an existing client. opts.TrustAnchor and
// opts.Timeout are ignored.
func NewWithClient(client *http.Client, sink platform.ImageSink, opts Options) *Platform {
	installer := NewInstaller(logging.New("installer"), client, sink)
	installer.RetryDelay = opts.RetryDelay
	installer.AllowInsecure = opts.AllowInsecureImage
	return &Platform{
		Fetcher:   NewFetcher(logging.New("fetcher"), client, opts.BufferSize),
		Installer: installer,
	}
}
