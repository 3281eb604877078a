package ota

import "time"

const (
	userAgent = "otawatch/%s"

	// DefaultRetryDelay is the pause before the single install retry.
	DefaultRetryDelay = 3 * time.Second
	// DefaultTimeout bounds connection setup and response headers. Bodies are
	// bounded by the context only, images may take long to stream.
	DefaultTimeout = 30 * time.Second

	manifestCacheTTL  = 10 * time.Minute
	manifestCacheSize = 64
)

// AgentVersion is reported in the User-Agent header. It is set at link time.
var AgentVersion = "dev"
