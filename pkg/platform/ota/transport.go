package ota

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
)

// NewClient returns an HTTP client that trusts only the PEM encoded
// certificates in trustAnchor. An empty trustAnchor trusts the system roots.
// Responses must begin within timeout; bodies are bounded by request contexts.
func NewClient(trustAnchor []byte, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if len(trustAnchor) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(trustAnchor) {
			return nil, errors.New("trust anchor contains no PEM certificates")
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, errors.Wrap(err, "configure http/2")
	}
	return &http.Client{Transport: transport}, nil
}
