package ota

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptrace"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/manifest"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
	"github.com/karlseguin/ccache"
	"github.com/sirupsen/logrus"
)

var _ platform.ManifestSource = (*Fetcher)(nil)

// Fetcher retrieves manifests into a bounded buffer. Responses carrying an
// ETag are remembered so an unchanged manifest is answered with 304 and served
// from memory.
type Fetcher struct {
	log        logging.Logger
	client     *http.Client
	bufferSize int
	cache      *ccache.Cache
}

type cachedManifest struct {
	etag string
	body []byte
}

// NewFetcher returns a Fetcher reading at most bufferSize bytes of a
// manifest.
func NewFetcher(log logging.Logger, client *http.Client, bufferSize int) *Fetcher {
	if bufferSize <= 0 {
		bufferSize = manifest.DefaultBufferSize
	}
	return &Fetcher{
		log:        log,
		client:     client,
		bufferSize: bufferSize,
		cache:      ccache.New(ccache.Configure().MaxSize(manifestCacheSize).ItemsToPrune(manifestCacheSize / 4)),
	}
}

// Fetch GETs url. Bodies longer than the buffer are truncated and logged; the
// truncated bytes are still returned for the parser to judge.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	log := f.log.WithField("url", url)

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, f.trace(log)), http.MethodGet, url, nil)
	if err != nil {
		return nil, &platform.FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, AgentVersion))
	req.Header.Set("Accept", "application/json")

	cached := f.cached(url)
	if cached != nil {
		req.Header.Set("If-None-Match", cached.etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &platform.FetchError{URL: url, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.WithError(cerr).Warn("error closing response body")
		}
	}()
	log.WithField("status", resp.StatusCode).Debug("response received")

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		log.Debug("manifest not modified, using cached copy")
		return append([]byte(nil), cached.body...), nil
	case resp.StatusCode != http.StatusOK:
		return nil, &platform.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	buf := manifest.NewBuffer(f.bufferSize)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, &platform.FetchError{URL: url, Err: err}
	}
	if buf.Truncated() {
		log.WithFields(logrus.Fields{
			"capacity":       buf.Cap(),
			"content-length": resp.ContentLength,
		}).Warn("manifest larger than receive buffer, truncated")
	}

	body := append([]byte(nil), buf.Bytes()...)
	if etag := resp.Header.Get("ETag"); etag != "" && !buf.Truncated() {
		f.cache.Set(url, &cachedManifest{etag: etag, body: body}, manifestCacheTTL)
	} else {
		f.cache.Delete(url)
	}
	return append([]byte(nil), body...), nil
}

// Close stops the manifest cache's worker. The Fetcher must not be used
// afterwards.
func (f *Fetcher) Close() {
	f.cache.Stop()
}

func (f *Fetcher) cached(url string) *cachedManifest {
	item := f.cache.Get(url)
	if item == nil || item.Expired() {
		return nil
	}
	c, ok := item.Value().(*cachedManifest)
	if !ok {
		return nil
	}
	return c
}

// trace logs connection progress at debug level.
func (f *Fetcher) trace(log logrus.FieldLogger) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			log.WithField("reused", info.Reused).Debug("connected")
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err != nil {
				log.WithError(err).Debug("tls handshake failed")
				return
			}
			log.WithField("protocol", state.NegotiatedProtocol).Debug("tls handshake done")
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				log.WithError(info.Err).Debug("request write failed")
				return
			}
			log.Debug("request sent")
		},
	}
}
