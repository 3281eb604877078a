// Package metrics exports cycle outcomes in the Prometheus exposition format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "otawatch"
	// Endpoint is the path metrics are served on.
	Endpoint = "/metrics"

	shutdownTimeout = 5 * time.Second
)

// Metrics holds the agent's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	cycles          *prometheus.CounterVec
	persistFailures prometheus.Counter
	version         prometheus.Gauge
	lastCycle       prometheus.Gauge
	requests        *prometheus.CounterVec
}

// New registers the agent's collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Update cycles by outcome.",
		}, []string{"outcome"}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_persist_failures_total",
			Help:      "Installs whose version could not be recorded.",
		}),
		version: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "firmware_version",
			Help:      "Firmware version last reported by an update cycle.",
		}),
		lastCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Completion time of the last update cycle.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Outgoing HTTP requests by status code and method.",
		}, []string{"code", "method"}),
	}
}

// Observe records o.
func (m *Metrics) Observe(_ context.Context, o firmware.Outcome) {
	m.cycles.WithLabelValues(o.Kind.String()).Inc()
	m.lastCycle.SetToCurrentTime()
	if o.Stale() {
		m.persistFailures.Inc()
	}
	if !o.Failed() {
		m.version.Set(float64(o.Version))
	}
}

// SetVersion records the version the device booted with.
func (m *Metrics) SetVersion(v firmware.Version) {
	m.version.Set(float64(v))
}

// RoundTripper counts requests made through next.
func (m *Metrics) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(m.requests, next)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, log logging.Logger, addr string) error {
	router := http.NewServeMux()
	router.Handle(Endpoint, m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: shutdownTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "metrics server shutdown")
	}
	return nil
}
