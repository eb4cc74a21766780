// Package metrics exposes polling and validation counters for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"obd-signal-core/logger"
	"obd-signal-core/report"
)

const namespace = "obdsig"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	Decodes          *prometheus.CounterVec
	ValidationIssues *prometheus.CounterVec
	SamplesPublished *prometheus.CounterVec
	ActiveCommands   prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "CAN requests sent, by header and result.",
		}, []string{"header", "result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request to complete response.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"header"}),
		Decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decodes_total",
			Help:      "Signal decodes, by signal and result.",
		}, []string{"signal", "result"}),
		ValidationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Issues found while validating signal sets.",
		}, []string{"kind", "severity"}),
		SamplesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_published_total",
			Help:      "Samples handed to sinks, by result.",
		}, []string{"result"}),
		ActiveCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_commands",
			Help:      "Commands currently being polled.",
		}),
	}
	m.registry.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.Decodes,
		m.ValidationIssues,
		m.SamplesPublished,
		m.ActiveCommands,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one request outcome.
func (m *Metrics) ObserveRequest(header string, d time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Requests.WithLabelValues(header, result).Inc()
	if err == nil {
		m.RequestDuration.WithLabelValues(header).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveDecode(signal string, err error) {
	result := ResultOK
	if err != nil {
		result = report.KindOf(err).String()
	}
	m.Decodes.WithLabelValues(signal, result).Inc()
}

func (m *Metrics) ObservePublish(err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.SamplesPublished.WithLabelValues(result).Inc()
}

// ObserveReport adds every issue of r to the validation counter.
func (m *Metrics) ObserveReport(r *report.Report) {
	for _, c := range r.Counts() {
		m.ValidationIssues.WithLabelValues(c.Kind.String(), c.Severity.String()).Add(float64(c.N))
	}
}

// Handler serves /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.G(ctx).WithField("addr", addr).Info("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
