// Package metrics builds the OpenTelemetry meter provider used by shardkv and
// serves its Prometheus view over HTTP.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Units shared by the shardkv instruments
const (
	Milliseconds = "ms"
	Bytes        = "By"
)

var latencyBucketsMillis = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1_000, 5_000,
}

var sizeBucketsBytes = []float64{
	0x10, 0x20, 0x40, 0x80, 0x100, 0x200, 0x400, 0x800, 0x1000, 0x4000, 0x10000, 0x40000, 0x100000,
}

// NewProvider returns a meter provider whose instruments are exported to
// registerer in the Prometheus format. A nil registerer uses the default
// Prometheus registry.
func NewProvider(registerer promclient.Registerer) (*metric.MeterProvider, error) {
	opts := []prometheus.Option{}
	if registerer != nil {
		opts = append(opts, prometheus.WithRegisterer(registerer))
	}
	exporter, err := prometheus.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize prometheus exporter")
	}

	latencyHistogramView := metric.NewView(
		metric.Instrument{
			Kind: metric.InstrumentKindHistogram,
			Unit: Milliseconds,
		},
		metric.Stream{
			Aggregation: metric.AggregationExplicitBucketHistogram{
				Boundaries: latencyBucketsMillis,
			},
		},
	)
	sizeHistogramView := metric.NewView(
		metric.Instrument{
			Kind: metric.InstrumentKindHistogram,
			Unit: Bytes,
		},
		metric.Stream{
			Aggregation: metric.AggregationExplicitBucketHistogram{
				Boundaries: sizeBucketsBytes,
			},
		},
	)

	return metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithView(latencyHistogramView, sizeHistogramView),
	), nil
}

var _ io.Closer = (*PrometheusMetrics)(nil)

// PrometheusMetrics serves the /metrics endpoint
type PrometheusMetrics struct {
	server *http.Server
	port   int
}

// Start serves gatherer's metrics on bindAddress. A nil gatherer serves the
// default Prometheus registry.
func Start(bindAddress string, gatherer promclient.Gatherer) (*PrometheusMetrics, error) {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	listener, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", bindAddress)
	}

	p := &PrometheusMetrics{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: time.Second,
		},
		port: listener.Addr().(*net.TCPAddr).Port,
	}

	slog.Info(fmt.Sprintf("Serving Prometheus metrics at http://localhost:%d/metrics", p.port))

	go func() {
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(
				"Failed to serve metrics",
				slog.Any("error", err),
			)
		}
	}()

	return p, nil
}

// Port returns the port the metrics server is bound to
func (p *PrometheusMetrics) Port() int {
	return p.port
}

// Close stops the metrics server
func (p *PrometheusMetrics) Close() error {
	return p.server.Close()
}
