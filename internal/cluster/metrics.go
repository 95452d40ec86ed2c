package cluster

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/dreamware/shardkv/internal/metrics"
)

const (
	opInsert = "insert"
	opSelect = "select"
	opUpdate = "update"
	opDelete = "delete"
	opResize = "resize"
)

// gaugeSource is what the observable gauges read from at collection time.
type gaugeSource interface {
	shardRecords() map[int]int
}

type clusterMetrics struct {
	sinceFunc func(time.Time) time.Duration

	opLatency     metric.Float64Histogram
	opValue       metric.Int64Histogram
	resizeLatency metric.Float64Histogram
	resizeMoved   metric.Int64Counter

	registration metric.Registration
}

func newMetrics(provider metric.MeterProvider, source gaugeSource) (*clusterMetrics, error) {
	meter := provider.Meter("shardkv_cluster")
	m := &clusterMetrics{sinceFunc: time.Since}

	var err, e error
	m.opLatency, e = meter.Float64Histogram("shardkv_cluster_op_latency",
		metric.WithUnit(metrics.Milliseconds),
		metric.WithDescription("Latency of cluster operations"))
	err = multierr.Append(err, e)

	m.opValue, e = meter.Int64Histogram("shardkv_cluster_op_value",
		metric.WithUnit(metrics.Bytes),
		metric.WithDescription("Encoded size of values written or read"))
	err = multierr.Append(err, e)

	m.resizeLatency, e = meter.Float64Histogram("shardkv_cluster_resize_latency",
		metric.WithUnit(metrics.Milliseconds),
		metric.WithDescription("Time spent rehashing records during a resize"))
	err = multierr.Append(err, e)

	m.resizeMoved, e = meter.Int64Counter("shardkv_cluster_resize_moved",
		metric.WithDescription("Records whose owner shard changed during a resize"))
	err = multierr.Append(err, e)

	records, e := meter.Int64ObservableGauge("shardkv_cluster_records",
		metric.WithDescription("Records stored per shard"))
	err = multierr.Append(err, e)

	shards, e := meter.Int64ObservableGauge("shardkv_cluster_shards",
		metric.WithDescription("Current shard count"))
	err = multierr.Append(err, e)

	if err != nil {
		return nil, err
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		counts := source.shardRecords()
		o.ObserveInt64(shards, int64(len(counts)))
		for id, n := range counts {
			o.ObserveInt64(records, int64(n), metric.WithAttributes(attribute.String("shard", strconv.Itoa(id))))
		}
		return nil
	}, records, shards)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// recordOp records the latency of one operation and, on success, its value size.
func (m *clusterMetrics) recordOp(op string, start time.Time, valueSize int, err error) {
	ctx := context.Background()
	attrs := opAttrs(op, err)
	m.opLatency.Record(ctx, millis(m.sinceFunc(start)), attrs)
	if err == nil && valueSize > 0 {
		m.opValue.Record(ctx, int64(valueSize), attrs)
	}
}

// recordResize records a completed rehash.
func (m *clusterMetrics) recordResize(start time.Time, moved int) {
	ctx := context.Background()
	m.resizeLatency.Record(ctx, millis(m.sinceFunc(start)))
	m.resizeMoved.Add(ctx, int64(moved))
}

func (m *clusterMetrics) close() error {
	return m.registration.Unregister()
}

func opAttrs(op string, err error) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.Key("type").String(op),
		attribute.Key("result").String(result(err)),
	)
}

func result(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
