package cluster

import (
	"log/slog"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Codec encodes values into the byte snapshot held by the owner shard. The
// snapshot feeds byte accounting and Verify; Select never decodes it.
type Codec interface {
	Marshal(v any) ([]byte, error)
}

// JSONCodec encodes values as JSON, compatible with encoding/json struct tags
var JSONCodec Codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Option configures a Cluster
type Option func(*options)

type options struct {
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	keyGenerator  func() string
	codec         Codec
}

func newOptions(opts []Option) options {
	o := options{
		logger:        slog.Default(),
		meterProvider: otel.GetMeterProvider(),
		keyGenerator:  uuid.NewString,
		codec:         JSONCodec,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for cluster events
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider sets the provider the cluster registers its instruments with
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.meterProvider = provider
		}
	}
}

// WithKeyGenerator replaces the UUID key generator.
// The generator must return globally unique keys.
func WithKeyGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.keyGenerator = gen
		}
	}
}

// WithCodec sets the value codec
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}
