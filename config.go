package pulsewire

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bc-dunia/pulsewire/breaker"
	"github.com/bc-dunia/pulsewire/sampling"
	"github.com/bc-dunia/pulsewire/sender"
)

// Configuration validation errors.
var (
	ErrMissingServiceName  = errors.New("pulsewire: ServiceName is required")
	ErrMissingIngestionURL = errors.New("pulsewire: IngestionURL is required")
)

// Config is the pipeline configuration. ServiceName and IngestionURL are
// required; everything else has defaults.
type Config struct {
	// ServiceName identifies the emitting service.
	ServiceName string

	// IngestionURL is the delivery target for telemetry batches.
	IngestionURL string

	// APIKey is the optional credential sent with each delivery.
	APIKey string

	// BatchSize is the queue-size flush trigger. Default: 10.
	BatchSize int

	// BatchInterval is the timer flush trigger. Default: 5s.
	BatchInterval time.Duration

	// DeliveryTimeout is the hard per-attempt transport budget. Default: 10s.
	DeliveryTimeout time.Duration

	// Debug enables verbose local logging. It has no behavioral effect on
	// delivery.
	Debug bool

	// Sampling configures the keep-or-drop decision. Nil samples everything.
	Sampling *sampling.Config

	// RetryOptions tunes the retrying sender, the single owner of retry
	// policy. Nil uses defaults (3 attempts, jittered exponential backoff).
	RetryOptions *sender.Config

	// BatchRetryOptions is accepted for configuration compatibility but is
	// not honored: retries live in the sender only.
	BatchRetryOptions *sender.Config

	// Breaker tunes the circuit breaker. Nil uses defaults (threshold 5,
	// 30s reset window).
	Breaker *breaker.Config

	// HealthSnapshotInterval enables periodic service_health events when
	// positive. Zero disables them.
	HealthSnapshotInterval time.Duration

	// Observability configures optional OpenTelemetry self-instrumentation
	// of the pipeline. Nil disables it.
	Observability *ObservabilityConfig
}

// ObservabilityConfig enables OpenTelemetry tracing and metrics for the
// pipeline's own delivery activity.
type ObservabilityConfig struct {
	// TracesEnabled turns on spans around flush and delivery cycles.
	TracesEnabled bool

	// MetricsEnabled turns on pipeline counters and latency histograms.
	MetricsEnabled bool

	// Exporter selects the export path: "stdout", "otlp-grpc" or "otlp-http".
	Exporter string

	// OTLPEndpoint is the collector endpoint for OTLP exporters.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// ServiceVersion is attached to exported telemetry.
	ServiceVersion string

	// Attributes are added to all exported spans and metrics.
	Attributes map[string]string
}

// Option customizes pipeline construction beyond the Config surface.
type Option func(*Pipeline)

// WithRouteFunc supplies the matched route template for a request, for
// frameworks that do not populate http.Request.Pattern. Falls back to the
// raw URL path when the function returns an empty string.
func WithRouteFunc(fn func(*http.Request) string) Option {
	return func(p *Pipeline) {
		p.routeFunc = fn
	}
}

// WithHTTPClient overrides the HTTP client used by the delivery transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		p.httpClient = c
	}
}

// WithLogWriter redirects pipeline logging away from stderr. Useful for
// testing.
func WithLogWriter(w io.Writer) Option {
	return func(p *Pipeline) {
		p.logWriter = w
	}
}

func (c *Config) validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.IngestionURL == "" {
		return ErrMissingIngestionURL
	}
	return nil
}
