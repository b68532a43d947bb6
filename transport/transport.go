// Package transport performs single delivery attempts against the ingestion
// endpoint. It owns serialization, the per-attempt timeout, and converting
// every network-level outcome into a Result; it never retries and never
// touches breaker or queue state.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/bc-dunia/pulsewire/event"
)

const defaultTimeout = 10 * time.Second

// APIKeyHeader carries the ingestion credential on outbound requests.
const APIKeyHeader = "X-API-Key"

// Envelope is the wire format of one delivery attempt.
type Envelope struct {
	Events []event.TelemetryEvent `json:"events"`
}

// Result describes the outcome of a single delivery attempt. A timeout is
// reported distinctly from other network failures so callers can log it, but
// carries no special retry semantics.
type Result struct {
	OK         bool
	StatusCode int
	TimedOut   bool
	Err        error
}

// Config holds the transport settings.
type Config struct {
	// EndpointURL is the ingestion endpoint the envelope is POSTed to.
	EndpointURL string

	// APIKey, when non-empty, is sent in the X-API-Key header.
	APIKey string

	// Timeout is the hard per-attempt budget. Zero defaults to 10s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client (tests, custom transports).
	HTTPClient *http.Client
}

// Client issues delivery attempts. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
}

// New creates a transport client for cfg.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, client: httpClient}
}

// Send serializes events as {"events": [...]} and issues one HTTP POST.
// Any non-2xx response, network error, or timeout is reported through the
// Result; Send never panics and never retries.
func (c *Client) Send(ctx context.Context, events []event.TelemetryEvent) Result {
	body, err := json.Marshal(Envelope{Events: events})
	if err != nil {
		return Result{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(APIKeyHeader, c.cfg.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{TimedOut: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the response body is not
	// interpreted, only the status code matters.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{StatusCode: resp.StatusCode, Err: &StatusError{StatusCode: resp.StatusCode}}
	}

	return Result{OK: true, StatusCode: resp.StatusCode}
}

// StatusError marks a delivery rejected with a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "ingestion endpoint returned status " + strconv.Itoa(e.StatusCode)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
