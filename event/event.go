// Package event defines the telemetry event model shared by the pipeline.
package event

import (
	"time"

	"github.com/google/uuid"
)

// TelemetryEvent is one recorded outcome of a single HTTP request handled by
// an instrumented service. Events are immutable after construction: they are
// built once at response finalization and owned by the pipeline until handed
// to the network layer.
type TelemetryEvent struct {
	// RequestID is an opaque unique identifier generated per request.
	RequestID string `json:"request_id"`

	// ServiceName identifies the emitting service (static, from config).
	ServiceName string `json:"service_name"`

	// Route is the matched route template when the framework exposes one,
	// otherwise the raw request path.
	Route string `json:"route"`

	// Method is the HTTP method of the request.
	Method string `json:"method"`

	// StatusCode is the final HTTP status code.
	StatusCode int `json:"status_code"`

	// DurationMs is measured from hook attach to response finalization.
	DurationMs int64 `json:"duration_ms"`

	// Timestamp is the event completion instant (RFC3339).
	Timestamp time.Time `json:"timestamp"`

	// ErrorType is the stable error classification (if any).
	ErrorType string `json:"error_type,omitempty"`

	// ErrorMessage is the human-readable error message (if any).
	ErrorMessage string `json:"error_message,omitempty"`

	// Metadata is an optional open key-value map.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewRequestID returns a fresh opaque request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// HasError reports whether the event carries an error classification.
func (e *TelemetryEvent) HasError() bool {
	return e.ErrorType != ""
}
