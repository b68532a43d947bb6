package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewRequestIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		if id == "" {
			t.Fatal("empty request id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestHasError(t *testing.T) {
	ev := TelemetryEvent{StatusCode: 500}
	if ev.HasError() {
		t.Fatal("status alone does not set the error classification")
	}
	ev.ErrorType = "timeout"
	if !ev.HasError() {
		t.Fatal("error type must flag the event as errored")
	}
}

func TestJSONShape(t *testing.T) {
	ev := TelemetryEvent{
		RequestID:   "req-1",
		ServiceName: "svc",
		Route:       "/orders/{id}",
		Method:      "GET",
		StatusCode:  200,
		DurationMs:  12,
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"request_id", "service_name", "route", "method", "status_code", "duration_ms", "timestamp"} {
		if _, ok := m[key]; !ok {
			t.Errorf("marshalled event missing %q", key)
		}
	}
	// Empty error fields and metadata stay off the wire.
	for _, key := range []string{"error_type", "error_message", "metadata"} {
		if _, ok := m[key]; ok {
			t.Errorf("empty %q must be omitted", key)
		}
	}
	if m["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %v, want RFC3339", m["timestamp"])
	}
}
