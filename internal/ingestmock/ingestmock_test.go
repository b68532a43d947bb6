package ingestmock

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bc-dunia/pulsewire/event"
	"github.com/bc-dunia/pulsewire/transport"
)

func postEnvelope(t *testing.T, url, apiKey string, events []event.TelemetryEvent) *http.Response {
	t.Helper()
	body, err := json.Marshal(transport.Envelope{Events: events})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(transport.APIKeyHeader, apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAcceptsAndRecordsEvents(t *testing.T) {
	srv, cleanup := StartTestServer()
	defer cleanup()

	resp := postEnvelope(t, srv.URL(), "", []event.TelemetryEvent{
		{RequestID: "req-1", Route: "/x"},
		{RequestID: "req-2", Route: "/y"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	evs := srv.Events()
	if len(evs) != 2 || evs[0].RequestID != "req-1" || evs[1].Route != "/y" {
		t.Fatalf("recorded events = %+v", evs)
	}
	if srv.RequestCount() != 1 {
		t.Fatalf("request count = %d, want 1", srv.RequestCount())
	}
}

func TestFailNext(t *testing.T) {
	srv, cleanup := StartTestServer()
	defer cleanup()

	srv.FailNext(2)

	for i := 0; i < 2; i++ {
		resp := postEnvelope(t, srv.URL(), "", []event.TelemetryEvent{{RequestID: "req-1"}})
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("request %d status = %d, want 500", i, resp.StatusCode)
		}
	}

	resp := postEnvelope(t, srv.URL(), "", []event.TelemetryEvent{{RequestID: "req-1"}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status after fail window = %d, want 202", resp.StatusCode)
	}
	if len(srv.Events()) != 1 {
		t.Fatal("failed requests must not record events")
	}
}

func TestAPIKeyEnforcement(t *testing.T) {
	srv := New(&Config{APIKey: "secret"})
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop(context.Background())

	if resp := postEnvelope(t, srv.URL(), "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", resp.StatusCode)
	}
	if resp := postEnvelope(t, srv.URL(), "wrong", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", resp.StatusCode)
	}
	if resp := postEnvelope(t, srv.URL(), "secret", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("correct key status = %d, want 202", resp.StatusCode)
	}
}

func TestStallNext(t *testing.T) {
	srv, cleanup := StartTestServer()
	defer cleanup()

	srv.StallNext(1, 10*time.Second)

	client := &http.Client{Timeout: 100 * time.Millisecond}
	body, _ := json.Marshal(transport.Envelope{})
	_, err := client.Post(srv.URL(), "application/json", bytes.NewReader(body))
	if err == nil {
		t.Fatal("stalled request must time out on the client side")
	}
}
