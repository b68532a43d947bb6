package pulsewire

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/pulsewire/event"
)

// errorTypeHTTP marks events whose only error signal is a >=400 status.
const errorTypeHTTP = "http_error"

// errorCapture is the out-of-band side channel for errors surfaced outside
// the hook's own call stack. The middleware seeds one into each request
// context; RecordError writes into it.
type errorCapture struct {
	mu  sync.Mutex
	err error
}

type captureKey struct{}

func contextWithCapture(ctx context.Context, c *errorCapture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

// RecordError records err against the in-flight request so the telemetry
// event for that request carries it. Intended for application error handlers
// that run after the instrumented handler returned. The first recorded error
// wins; calls for requests not wearing the middleware are no-ops.
func RecordError(r *http.Request, err error) {
	if err == nil {
		return
	}
	c, ok := r.Context().Value(captureKey{}).(*errorCapture)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Middleware instruments a request/response cycle. It calls next
// synchronously and transparently; the telemetry event is constructed
// exactly once on whichever completion signal fires first, handler return
// or request abort. Pipeline failures never become application failures:
// the only externally observable effect of ingestion outage is telemetry
// loss.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := event.NewRequestID()
		start := time.Now()

		capture := &errorCapture{}
		r = r.WithContext(contextWithCapture(r.Context(), capture))

		rw := &responseWriter{ResponseWriter: w}
		rw.status.Store(http.StatusOK)

		// Snapshotted before the handler runs so the abort watcher never has
		// to read from the request while routing mutates it.
		method := r.Method
		rawPath := r.URL.Path

		var done atomic.Bool
		finalize := func(route string, panicked error) {
			// Completion latch: finish and abort can both fire.
			if !done.CompareAndSwap(false, true) {
				return
			}
			p.finishRequest(method, route, rw, requestID, start, capture, panicked)
		}

		// Abort watcher: the request context closes when the client goes
		// away before the handler returns. ServeMux assigns r.Pattern on the
		// serving goroutine, so this path settles for the raw path instead
		// of racing that write.
		watcherStop := make(chan struct{})
		go func() {
			select {
			case <-r.Context().Done():
				finalize(rawPath, nil)
			case <-watcherStop:
			}
		}()
		defer close(watcherStop)

		defer func() {
			if rec := recover(); rec != nil {
				finalize(p.routeOf(r), panicValueError(rec))
				// Instrumentation never swallows application errors.
				panic(rec)
			}
			finalize(p.routeOf(r), nil)
		}()

		next.ServeHTTP(rw, r)
	})
}

func (p *Pipeline) finishRequest(method, route string, rw *responseWriter, requestID string, start time.Time, capture *errorCapture, panicked error) {
	status := int(rw.status.Load())

	// Exactly one error source wins: a synchronous panic beats an error
	// recorded out-of-band, which beats a synthesized HTTP-status error.
	var errType, errMsg string
	capture.mu.Lock()
	recorded := capture.err
	capture.mu.Unlock()
	switch {
	case panicked != nil:
		errType = classifyError(panicked)
		errMsg = panicked.Error()
	case recorded != nil:
		errType = classifyError(recorded)
		errMsg = recorded.Error()
	case status >= 400:
		errType = errorTypeHTTP
	}

	p.Submit(event.TelemetryEvent{
		RequestID:    requestID,
		ServiceName:  p.cfg.ServiceName,
		Route:        route,
		Method:       method,
		StatusCode:   status,
		DurationMs:   time.Since(start).Milliseconds(),
		Timestamp:    time.Now(),
		ErrorType:    errType,
		ErrorMessage: errMsg,
	})
}

// routeOf prefers the matched route template for cardinality control,
// falling back to the raw request path.
func (p *Pipeline) routeOf(r *http.Request) string {
	if p.routeFunc != nil {
		if route := p.routeFunc(r); route != "" {
			return route
		}
	}
	if r.Pattern != "" {
		// ServeMux patterns may carry a method prefix ("GET /orders/{id}").
		pat := r.Pattern
		if i := strings.IndexByte(pat, ' '); i >= 0 {
			pat = pat[i+1:]
		}
		return pat
	}
	return r.URL.Path
}

// classifyError derives a stable error_type from the error's dynamic type.
func classifyError(err error) string {
	t := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if t == "errors.errorString" || t == "fmt.wrapError" {
		return "error"
	}
	return t
}

// panicValueError converts a recovered panic value into an error.
func panicValueError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}

// responseWriter captures the final status code. Status fields are atomic
// because the abort watcher may read them while the handler goroutine is
// still writing the response.
type responseWriter struct {
	http.ResponseWriter
	status atomic.Int32
	wrote  atomic.Bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wrote.CompareAndSwap(false, true) {
		rw.status.Store(int32(code))
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wrote.Store(true)
	return rw.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController pass-through.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
