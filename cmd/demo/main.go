// Package main provides the pulsewire-demo CLI binary: a small HTTP service
// wearing the telemetry middleware, pointed at an ingestion endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bc-dunia/pulsewire"
	"github.com/bc-dunia/pulsewire/sampling"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP server address")
	ingestionURL := flag.String("ingestion-url", "http://localhost:4318/ingest", "Telemetry ingestion endpoint")
	apiKey := flag.String("api-key", "", "Ingestion API key")
	debug := flag.Bool("debug", false, "Verbose pipeline logging")
	flag.Parse()

	pipeline, err := pulsewire.New(pulsewire.Config{
		ServiceName:            "pulsewire-demo",
		IngestionURL:           *ingestionURL,
		APIKey:                 *apiKey,
		Debug:                  *debug,
		HealthSnapshotInterval: 30 * time.Second,
		Sampling: &sampling.Config{
			Rate:               sampling.Float(0.5),
			AlwaysSampleSlowMs: 250,
			RouteRules: []sampling.RouteRule{
				{Pattern: "/healthz", Rate: 0},
			},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(rand.Int64N(200)) * time.Millisecond)
		fmt.Fprintf(w, `{"order":%q}`+"\n", r.PathValue("id"))
	})
	mux.HandleFunc("GET /flaky", func(w http.ResponseWriter, r *http.Request) {
		if rand.IntN(2) == 0 {
			pulsewire.RecordError(r, errors.New("upstream dependency unavailable"))
			http.Error(w, "upstream failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: *addr, Handler: pipeline.Middleware(mux)}

	go func() {
		fmt.Printf("Demo service listening on %s, shipping telemetry to %s\n", *addr, *ingestionURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)

	// Drain queued telemetry before stopping the pipeline.
	pipeline.Flush(ctx)
	_ = pipeline.Stop(ctx)
	fmt.Println("Demo service stopped")
}
