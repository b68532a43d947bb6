// Package main provides the pulsewire-mockingest CLI binary.
// This starts a mock ingestion endpoint for local development and testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bc-dunia/pulsewire/internal/ingestmock"
)

func main() {
	addr := flag.String("addr", ":4318", "HTTP server address")
	apiKey := flag.String("api-key", "", "Required X-API-Key value (empty disables the check)")
	flag.Parse()

	config := ingestmock.DefaultConfig()
	config.Addr = *addr
	config.APIKey = *apiKey

	server := ingestmock.New(config)

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting mock ingestion server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Mock ingestion endpoint: %s\n", server.URL())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(ctx)
	fmt.Printf("Received %d ingestion requests, %d events\n", server.RequestCount(), len(server.Events()))
}
