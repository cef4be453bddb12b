package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"studygroup-server/internal/config"
	"studygroup-server/internal/server"
)

func gracefulShutdown(customServer *server.Server, httpServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("Shutdown signal received, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests first so no new connection races the final archive.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown with error: %v", err)
	}

	if err := customServer.Shutdown(ctx); err != nil {
		log.Printf("Error during custom shutdown: %v", err)
	}

	done <- true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()
	customServer, httpServer, err := server.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	customServer.Start(ctx)

	done := make(chan bool, 1)
	go gracefulShutdown(customServer, httpServer, done)

	log.Printf("Study group server listening on %s", httpServer.Addr)
	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %s", err)
	}

	<-done
	log.Println("Graceful shutdown complete.")
}
