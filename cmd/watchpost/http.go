package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"watchpost/internal/api"
)

// handleHTTPServer starts the dashboard server on addr. It shuts down the
// server when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, server *api.Server, wg *sync.WaitGroup, errc chan error, logger *log.Logger, debug bool) {
	srv := &http.Server{Addr: addr, Handler: server.Handler(debug), ReadHeaderTimeout: time.Second * 60}
	for _, m := range server.Mounts {
		logger.Printf("HTTP mounted on %s %s", m.Verb, m.Pattern)
	}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
