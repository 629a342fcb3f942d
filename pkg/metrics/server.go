package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// NewMux routes /metrics and the given extra handlers, typically the health
// endpoints. Anything else is a 404.
func NewMux(extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	for pattern, h := range extra {
		mux.Handle("GET "+pattern, h)
	}
	return mux
}

// StartServer serves NewMux(extra) on port in the background and returns a
// shutdown function that drains in-flight scrapes.
func StartServer(port int, extra map[string]http.Handler) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMux(extra),
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       time.Minute,
	}
	log := slog.Default().With("component", "metrics-server", "addr", server.Addr)
	go func() {
		log.Info("serving metrics and health")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	return server.Shutdown
}
