// Package httpapi exposes a memory store over a REST + Server-Sent Events
// surface, so other processes can reach it as http_client peers of the
// coordinator.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/mnemo/internal/config"
	"github.com/scrypster/mnemo/internal/eventbus"
	"github.com/scrypster/mnemo/internal/store"
)

// Start builds the routed mux, wraps it in the middleware chain, and begins
// serving in the background. It returns the address actually bound (useful
// when cfg.HTTP.Port is 0, e.g. in tests) and the event hub so callers can
// publish events produced outside of HTTP handlers (direct-mode writes, for
// instance). Shutdown happens when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, st store.Store) (string, *eventbus.Hub, error) {
	bus := eventbus.New(time.Duration(cfg.Events.HeartbeatIntervalSeconds) * time.Second)
	go bus.Run()

	h := &apiHandlers{store: st, bus: bus}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", h.health)
	mux.HandleFunc("/api/memories", h.memoriesCollection)
	mux.HandleFunc("/api/memories/{hash}", h.memoryItem)
	mux.HandleFunc("/api/memories/delete-range", h.deleteByRange)
	mux.HandleFunc("/api/search/semantic", h.semanticSearch)
	mux.HandleFunc("/api/search/recall", h.recall)
	mux.HandleFunc("/api/search/tags", h.searchByTag)
	mux.HandleFunc("/api/stats", h.stats)
	mux.HandleFunc("/api/events", h.events)
	mux.HandleFunc("/api/events/stats", h.eventStats)

	limiter := newRateLimiter(10.0, 20)

	var handler http.Handler = mux
	handler = requireAuth(handler, cfg)
	handler = rateLimitMiddleware(handler, limiter)
	handler = hostnameTagMiddleware(cfg)(handler)
	handler = corsMiddleware(cfg.HTTP.CORSOrigins)(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		bus.Stop()
		return "", nil, fmt.Errorf("httpapi: failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("httpapi: server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("httpapi: shutdown error: %v", err)
		}
		bus.Stop()
	}()

	return actualAddr, bus, nil
}
