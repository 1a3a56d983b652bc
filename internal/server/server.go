// Package server provides HTTP server initialization and lifecycle management
// for the Reverie memories API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/reveriehq/reverie/internal/config"
	"github.com/reveriehq/reverie/internal/maintenance"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start builds the route table and starts the HTTP server. It returns the
// actual address being listened on (useful for testing with port 0). When
// ctx is cancelled the server shuts down gracefully and then stops the
// event hub.
func Start(ctx context.Context, cfg *config.Config, repo storage.MemoryRepository, hub *handlers.EventHub, sweeper *maintenance.Service) (string, error) {
	memoriesHandler := handlers.NewMemoriesHandler(repo, hub)
	maintenanceHandler := handlers.NewMaintenanceHandler(sweeper)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/memories", memoriesHandler.List)
	apiMux.HandleFunc("POST /api/memories", memoriesHandler.Create)
	apiMux.HandleFunc("GET /api/memories/statistics", memoriesHandler.Statistics)
	apiMux.HandleFunc("GET /api/memories/{id}", memoriesHandler.Get)
	apiMux.HandleFunc("PUT /api/memories/{id}", memoriesHandler.Update)
	apiMux.HandleFunc("DELETE /api/memories/{id}", memoriesHandler.Delete)
	apiMux.HandleFunc("PUT /api/memories/{id}/assets", memoriesHandler.AddAssets)
	apiMux.HandleFunc("DELETE /api/memories/{id}/assets", memoriesHandler.RemoveAssets)

	// Maintenance routes (manual sweep and sweeper status)
	apiMux.HandleFunc("POST /api/maintenance/cleanup", maintenanceHandler.TriggerCleanup)
	apiMux.HandleFunc("GET /api/maintenance/status", maintenanceHandler.Status)

	mux := http.NewServeMux()

	// Health endpoint - no auth required, used by monitoring
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handlers.Health(w, r)
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", hub)

	// Wrap entire server with rate limiting, then security headers
	rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// Create server with security timeouts
	addr := cfg.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, nil
}
