// Package server provides HTTP server initialization and lifecycle management
// for the engram API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/web/handlers"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Server serves the REST API and the WebSocket hub for one engine.
type Server struct {
	cfg     *config.Config
	hub     *handlers.WebSocketHub
	handler http.Handler
	logger  *slog.Logger
	done    chan struct{}
}

// New builds the HTTP handler tree. If hub is nil a hub accepting the
// configured address as origin is created. The hub should be the one whose
// BroadcastAmended is registered as the engine's turn-amended hook.
func New(cfg *config.Config, eng handlers.Engine, hub *handlers.WebSocketHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(cfg, logger)
	}
	hub.SetChatHandler(eng.Chat)

	api := handlers.NewAPIHandlers(eng, hub, logger)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/chat", api.Chat)
	apiMux.HandleFunc("GET /api/memories", api.ListMemories)
	apiMux.HandleFunc("POST /api/memories", api.Remember)
	apiMux.HandleFunc("GET /api/turns", api.ListTurns)
	apiMux.HandleFunc("GET /api/turns/{n}", api.GetTurn)
	apiMux.HandleFunc("GET /api/stats", api.GetStats)
	apiMux.HandleFunc("POST /api/reset", api.Reset)

	mux := http.NewServeMux()

	// Health endpoint, no auth required.
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"healthy","version":%q}`, Version)
	})

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg.Security.APIToken))
	mux.Handle("/ws", handlers.RequireAuth(hub, cfg.Security.APIToken))

	handler := handlers.RateLimitMiddleware(mux, handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))
	handler = handlers.RequestLogger(handler, logger)
	handler = securityHeadersMiddleware(handler)

	return &Server{
		cfg:     cfg,
		hub:     hub,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// NewHub creates a hub that accepts browser origins on the configured port.
func NewHub(cfg *config.Config, logger *slog.Logger) *handlers.WebSocketHub {
	port := cfg.Server.Port
	return handlers.NewWebSocketHub(logger,
		cfg.Addr(),
		fmt.Sprintf("localhost:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port),
	)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *handlers.WebSocketHub {
	return s.hub
}

// Start listens on the configured address and serves in the background until
// ctx is cancelled. It returns the actual address being listened on (useful
// for testing with port 0).
func (s *Server) Start(ctx context.Context) (string, error) {
	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
		s.hub.Stop()
	}()

	actual := listener.Addr().String()
	s.logger.Info("server listening", "addr", actual)
	return actual, nil
}

// Done is closed once the server has shut down after Start's context ended.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
