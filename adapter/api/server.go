// Package api provides the HTTP surface of the Agora market node.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/openagora/agora/pkg/observability"
)

// Server is the HTTP API server for the market node.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *MarketHandler
	health  *observability.HealthRegistry
	metrics observability.Metrics
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration. The write
// timeout leaves headroom over the longest event poll a client may request.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:7465",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// NewServer creates a new market API server.
func NewServer(cfg ServerConfig, handler *MarketHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		handler: handler,
		metrics: observability.NoopMetrics{},
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withRequestContext(s.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	// Health check
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Market API v1
	s.mux.HandleFunc("POST /market-api/v1/demands", s.handler.SubscribeDemand)
	s.mux.HandleFunc("GET /market-api/v1/demands", s.handler.ListDemands)
	s.mux.HandleFunc("DELETE /market-api/v1/demands/{subscriptionID}", s.handler.Unsubscribe)
	s.mux.HandleFunc("GET /market-api/v1/demands/{subscriptionID}/events", s.handler.CollectEvents)
	s.mux.HandleFunc("POST /market-api/v1/offers", s.handler.SubscribeOffer)
	s.mux.HandleFunc("GET /market-api/v1/offers", s.handler.ListOffers)
	s.mux.HandleFunc("DELETE /market-api/v1/offers/{subscriptionID}", s.handler.Unsubscribe)
	s.mux.HandleFunc("GET /market-api/v1/offers/{subscriptionID}/events", s.handler.CollectEvents)

	// Proposals
	s.mux.HandleFunc("GET /market-api/v1/proposals/{proposalID}", s.handler.GetProposal)
	s.mux.HandleFunc("POST /market-api/v1/proposals/{proposalID}/counter", s.handler.CounterProposal)
	s.mux.HandleFunc("POST /market-api/v1/proposals/{proposalID}/accept", s.handler.AcceptProposal)
	s.mux.HandleFunc("POST /market-api/v1/proposals/{proposalID}/reject", s.handler.RejectProposal)

	// Test harness injection
	s.mux.HandleFunc("POST /admin/v1/inject", s.handler.InjectProposal)
}

// SetMetrics replaces the server's metrics collector.
func (s *Server) SetMetrics(m observability.Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestContext stamps each request with correlation and request IDs
// and records timing for the access log.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get("X-Correlation-ID"))
		timer := observability.StartTimer(r.Method + " " + r.URL.Path).
			WithMetrics(s.metrics).
			WithTags(observability.T("method", r.Method))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		duration := timer.Stop()
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
			observability.CorrelationIDKey, observability.CorrelationIDFromContext(ctx),
		)
	})
}

// SetHealthRegistry attaches dependency health checks to the health endpoint.
func (s *Server) SetHealthRegistry(registry *observability.HealthRegistry) {
	s.health = registry
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		overall := s.health.GetOverallHealth(r.Context())
		status := http.StatusOK
		if overall.Status == observability.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, overall)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting market API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down market API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but can't do much at this point
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
