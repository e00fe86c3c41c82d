package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/migadu/taskdb/db"
	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/health"
	"github.com/migadu/taskdb/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TierSource exposes the tier layout of a database manager.
type TierSource interface {
	ActiveTier() db.Tier
	Tiers() []db.Tier
	PoolStats() map[string]metrics.PoolStats
}

// Server serves liveness, readiness, metrics and tier inspection endpoints.
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	monitor      *health.Monitor
	tiers        TierSource
	server       *http.Server
}

// ServerOptions holds configuration options for the HTTP server
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
}

// New creates a new HTTP server
func New(monitor *health.Monitor, tiers TierSource, options ServerOptions) (*Server, error) {
	if monitor == nil {
		return nil, fmt.Errorf("health monitor is required for HTTP server")
	}
	if tiers == nil {
		return nil, fmt.Errorf("tier source is required for HTTP server")
	}
	for _, host := range options.AllowedHosts {
		if strings.Contains(host, "/") {
			if _, _, err := net.ParseCIDR(host); err != nil {
				return nil, fmt.Errorf("invalid allowed host %q: %w", host, err)
			}
		}
	}

	return &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		monitor:      monitor,
		tiers:        tiers,
	}, nil
}

// Start runs the HTTP server until ctx is cancelled. Failures are reported on errChan.
func Start(ctx context.Context, monitor *health.Monitor, tiers TierSource, options ServerOptions, errChan chan error) {
	server, err := New(monitor, tiers, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP server: %w", err)
		return
	}

	logger.Info("Starting HTTP server", "component", "HTTP-API", "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP server", "component", "HTTP-API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down HTTP server", "component", "HTTP-API", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware.
// Probes and metrics stay open so orchestrators can reach them; /api/v1 is restricted.
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/healthz", s.handleLiveness).Methods("GET")
	router.HandleFunc("/readyz", s.handleReadiness).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.allowedHostsMiddleware)
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/tiers", s.handleTiers).Methods("GET")
	v1.HandleFunc("/health", s.handleHealth).Methods("GET")
	v1.HandleFunc("/health/check", s.handleHealthCheck).Methods("POST")

	return router
}

// Middleware functions

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		logger.Debug("HTTP request", "component", "HTTP-API", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		if !s.hostAllowed(getClientIP(r)) {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) hostAllowed(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	for _, allowedHost := range s.allowedHosts {
		if allowedHost == clientIP {
			return true
		}
		if ip == nil || !strings.Contains(allowedHost, "/") {
			continue
		}
		if _, cidr, err := net.ParseCIDR(allowedHost); err == nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Error encoding JSON response", "component", "HTTP-API", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeReadiness(w http.ResponseWriter, r health.Readiness) {
	status := http.StatusOK
	if !r.Ready() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, r)
}

// Response types

// TierStatus describes one configured tier.
type TierStatus struct {
	Tier   db.Tier            `json:"tier"`
	Active bool               `json:"active"`
	Pool   *metrics.PoolStats `json:"pool,omitempty"`
}

// TiersResponse is the body of GET /api/v1/tiers.
type TiersResponse struct {
	Active db.Tier      `json:"active"`
	Tiers  []TierStatus `json:"tiers"`
}

// Handler functions

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness probes every tier on each call so load balancers see failover immediately.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.writeReadiness(w, s.monitor.Check(r.Context()))
}

// handleHealth returns the last recorded readiness, running a check if none exists yet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	readiness, ok := s.monitor.Last()
	if !ok {
		readiness = s.monitor.Check(r.Context())
	}
	s.writeReadiness(w, readiness)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeReadiness(w, s.monitor.Check(r.Context()))
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	active := s.tiers.ActiveTier()
	stats := s.tiers.PoolStats()

	resp := TiersResponse{Active: active}
	for _, tier := range s.tiers.Tiers() {
		status := TierStatus{Tier: tier, Active: tier == active}
		if pool, ok := stats[tier.String()]; ok {
			status.Pool = &pool
		}
		resp.Tiers = append(resp.Tiers, status)
	}

	s.writeJSON(w, http.StatusOK, resp)
}
