// Package api serves the administrative HTTP endpoints: cache management, health, circuit
// breakers and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cloudspi/cloudspi/internal/cache"
	"github.com/cloudspi/cloudspi/internal/circuit"
	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/memmon"
	"github.com/cloudspi/cloudspi/pkg/provider"
	"github.com/cloudspi/cloudspi/pkg/utils"
)

// CacheAdmin is the cache management surface served under /caches.
type CacheAdmin interface {
	cache.MBean
	Describe(name string) (cache.Info, error)
}

// ProviderStatus is implemented by *provider.CloudProvider.
type ProviderStatus interface {
	Name() string
	Stats() provider.Stats
}

// Server provides the admin HTTP API
type Server struct {
	httpServer *http.Server
	config     ServerConfig
	logger     *utils.StructuredLogger

	caches   CacheAdmin
	metrics  http.Handler
	monitor  *memmon.MemoryMonitor
	breakers *circuit.Manager

	mu        sync.RWMutex
	providers map[string]ProviderStatus
	started   time.Time
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8081")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8081",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Option configures optional server dependencies
type Option func(*Server)

// WithMetrics serves handler at /metrics.
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

// WithMemoryMonitor reports monitor statistics from /health.
func WithMemoryMonitor(monitor *memmon.MemoryMonitor) Option {
	return func(s *Server) { s.monitor = monitor }
}

// WithBreakers reports endpoint circuit breakers from /breakers and /health.
func WithBreakers(m *circuit.Manager) Option {
	return func(s *Server) { s.breakers = m }
}

// WithLogger sets the request logger.
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new API server over caches.
func NewServer(config ServerConfig, caches CacheAdmin, opts ...Option) *Server {
	s := &Server{
		config:    config,
		caches:    caches,
		providers: make(map[string]ProviderStatus),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = utils.NewDefaultLogger()
	}
	s.logger = s.logger.WithComponent("api")

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: config.ReadTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler, wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /caches", s.handleListCaches)
	mux.HandleFunc("POST /caches/clear", s.handleClearAll)
	// qualified names contain slashes and arrive path-escaped as one segment
	mux.HandleFunc("GET /caches/{name}", s.handleDescribeCache)
	mux.HandleFunc("POST /caches/{name}/clear", s.handleClearCache)
	mux.HandleFunc("PUT /caches/{name}/timeout", s.handleSetTimeout)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /providers", s.handleProviders)

	if s.breakers != nil {
		mux.HandleFunc("GET /breakers", s.handleBreakers)
		mux.HandleFunc("POST /breakers/reset", s.handleResetBreakers)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return s.loggingMiddleware(mux)
}

// AddProvider reports p from /health and /providers.
func (s *Server) AddProvider(p ProviderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Name()] = p
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting admin server", map[string]interface{}{"address": s.config.Address})
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server error", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

// Cache endpoints

func (s *Server) handleListCaches(w http.ResponseWriter, r *http.Request) {
	names := s.caches.Caches()
	infos := make([]cache.Info, 0, len(names))
	for _, name := range names {
		info, err := s.caches.Describe(name)
		if err != nil {
			// unregistered between listing and describing
			continue
		}
		infos = append(infos, info)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"caches": infos,
		"count":  len(infos),
	})
}

func (s *Server) handleDescribeCache(w http.ResponseWriter, r *http.Request) {
	info, err := s.caches.Describe(r.PathValue("name"))
	if err != nil {
		s.respondCloudError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.caches.Clear(name); err != nil {
		s.respondCloudError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cache":   name,
		"cleared": true,
	})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	s.caches.ClearAll()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": len(s.caches.Caches()),
	})
}

type timeoutRequest struct {
	Seconds *int64 `json:"seconds"`
}

func (s *Server) handleSetTimeout(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	seconds, err := parseTimeout(r)
	if err != nil {
		s.respondCloudError(w, err)
		return
	}
	if err := s.caches.SetTimeoutInSeconds(name, seconds); err != nil {
		s.respondCloudError(w, err)
		return
	}

	info, err := s.caches.Describe(name)
	if err != nil {
		s.respondCloudError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// parseTimeout accepts {"seconds": n} or ?seconds=n.
func parseTimeout(r *http.Request) (int64, error) {
	invalid := func(cause error) error {
		return errors.NewError(errors.ErrCodeInvalidConfig, "timeout must be given as a number of seconds").
			WithComponent("api").
			WithOperation("SetTimeout").
			WithCause(cause)
	}

	if q := r.URL.Query().Get("seconds"); q != "" {
		seconds, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			return 0, invalid(err)
		}
		return seconds, nil
	}

	var req timeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, invalid(err)
	}
	if req.Seconds == nil {
		return 0, invalid(nil)
	}
	return *req.Seconds, nil
}

// Health endpoints

// recentAlertWindow is how long a memory alert keeps /health degraded.
const recentAlertWindow = 5 * time.Minute

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.started).String(),
		"timestamp": time.Now(),
		"caches":    len(s.caches.Caches()),
	}

	providers := s.providerStats()
	closing := 0
	for _, stats := range providers {
		if stats.ClosePending {
			closing++
		}
	}
	response["providers"] = len(providers)
	response["closing_providers"] = closing

	if s.breakers != nil {
		if open := s.breakers.OpenEndpoints(); len(open) > 0 {
			response["status"] = "degraded"
			response["open_circuits"] = open
		}
	}

	if s.monitor != nil {
		response["memory"] = s.monitor.GetStats()
		if alerts := s.monitor.GetAlerts(); len(alerts) > 0 {
			last := alerts[len(alerts)-1]
			if time.Since(last.Timestamp) < recentAlertWindow {
				response["status"] = "degraded"
				response["last_alert"] = last.Message
			}
		}
	}

	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.providerStats()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
		"count":     len(providers),
	})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	stats := s.breakers.Stats()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": stats,
		"count":    len(stats),
	})
}

func (s *Server) handleResetBreakers(w http.ResponseWriter, r *http.Request) {
	s.breakers.ResetAll()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"reset": true})
}

func (s *Server) providerStats() []provider.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]provider.Stats, 0, len(s.providers))
	for _, p := range s.providers {
		stats = append(stats, p.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Middleware

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
		s.logger.Debug("Request served", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", map[string]interface{}{"error": err.Error()})
	}
}

// respondCloudError maps err to the HTTP status of its error code.
func (s *Server) respondCloudError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.CodeOf(err)
	message := err.Error()

	var ce *errors.CloudError
	if errors.As(err, &ce) {
		if ce.HTTPStatus != 0 {
			status = ce.HTTPStatus
		}
		message = ce.UserFacingMessage()
	}

	s.respondJSON(w, status, map[string]interface{}{
		"error":     message,
		"code":      code,
		"timestamp": time.Now(),
	})
}
