// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/smartdevs17/upkeep-automator/internal/automation"
	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/coordinator"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/models"
	"github.com/smartdevs17/upkeep-automator/internal/storage"
	"github.com/smartdevs17/upkeep-automator/internal/watcher"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	automation     *automation.Service
	coordinator    *coordinator.Coordinator
	watcher        *watcher.Watcher
	metricsManager *metrics.Manager
	limiter        *rate.Limiter
	logger         *logrus.Logger
	quit           chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	automationService *automation.Service,
	coord *coordinator.Coordinator,
	eventWatcher *watcher.Watcher,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         cfg,
		storage:        store,
		automation:     automationService,
		coordinator:    coord,
		watcher:        eventWatcher,
		metricsManager: metricsManager,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:         utils.GetLogger(),
		quit:           make(chan struct{}),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// Automation routes
	automationAPI := s.router.PathPrefix("/api/automation").Subrouter()
	automationAPI.HandleFunc("/create", s.createUpkeepHandler).Methods("POST")
	automationAPI.HandleFunc("/history", s.historyHandler).Methods("GET")
	automationAPI.HandleFunc("/{address}/pause", s.pauseUpkeepHandler).Methods("POST")
	automationAPI.HandleFunc("/{address}/resume", s.resumeUpkeepHandler).Methods("POST")
	automationAPI.HandleFunc("/{address}", s.getUpkeepHandler).Methods("GET")
	automationAPI.HandleFunc("", s.listUpkeepsHandler).Methods("GET")

	// Operational routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	})

	// Immediately update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", map[string]interface{}{"error": err})
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically until Stop is called
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.updateComponentMetrics()
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()

	prom := s.metricsManager.GetPrometheusMetrics()
	if s.storage != nil {
		prom.UpdateComponentHealth("storage", s.storage.IsHealthy())
	}
	if s.coordinator != nil {
		prom.UpdateComponentHealth("coordinator", s.coordinator.IsHealthy())
	}
	if s.watcher != nil {
		prom.UpdateComponentHealth("watcher", s.watcher.IsHealthy())
	}
}

// Stop stops the HTTP server and its background metrics updater
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	select {
	case <-s.quit:
	default:
		close(s.quit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Middleware

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Call the next handler
		next.ServeHTTP(w, r)

		// Log the request
		s.logger.Info("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start),
			"user_agent": r.UserAgent(),
			"remote_ip":  r.RemoteAddr,
		})
	})
}

// corsMiddleware handles CORS
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a process-wide token bucket to all requests
func (s *HTTPServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Automation Handlers

// createUpkeepHandler registers a new upkeep contract and deploys its automator
func (s *HTTPServer) createUpkeepHandler(w http.ResponseWriter, r *http.Request) {
	var req automation.CreateUpkeepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	upkeep, err := s.automation.RegisterUpkeep(r.Context(), &req)
	if err != nil {
		switch {
		case utils.IsCode(err, utils.ErrCodeConflict):
			s.writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":    "Upkeep contract already registered",
				"existing": upkeep,
			})
		case utils.IsCode(err, utils.ErrCodeValidation):
			s.writeError(w, http.StatusBadRequest, "Invalid registration request", err)
		default:
			s.writeError(w, http.StatusInternalServerError, "Registration failed", err)
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, upkeep)
}

// listUpkeepsHandler lists registered upkeeps, newest first
func (s *HTTPServer) listUpkeepsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.UpkeepFilter{}

	if activeStr := r.URL.Query().Get("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid active parameter", err)
			return
		}
		filter.IsActive = &active
	}
	if network := r.URL.Query().Get("network"); network != "" {
		filter.Network = &network
	}

	upkeeps, err := s.automation.ListUpkeeps(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve upkeeps", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"upkeeps": upkeeps,
		"total":   len(upkeeps),
	})
}

// getUpkeepHandler returns one upkeep by contract address
func (s *HTTPServer) getUpkeepHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	upkeep, err := s.automation.GetUpkeep(r.Context(), address)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeValidation) {
			s.writeError(w, http.StatusBadRequest, "Invalid contract address", err)
			return
		}
		s.writeError(w, http.StatusNotFound, "Upkeep not found", err)
		return
	}

	s.writeJSON(w, http.StatusOK, upkeep)
}

// historyHandler returns history entries matching the query filters
func (s *HTTPServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid history query", err)
		return
	}

	entries, err := s.automation.GetHistory(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve history", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
		"total":   len(entries),
	})
}

// pauseUpkeepHandler deactivates an upkeep
func (s *HTTPServer) pauseUpkeepHandler(w http.ResponseWriter, r *http.Request) {
	s.setUpkeepActive(w, r, false)
}

// resumeUpkeepHandler reactivates an upkeep
func (s *HTTPServer) resumeUpkeepHandler(w http.ResponseWriter, r *http.Request) {
	s.setUpkeepActive(w, r, true)
}

func (s *HTTPServer) setUpkeepActive(w http.ResponseWriter, r *http.Request, active bool) {
	address := mux.Vars(r)["address"]

	if err := s.automation.SetActive(r.Context(), address, active); err != nil {
		switch {
		case utils.IsCode(err, utils.ErrCodeValidation):
			s.writeError(w, http.StatusBadRequest, "Invalid contract address", err)
		case utils.IsCode(err, utils.ErrCodeNotFound):
			s.writeError(w, http.StatusNotFound, "Upkeep not found", err)
		default:
			s.writeError(w, http.StatusInternalServerError, "Failed to update upkeep", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"active":  active,
	})
}

// parseHistoryFilter builds a history filter from query parameters
func parseHistoryFilter(r *http.Request) (models.HistoryFilter, error) {
	filter := models.HistoryFilter{
		Limit: defaultHistoryLimit,
	}
	query := r.URL.Query()

	if v := query.Get("upkeepId"); v != "" {
		filter.UpkeepID = &v
	}
	if v := query.Get("contractAddress"); v != "" {
		normalized := utils.NormalizeAddress(v)
		filter.ContractAddress = &normalized
	}
	if v := query.Get("txHash"); v != "" {
		filter.TxHash = &v
	}
	if v := query.Get("activityType"); v != "" {
		activity := models.ActivityType(v)
		filter.ActivityType = &activity
	}
	if v := query.Get("status"); v != "" {
		status := models.ExecStatus(v)
		filter.Status = &status
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: %q", v)
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		filter.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset: %q", v)
		}
		filter.Offset = offset
	}

	return filter, nil
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         "1.0.0",
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"storage":     s.storage.IsHealthy(),
		"coordinator": s.coordinator.IsHealthy(),
		"watcher":     s.watcher.IsHealthy(),
	}

	status := "healthy"
	for _, healthy := range components {
		if healthy != true {
			status = "degraded"
			break
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    "1.0.0",
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"storage":         storageStats,
		"coordinator":     s.coordinator.GetStats(),
		"watcher":         s.watcher.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", map[string]interface{}{"error": err})
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.Error("HTTP error", map[string]interface{}{
			"status":  status,
			"message": message,
			"error":   err,
		})
	}

	s.writeJSON(w, status, errorResponse)
}
