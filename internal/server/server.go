// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/theorem-bounty-sync/internal/metrics"
	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
	"github.com/smartdevs17/theorem-bounty-sync/internal/storage"
	"github.com/smartdevs17/theorem-bounty-sync/internal/syncer"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	Version       string        `json:"version"`
}

// HealthChecker reports whether the ledger node is reachable
type HealthChecker interface {
	HealthCheckWithContext(ctx context.Context) error
}

// SyncTrigger starts reconciliation runs in the background and reports on
// the last one it started
type SyncTrigger interface {
	TriggerSync() error
	Running() bool
	LastReport() (*syncer.Report, error)
}

// HTTPServer serves the reconciled bounty set and operational endpoints
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	ledger         HealthChecker
	trigger        SyncTrigger
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server. ledger and trigger may be nil.
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	ledger HealthChecker,
	trigger SyncTrigger,
	metricsManager *metrics.Manager,
) *HTTPServer {
	server := &HTTPServer{
		config:         config,
		storage:        storage,
		ledger:         ledger,
		trigger:        trigger,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// Handler returns the router, for tests and embedding
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	// Theorem text may contain slashes
	s.router = mux.NewRouter().UseEncodedPath()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}

	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Bounty endpoints
	api.HandleFunc("/bounties", s.listBountiesHandler).Methods("GET")
	api.HandleFunc("/bounties/{theorem}", s.getBountyHandler).Methods("GET")

	// Sync endpoints
	api.HandleFunc("/sync/runs/latest", s.latestRunHandler).Methods("GET")
	if s.trigger != nil {
		api.HandleFunc("/sync/trigger", s.triggerSyncHandler).Methods("POST")
		api.HandleFunc("/sync/status", s.syncStatusHandler).Methods("GET")
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// RunSystemMetrics refreshes process gauges until ctx is done
func (s *HTTPServer) RunSystemMetrics(ctx context.Context, interval time.Duration) {
	if s.metricsManager == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metricsManager.UpdateSystemMetrics()
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// healthHandler checks the store and, when configured, the ledger node
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	healthy := true

	if err := s.storage.Ping(); err != nil {
		components["storage"] = err.Error()
		healthy = false
	} else {
		components["storage"] = "ok"
	}

	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ledger.HealthCheckWithContext(ctx); err != nil {
			components["ledger"] = err.Error()
			healthy = false
		} else {
			components["ledger"] = "ok"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns storage statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"storage":   stats,
	})
}

// listBountiesHandler lists bounties, optionally filtered by status
func (s *HTTPServer) listBountiesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.BountyFilter{}

	if raw := query.Get("status"); raw != "" {
		status := models.BountyStatus(raw)
		if !status.Valid() {
			s.writeError(w, http.StatusBadRequest, "Invalid status filter", fmt.Errorf("unknown status %q", raw))
			return
		}
		filter.Status = &status
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	bounties, err := s.storage.GetBounties(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve bounties", err)
		return
	}
	if bounties == nil {
		bounties = []models.BountyRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bounties": bounties,
		"count":    len(bounties),
	})
}

// getBountyHandler returns one bounty by theorem text
func (s *HTTPServer) getBountyHandler(w http.ResponseWriter, r *http.Request) {
	theorem, err := url.PathUnescape(mux.Vars(r)["theorem"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid theorem", err)
		return
	}

	bounty, err := s.storage.GetBounty(r.Context(), theorem)
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeNotFound) {
			s.writeError(w, http.StatusNotFound, "Bounty not found", nil)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve bounty", err)
		return
	}

	s.writeJSON(w, http.StatusOK, bounty)
}

// latestRunHandler returns the audit row of the last committed run
func (s *HTTPServer) latestRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.storage.GetLatestSyncRun(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve sync run", err)
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "No sync run recorded", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

// triggerSyncHandler starts a run unless one is already in progress
func (s *HTTPServer) triggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.trigger.TriggerSync(); err != nil {
		if errors.Is(err, syncer.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, "Sync already in progress", nil)
			return
		}
		if errors.Is(err, syncer.ErrSchedulerNotRunning) {
			s.writeError(w, http.StatusServiceUnavailable, "Scheduler is not running", nil)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to trigger sync", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Sync started",
	})
}

// syncStatusHandler reports the in-process scheduler state, including runs
// that failed and therefore left no audit row
func (s *HTTPServer) syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.trigger.LastReport()

	status := map[string]interface{}{
		"running":     s.trigger.Running(),
		"last_report": report,
	}
	if err != nil {
		status["last_error"] = err.Error()
	}

	s.writeJSON(w, http.StatusOK, status)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("expected a non-negative integer, got %q", raw)
	}
	return v, nil
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
