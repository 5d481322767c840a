// Package server provides the HTTP surface: health checks, the report
// API used by the presentation layer, and the static documentation site.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/snowflake-tools/credit-sentinel/internal/config"
	"github.com/snowflake-tools/credit-sentinel/internal/engine"
	"github.com/snowflake-tools/credit-sentinel/internal/model"
	"github.com/snowflake-tools/credit-sentinel/internal/reader"
)

// Server provides HTTP endpoints for health checks, reports and docs.
type Server struct {
	cfg     *config.ServerConfig
	reader  *reader.Reader
	engine  *engine.Engine
	server  *http.Server
	mu      sync.Mutex
	started time.Time
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Database  *DBHealth `json:"database,omitempty"`
}

// DBHealth represents Snowflake connectivity status.
type DBHealth struct {
	Connected bool   `json:"connected"`
	Latency   string `json:"latency,omitempty"`
	Error     string `json:"error,omitempty"`
}

// New creates a new Server.
func New(cfg *config.ServerConfig, r *reader.Reader, eng *engine.Engine) *Server {
	return &Server{
		cfg:    cfg,
		reader: r,
		engine: eng,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/report", s.handleReport)

	if s.cfg.DocsDir != "" {
		fs := http.FileServer(http.Dir(s.cfg.DocsDir))
		mux.Handle("/docs/", noCache(http.StripPrefix("/docs/", fs)))
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.started = time.Now()

	go func() {
		log.Printf("HTTP server listening on :%d", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

// handleReport runs an analysis over the current (cached) snapshot,
// restricted by the filter query parameters, and returns the report.
// Filter parameters are comma-separated sets; multiple dimensions are
// conjunctive.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := filterFromQuery(r)

	report, err := s.engine.Generate(r.Context(), filter)
	if err != nil {
		// Total data-access failure degrades to an explicit no-data
		// report instead of a hard error when the cause is recognized.
		if reader.IsPermissionError(err) || reader.IsMissingObjectError(err) {
			log.Printf("Warning: data access failed, returning empty report: %v", err)
			report = s.engine.Analyze(&model.Snapshot{}, nil, filter)
		} else {
			log.Printf("Report generation failed: %v", err)
			http.Error(w, "report generation failed", http.StatusInternalServerError)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleRefresh drops the reader's fetch cache so the next report hits
// the source views instead of waiting out the cache TTL.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reader == nil {
		http.Error(w, "no data source attached", http.StatusServiceUnavailable)
		return
	}

	s.reader.Invalidate()
	log.Println("Snapshot cache invalidated by request")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "cache invalidated",
		"fingerprints_available": s.reader.HasFingerprints(),
	})
}

// filterFromQuery parses the filter sets from the request query.
func filterFromQuery(r *http.Request) model.Filter {
	q := r.URL.Query()
	return model.Filter{
		Users:      splitParam(q.Get("users")),
		Roles:      splitParam(q.Get("roles")),
		Warehouses: splitParam(q.Get("warehouses")),
		Databases:  splitParam(q.Get("databases")),
	}
}

func splitParam(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// noCache wraps a handler with headers that defeat browser caching, so
// documentation edits show up immediately.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles /healthz endpoint (combined check).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}

	// Perform deep check if enabled
	if s.cfg.DeepCheck && s.reader != nil {
		dbHealth := s.checkDatabase(r.Context())
		response.Database = dbHealth
		if !dbHealth.Connected {
			response.Status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if response.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, response)
}

// handleReady handles /readyz endpoint (readiness probe).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Check if we can connect to Snowflake
	if s.reader != nil {
		dbHealth := s.checkDatabase(r.Context())
		if !dbHealth.Connected {
			s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:    "not ready",
				Timestamp: time.Now(),
				Database:  dbHealth,
			})
			return
		}
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
	})
}

// handleLive handles /livez endpoint (liveness probe).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	// Simple liveness check - if we can respond, we're alive
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

// checkDatabase tests Snowflake connectivity.
func (s *Server) checkDatabase(ctx context.Context) *DBHealth {
	health := &DBHealth{}

	start := time.Now()
	err := s.reader.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		health.Connected = false
		health.Error = err.Error()
	} else {
		health.Connected = true
		health.Latency = latency.String()
	}

	return health
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
