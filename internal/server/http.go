package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/djsamseng/Ray/internal/config"
	"github.com/djsamseng/Ray/internal/metrics"
	"github.com/djsamseng/Ray/internal/sink"
	"github.com/djsamseng/Ray/internal/stream"
)

const (
	serviceName    = "ray-receiver"
	serviceVersion = "1.0.0"
)

// RecorderStatsProvider exposes recording progress
type RecorderStatsProvider interface {
	Stats() sink.RecorderStats
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	streamMgr *stream.Manager
	recorder  RecorderStatsProvider
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`

	// Gatherer serves /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer `yaml:"-"`
}

// NewHTTPServer creates a new HTTP API server. recorder may be nil when
// recording is disabled.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	appConfig *config.Config, streamMgr *stream.Manager, recorder RecorderStatsProvider, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		streamMgr: streamMgr,
		recorder:  recorder,
		metrics:   m,
		gatherer:  cfg.Gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/pipelines", h.withMetrics("/pipelines", h.handlePipelines))
	mux.HandleFunc("/pipelines/", h.withMetrics("/pipelines/{name}", h.handlePipelineDetail))

	mux.HandleFunc("/recording", h.withMetrics("/recording", h.handleRecording))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (not instrumented itself)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint. The service is degraded once
// the primary pipeline has stopped.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pipelines := h.streamMgr.GetAllPipelines()
	components := make(map[string]any, len(pipelines))
	status := "healthy"
	code := http.StatusOK

	for _, p := range pipelines {
		components[p.Name] = map[string]any{
			"running": p.Running,
			"state":   p.State.String(),
			"frames":  p.Frames,
		}
		if p.Primary && !p.Running {
			status = "stopped"
			code = http.StatusServiceUnavailable
		}
	}

	health := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, code, health)
}

// handlePipelines implements the /pipelines endpoint
func (h *HTTPServer) handlePipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pipelines := h.streamMgr.GetAllPipelines()
	response := map[string]any{
		"total_pipelines":  len(pipelines),
		"active_pipelines": h.streamMgr.GetActivePipelineCount(),
		"stop_requested":   h.streamMgr.StopSignal().Raised(),
		"timestamp":        time.Now().UTC(),
		"pipelines":        pipelines,
	}

	writeJSON(w, http.StatusOK, response)
}

// handlePipelineDetail implements the /pipelines/{name} endpoint
func (h *HTTPServer) handlePipelineDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/pipelines/")
	if name == "" {
		http.Error(w, "Pipeline name required", http.StatusBadRequest)
		return
	}

	info, exists := h.streamMgr.GetPipeline(name)
	if !exists {
		http.Error(w, "Pipeline not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleRecording implements the /recording endpoint
func (h *HTTPServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.recorder == nil {
		http.Error(w, "Recording disabled", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, h.recorder.Stats())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Ray Sensor Stream Receiver",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /pipelines":        "List pipelines with statistics",
			"GET /pipelines/{name}": "Get detailed pipeline information",
			"GET /recording":        "Get recording progress",
			"GET /config":           "Get receiver configuration",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
