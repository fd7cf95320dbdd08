package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"aquabridge/internal/bridge"
	"aquabridge/internal/metrics"
)

// HealthStatus represents the overall health status of the bridge
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// MemoryInfo is the memory section of the health body.
type MemoryInfo struct {
	RSS         uint64  `json:"rss"`
	HeapUsed    uint64  `json:"heap_used"`
	Utilization float64 `json:"utilization"`
}

// CPUInfo is the CPU section of the health body.
type CPUInfo struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    HealthStatus     `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Memory    MemoryInfo       `json:"memory"`
	CPU       CPUInfo          `json:"cpu"`
	Buffers   map[string]int   `json:"buffers"`
	Metrics   metrics.Snapshot `json:"metrics"`
}

// StatusResponse is the body of GET /status, a compact ops snapshot.
type StatusResponse struct {
	State        string         `json:"state"`
	BreakerState string         `json:"breaker"`
	Buffers      map[string]int `json:"buffers"`
	Uptime       string         `json:"uptime"`
}

// Server exposes the bridge's ops HTTP surface: health, status and a
// Prometheus metrics endpoint.
type Server struct {
	manager    *bridge.Manager
	logger     *logrus.Entry
	httpServer *http.Server
}

// NewServer creates the ops server for the bridge manager.
func NewServer(port int, manager *bridge.Manager, logger *logrus.Entry) *Server {
	s := &Server{
		manager: manager,
		logger:  logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(
		manager.Metrics().Registry(),
		promhttp.HandlerOpts{},
	)).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("Ops HTTP server started")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Ops HTTP server failed")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// classify maps the bridge lifecycle state to the health status.
func classify(state bridge.State) HealthStatus {
	switch state {
	case bridge.StateUnhealthy, bridge.StateStopped:
		return HealthStatusUnhealthy
	case bridge.StateDegraded, bridge.StateDraining, bridge.StateConnecting, bridge.StateInit:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sample := s.manager.Monitor().Current()
	status := classify(s.manager.State())

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    s.manager.Uptime().Truncate(time.Second).String(),
		Memory: MemoryInfo{
			RSS:         sample.RSSBytes,
			HeapUsed:    sample.HeapUsedBytes,
			Utilization: sample.MemUtilization,
		},
		CPU: CPUInfo{
			Current: sample.CPUPercent,
			Average: sample.CPUAverage,
			Peak:    sample.CPUPeak,
		},
		Buffers: s.manager.Buffers().Depths(),
		Metrics: s.manager.Metrics().Snapshot(),
	}

	statusCode := http.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		State:        string(s.manager.State()),
		BreakerState: s.manager.Breaker().State(),
		Buffers:      s.manager.Buffers().Depths(),
		Uptime:       s.manager.Uptime().Truncate(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.WithError(err).Error("Failed to encode status response")
	}
}
