package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"aquabridge/internal/cloud/config"
	"aquabridge/internal/store"
	"aquabridge/internal/types"
)

// Server exposes the admin contract: mutation actions, read endpoints
// for the UI, and the live alert feed. Every mutation requires an
// authenticated admin principal before any storage access.
type Server struct {
	auth       *Authenticator
	mutations  *Mutations
	alerts     *store.AlertStore
	devices    *store.DeviceStore
	feed       *AlertFeed
	logger     *logrus.Entry
	httpServer *http.Server
}

// NewServer wires the admin HTTP surface.
func NewServer(cfg config.AdminConfig, auth *Authenticator, mutations *Mutations, alerts *store.AlertStore, devices *store.DeviceStore, feed *AlertFeed, logger *logrus.Entry) *Server {
	s := &Server{
		auth:      auth,
		mutations: mutations,
		alerts:    alerts,
		devices:   devices,
		feed:      feed,
		logger:    logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/actions/{action}", s.handleAction).Methods(http.MethodPost)
	router.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	router.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	router.HandleFunc("/ws/alerts", s.feed.HandleWS).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("Admin HTTP server started")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Admin HTTP server failed")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.feed.Close()
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	principal, err := s.auth.RequireAdmin(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("invalid request body"))
		return
	}

	result, err := s.mutations.Dispatch(r.Context(), action, principal, body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r); err != nil {
		s.writeError(w, err)
		return
	}

	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r); err != nil {
		s.writeError(w, err)
		return
	}

	status := types.AlertStatus(r.URL.Query().Get("status"))
	if status != "" {
		switch status {
		case types.AlertStatusActive, types.AlertStatusAcknowledged, types.AlertStatusResolved:
		default:
			s.writeError(w, fmt.Errorf("invalid status filter %q", status))
			return
		}
	}

	alerts, err := s.alerts.ListAlerts(r.Context(), status, 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	s.writeJSON(w, status, errorResponse{
		OK:    false,
		Error: err.Error(),
		Code:  code,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
