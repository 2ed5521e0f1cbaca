// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/absmach/mqterm/connection"
	"github.com/absmach/mqterm/history"
)

// Default number of records returned by /history.
const defaultHistoryLimit = 20

// Config holds health check server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// StateReader exposes the broker session state.
type StateReader interface {
	State() connection.State
}

// BreakerReader exposes the output circuit breaker state name.
type BreakerReader interface {
	State() string
}

// breakerOpen is the state name of a circuit that rejects sends.
const breakerOpen = "open"

// Server provides health check endpoints for monitoring and orchestration.
type Server struct {
	config   Config
	state    StateReader
	breaker  BreakerReader
	history  history.Store
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// New creates a new health check server. A nil breaker is reported as
// closed and a nil history store disables the /history endpoint.
func New(cfg Config, state StateReader, breaker BreakerReader, hs history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		state:   state,
		breaker: breaker,
		history: hs,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/history", s.handleHistory)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Addr returns the listener's network address.
// Returns an empty string if the server hasn't started listening yet.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen starts the health check server and blocks until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("Starting health check server", "address", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health check server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Health check server stopped")
		return nil
	}
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns 200 OK while the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Publish string `json:"publish,omitempty"`
	Details string `json:"details,omitempty"`
}

// handleReady returns 200 OK only while the broker session is connected and
// command output can be sent.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.state == nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:  "not_ready",
			Details: "session not initialized",
		})
		return
	}

	state := s.state.State()
	resp := ReadyResponse{State: state.String()}
	if s.breaker != nil {
		resp.Publish = s.breaker.State()
	}

	switch {
	case state != connection.StateConnected:
		resp.Status = "not_ready"
	case resp.Publish == breakerOpen:
		resp.Status = "not_ready"
		resp.Details = "publish circuit breaker open"
	default:
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusServiceUnavailable, resp)
}

// HistoryResponse lists recently executed commands, newest first.
type HistoryResponse struct {
	Records []history.Record `json:"records"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.Recent(limit)
	if err != nil {
		s.logger.Error("Failed to read history", "error", err)
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Records: records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
