package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"watchible.io/modemd/modem"
)

// ModemService is what the HTTP server needs from the modem.
type ModemService interface {
	State() modem.State
	Identity() modem.Identity
	AlarmSet() bool
	Exec(ctx context.Context, cmd string) ([]string, error)
}

// Server handles incoming HTTP requests for inspecting and poking the
// configured modem instance
type Server struct {
	Logger   *slog.Logger
	Modem    ModemService
	Gatherer prometheus.Gatherer
	// Alarm raises the alarm as if the interrupt line had fired. It reports
	// whether the debounce window accepted it.
	Alarm func() bool
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /alarm", s.handleAlarm)
	mux.HandleFunc("POST /command", s.handleCommand)
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	s.sendJSON(w, resp, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// handleStatus reports the session state and what the modem told us
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		State    modem.State    `json:"state"`
		Identity modem.Identity `json:"identity"`
		Alarm    bool           `json:"alarm"`
	}

	s.sendJSON(w, StatusResponse{
		State:    s.Modem.State(),
		Identity: s.Modem.Identity(),
		Alarm:    s.Modem.AlarmSet(),
	}, http.StatusOK)
}

func (s *Server) handleAlarm(w http.ResponseWriter, r *http.Request) {
	if s.Alarm == nil {
		s.sendError(w, "alarm not available", http.StatusNotImplemented)
		return
	}
	if !s.Alarm() {
		s.sendError(w, "alarm debounced", http.StatusTooManyRequests)
		return
	}
	s.Logger.Info("Alarm raised over HTTP", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusAccepted)
}

// handleCommand passes a raw AT command through to the modem
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	type CommandRequest struct {
		Command string `json:"command"`
		// Timeout in milliseconds, 0 for the modem default
		Timeout int `json:"timeout"`
	}
	type CommandResponse struct {
		Lines []string `json:"lines"`
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		s.sendError(w, "'command' field is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Millisecond)
		defer cancel()
	}

	lines, err := s.Modem.Exec(ctx, req.Command)
	switch {
	case errors.Is(err, modem.ErrCommandFailed):
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	case errors.Is(err, modem.ErrTimeout):
		s.sendError(w, err.Error(), http.StatusGatewayTimeout)
		return
	case err != nil:
		s.Logger.Error("Failed to run command", "error", err, "command", req.Command)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if lines == nil {
		lines = []string{}
	}
	s.Logger.Info("Command executed", "command", req.Command, "lines", len(lines))
	s.sendJSON(w, CommandResponse{Lines: lines}, http.StatusOK)
}
