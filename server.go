package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/shortrange"
)

//go:generate go tool mockgen -destination=mock_gateway_test.go -package=main . Gateway

// Gateway is the module surface the HTTP server drives.
type Gateway interface {
	Status() (Status, error)
	Attention(ctx context.Context) error
	Connect(ctx context.Context, address string) (int, error)
	Disconnect(ctx context.Context, conn int) error
	Send(conn int, data []byte) (int, error)
	Receive(conn int, p []byte) (int, error)
	SetSendTimeout(conn int, timeout time.Duration) error
	ServerHandles(ctx context.Context, conn int) (shortrange.ServerHandles, error)
}

const (
	maxSendBody    = 64 * 1024
	defaultReceive = 1024
)

// Server handles incoming HTTP requests for interacting with the
// attached short-range module
type Server struct {
	Logger  *slog.Logger
	Gateway Gateway
	// Metrics exposes GET /metrics.
	Metrics bool
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /attention", s.handleAttention)
	mux.HandleFunc("POST /sps/connect", s.handleConnect)
	mux.HandleFunc("DELETE /sps/{conn}", s.handleDisconnect)
	mux.HandleFunc("POST /sps/{conn}/send", s.handleSend)
	mux.HandleFunc("GET /sps/{conn}/receive", s.handleReceive)
	mux.HandleFunc("PUT /sps/{conn}/timeout", s.handleTimeout)
	mux.HandleFunc("GET /sps/{conn}/handles", s.handleServerHandles)
	if s.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
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
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// sendModuleError maps a module error to its HTTP status and reports the
// numeric result code alongside the message.
func (s *Server) sendModuleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, shortrange.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shortrange.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, shortrange.ErrInvalidMode), errors.Is(err, shortrange.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, shortrange.ErrResourceExhausted), errors.Is(err, shortrange.ErrTemporaryFailure):
		status = http.StatusServiceUnavailable
	case errors.Is(err, at.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, at.ErrCommandFailed):
		status = http.StatusBadGateway
	}

	type ErrorResponse struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Message: err.Error(), Code: shortrange.Code(err)})
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Failed to write response", "error", err)
	}
}

// connParam parses the {conn} path segment, writing a 400 on failure.
func (s *Server) connParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	conn, err := strconv.Atoi(r.PathValue("conn"))
	if err != nil || conn < 0 {
		s.sendError(w, "invalid connection handle", http.StatusBadRequest)
		return 0, false
	}
	return conn, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.Gateway.Status()
	if err != nil {
		s.sendModuleError(w, err)
		return
	}
	s.sendJSON(w, st)
}

func (s *Server) handleAttention(w http.ResponseWriter, r *http.Request) {
	if err := s.Gateway.Attention(r.Context()); err != nil {
		s.Logger.Warn("Attention failed", "error", err)
		s.sendModuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnect opens an SPS connection to a Bluetooth peer
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	type ConnectRequest struct {
		Address string `json:"address"`
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		s.sendError(w, "'address' is required", http.StatusBadRequest)
		return
	}

	conn, err := s.Gateway.Connect(r.Context(), req.Address)
	if err != nil {
		s.Logger.Error("Failed to connect", "error", err, "address", req.Address)
		s.sendModuleError(w, err)
		return
	}

	s.Logger.Info("SPS connect requested", "address", req.Address, "conn", conn)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"conn": conn})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connParam(w, r)
	if !ok {
		return
	}
	if err := s.Gateway.Disconnect(r.Context(), conn); err != nil {
		s.sendModuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connParam(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSendBody))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	n, err := s.Gateway.Send(conn, data)
	if err != nil {
		s.sendModuleError(w, err)
		return
	}
	s.sendJSON(w, map[string]int{"sent": n})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connParam(w, r)
	if !ok {
		return
	}
	limit := defaultReceive
	if v := r.URL.Query().Get("max"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m <= 0 || m > maxSendBody {
			s.sendError(w, "invalid 'max'", http.StatusBadRequest)
			return
		}
		limit = m
	}

	buf := make([]byte, limit)
	n, err := s.Gateway.Receive(conn, buf)
	if err != nil {
		s.sendModuleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(buf[:n])
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connParam(w, r)
	if !ok {
		return
	}
	type TimeoutRequest struct {
		MS *int `json:"ms"`
	}

	var req TimeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MS == nil || *req.MS <= 0 {
		s.sendError(w, "'ms' must be a positive integer", http.StatusBadRequest)
		return
	}

	if err := s.Gateway.SetSendTimeout(conn, time.Duration(*req.MS)*time.Millisecond); err != nil {
		s.sendModuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleServerHandles(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connParam(w, r)
	if !ok {
		return
	}
	hs, err := s.Gateway.ServerHandles(r.Context(), conn)
	if err != nil {
		s.sendModuleError(w, err)
		return
	}

	type HandlesResponse struct {
		Service      uint16 `json:"service"`
		FIFOValue    uint16 `json:"fifo_value"`
		FIFOCCC      uint16 `json:"fifo_ccc"`
		CreditsValue uint16 `json:"credits_value"`
		CreditsCCC   uint16 `json:"credits_ccc"`
	}
	s.sendJSON(w, HandlesResponse(hs))
}
