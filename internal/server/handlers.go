package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roadsight/billboard-proxy/apimodels"
	"github.com/roadsight/billboard-proxy/internal/analyzer"
	"github.com/roadsight/billboard-proxy/internal/auth"
)

const (
	maxBodyBytes = 20 << 20
	probeTimeout = 10 * time.Second
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	rt := s.state.Load()
	setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		headers := "Content-Type"
		if rt.auth != nil {
			headers += ", Authorization"
		}
		w.Header().Set("Access-Control-Allow-Headers", headers)
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apimodels.ErrorResponse{Error: "Method not allowed"})
		return
	}

	action := "unknown"
	status := http.StatusOK
	defer func() { s.metrics.ObserveRequest(action, status) }()

	fail := func(code int, resp apimodels.ErrorResponse) {
		status = code
		writeJSON(w, code, resp)
	}

	if !rt.analyzer.Configured() {
		slog.Error("OpenAI API key not configured", "request_id", getRequestID(r.Context()))
		fail(http.StatusInternalServerError, apimodels.ErrorResponse{Error: "OpenAI API key not configured on server"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusRequestEntityTooLarge, apimodels.ErrorResponse{Error: "Request body too large"})
			return
		}
		slog.Error("Failed to read request body", "error", err)
		fail(http.StatusInternalServerError, apimodels.ErrorResponse{Error: "Internal server error", Details: err.Error()})
		return
	}

	req, err := analyzer.Decode(body)
	if err != nil {
		if errors.Is(err, analyzer.ErrInvalidMessages) {
			slog.Warn("Rejected analysis request", "error", err, "request_id", getRequestID(r.Context()))
			fail(http.StatusBadRequest, apimodels.ErrorResponse{Error: "Missing or invalid messages array"})
			return
		}
		if errors.Is(err, analyzer.ErrInvalidField) {
			slog.Warn("Rejected analysis request", "error", err, "request_id", getRequestID(r.Context()))
			fail(http.StatusBadRequest, apimodels.ErrorResponse{Error: "Invalid request field", Details: err.Error()})
			return
		}
		slog.Error("Failed to decode analysis request", "error", err, "request_id", getRequestID(r.Context()))
		fail(http.StatusInternalServerError, apimodels.ErrorResponse{Error: "Internal server error", Details: err.Error()})
		return
	}
	action = rt.cfg.ResolveAction(req.Action)

	result, err := rt.analyzer.Forward(r.Context(), req)
	if err != nil {
		code, resp := analyzeError(err)
		fail(code, resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Body); err != nil {
		slog.Error("Failed to write response", "error", err, "request_id", getRequestID(r.Context()))
	}
}

// analyzeError maps a Forward error onto the proxy's error contract.
func analyzeError(err error) (int, apimodels.ErrorResponse) {
	var upErr *analyzer.UpstreamError
	switch {
	case errors.As(err, &upErr):
		return upErr.StatusCode, apimodels.ErrorResponse{Error: upErr.Error(), Details: upErr.Message}
	case errors.Is(err, analyzer.ErrMissingAPIKey):
		return http.StatusInternalServerError, apimodels.ErrorResponse{Error: "OpenAI API key not configured on server"}
	default:
		return http.StatusInternalServerError, apimodels.ErrorResponse{Error: "Internal server error", Details: err.Error()}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	rt := s.state.Load()
	if !rt.analyzer.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "OpenAI API key not configured on server",
		})
		return
	}

	model := rt.cfg.Policy(rt.cfg.DefaultAction).Model

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if err := rt.prober.Probe(ctx, model); err != nil {
		slog.Error("Readiness probe failed", "model", model, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "model": model})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	rt := s.state.Load()
	if rt.auth == nil {
		writeJSON(w, http.StatusNotFound, apimodels.ErrorResponse{Error: "Not found"})
		return
	}

	var req apimodels.TokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apimodels.ErrorResponse{Error: "Invalid request", Details: err.Error()})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, apimodels.ErrorResponse{Error: "Email and password are required"})
		return
	}

	resp, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Warn("Login failed", "email", req.Email)
			writeJSON(w, http.StatusUnauthorized, apimodels.ErrorResponse{Error: "Invalid email or password"})
			return
		}
		slog.Error("Login error", "error", err)
		writeJSON(w, http.StatusInternalServerError, apimodels.ErrorResponse{Error: "Failed to login"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
