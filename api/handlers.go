package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"contentmind/core"
)

// HealthResponse is returned by /health and /ready.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Time   string `json:"time"`
}

// CapabilitiesResponse is returned by /api/v1/capabilities.
type CapabilitiesResponse struct {
	State           string                  `json:"state"`
	Capabilities    core.CapabilitySet      `json:"capabilities"`
	ActivationOrder []core.Capability       `json:"activation_order"`
	Reports         []core.ActivationReport `json:"reports"`
}

// respondJSON writes a JSON response with proper error handling
func (s *Server) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// writeError logs err and writes message with statusCode to the client.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorw(message, "error", err, "status_code", statusCode)
	}
	http.Error(w, message, statusCode)
}

// healthCheck handles GET /health. The process is live whenever it can answer.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, HealthResponse{
		Status: "UP",
		State:  s.status.State().String(),
		Time:   time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// readinessCheck handles GET /ready: 200 only once every capability is active.
func (s *Server) readinessCheck(w http.ResponseWriter, r *http.Request) {
	state := s.status.State()
	resp := HealthResponse{
		Status: "UP",
		State:  state.String(),
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if state != core.Ready {
		resp.Status = "DOWN"
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, resp, code)
}

// getCapabilities handles GET /api/v1/capabilities
func (s *Server) getCapabilities(w http.ResponseWriter, r *http.Request) {
	reports := s.status.Reports()
	if reports == nil {
		reports = []core.ActivationReport{}
	}
	s.respondJSON(w, CapabilitiesResponse{
		State:           s.status.State().String(),
		Capabilities:    s.status.Capabilities(),
		ActivationOrder: s.status.Capabilities().List(),
		Reports:         reports,
	}, http.StatusOK)
}
