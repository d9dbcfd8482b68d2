package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/morezero/agent-router/pkg/registration"
)

// connChecker reports COMMS connectivity. *nats.Conn implements it.
type connChecker interface {
	IsConnected() bool
}

// pinger reports database reachability. *db.Repository implements it.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status       string       `json:"status"`
	Address      string       `json:"address"`
	Timestamp    string       `json:"timestamp"`
	Checks       HealthChecks `json:"checks"`
	Registration string       `json:"registration,omitempty"`
}

// HealthChecks holds the individual dependency checks.
type HealthChecks struct {
	Comms    bool  `json:"comms"`
	Database *bool `json:"database,omitempty"`
}

type protocolSummary struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
}

// routes registers the agent-router's own HTTP endpoints.
func (s *Server) routes(router *httprouter.Router) {
	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/protocols", s.handleProtocols)
	router.GET("/protocols/:ref", s.handleProtocol)
}

func (s *Server) health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Status:    "healthy",
		Address:   s.engine.Address(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	h.Checks.Comms = s.commsCheck != nil && s.commsCheck.IsConnected()
	if !h.Checks.Comms {
		h.Status = "unhealthy"
	}
	if s.db != nil {
		ok := s.db.Ping(ctx) == nil
		h.Checks.Database = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	}
	if s.manager != nil {
		h.Registration = s.manager.State().String()
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// handleReady reports ready once the agent's record has been published.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.manager != nil {
		switch st := s.manager.State(); st {
		case registration.Registered, registration.Refreshing:
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": st.String()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleProtocols(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	protocols := s.engine.Protocols()
	out := make([]protocolSummary, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, protocolSummary{Name: p.Name(), Version: p.Version(), Digest: string(p.Digest())})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"protocols": out})
}

// handleProtocol serves the manifest of the protocol matching ":ref", which is a name or
// "name@range".
func (s *Server) handleProtocol(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	ref := ps.ByName("ref")
	p, ok := s.engine.FindProtocol(ref)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("protocol %s not found", ref)})
		return
	}
	writeJSON(w, http.StatusOK, p.Manifest())
}

// withCORS allows cross-origin GET and POST from origins. No origins leaves h unwrapped.
func withCORS(origins []string, h http.Handler) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(h)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn(fmt.Sprintf("%s - encode response: %v", logPrefix, err))
	}
}
