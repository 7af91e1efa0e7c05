// Package server exposes the orchestration API over HTTP/JSON.
//
// Error policy: absent and not-owned resources are both reported as 404 so
// the existence of another user's records is never disclosed; compute
// failures never surface here, they appear as a failed job status through
// the polling endpoints.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/auth"
	httpmiddleware "github.com/coilworks/optserve/internal/http"
	"github.com/coilworks/optserve/internal/orchestrator"
	"github.com/coilworks/optserve/internal/ownership"
	"github.com/coilworks/optserve/internal/store"
)

// Server wires the HTTP handlers to the orchestrator and stores.
type Server struct {
	stores       store.Store
	orchestrator *orchestrator.Orchestrator
	resolver     *ownership.Resolver
	compute      orchestrator.ComputeClient
}

// New creates the API server.
func New(stores store.Store, orch *orchestrator.Orchestrator, computeClient orchestrator.ComputeClient) *Server {
	return &Server{
		stores:       stores,
		orchestrator: orch,
		resolver:     ownership.NewResolver(stores.Configurations(), stores.Scenarios(), stores.Jobs()),
		compute:      computeClient,
	}
}

// Routes builds the full handler chain: request logging, client IP capture
// and bearer auth around the API mux.
func (s *Server) Routes(logger zerolog.Logger, jwtSecret []byte, noAuth bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/configurations", s.handleCreateConfiguration)
	mux.HandleFunc("POST /api/v1/configurations/{configuration_id}/validate", s.handleValidateConfiguration)
	mux.HandleFunc("POST /api/v1/scenarios", s.handleCreateScenario)
	mux.HandleFunc("POST /api/v1/scenarios/{scenario_id}/jobs", s.handleStartJob)
	mux.HandleFunc("GET /api/v1/jobs/{job_id}", s.handleGetJob)
	mux.HandleFunc("POST /api/v1/jobs/{job_id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /api/v1/jobs/{job_id}/progress", s.handleGetProgress)

	var api http.Handler = mux
	api = auth.Middleware(jwtSecret, noAuth)(api)

	// Health stays outside the auth chain.
	root := http.NewServeMux()
	root.Handle("/api/v1/", api)
	root.HandleFunc("GET /healthz", s.handleHealth)

	var handler http.Handler = root
	handler = httpmiddleware.ClientIPMiddleware()(handler)
	handler = httpmiddleware.RequestLogger(logger)(handler)

	return handler
}

// handleHealth reports liveness plus an advisory probe of the compute
// service. The probe never gates anything; a degraded compute service
// still accepts job submissions, which then fail through the normal path.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"compute": s.compute.CheckHealth(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrScenarioNotFound),
		errors.Is(err, store.ErrConfigurationNotFound),
		errors.Is(err, store.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})

	case errors.Is(err, orchestrator.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})

	default:
		log.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeJSON reads a request body with a size cap.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4*1024*1024)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}
