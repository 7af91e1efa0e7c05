package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coilworks/optserve/internal/auth"
	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/orchestrator"
	"github.com/coilworks/optserve/internal/ownership"
)

// rawJSON wraps a stored JSONB blob so it is embedded verbatim instead of
// being base64-encoded as []byte would be.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

type createConfigurationRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
}

type configurationResponse struct {
	ConfigurationID string    `json:"configuration_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Validated       bool      `json:"validated"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req createConfigurationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	now := time.Now()
	cfg := &models.Configuration{
		ConfigurationID: uuid.Must(uuid.NewV7()),
		OwnerID:         auth.ActingUserFromContext(r.Context()),
		Name:            req.Name,
		Description:     req.Description,
		Payload:         req.Payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.stores.Configurations().Create(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, configurationResponse{
		ConfigurationID: cfg.ConfigurationID.String(),
		Name:            cfg.Name,
		Description:     cfg.Description,
		Validated:       cfg.Validated,
		CreatedAt:       cfg.CreatedAt,
	})
}

func (s *Server) handleValidateConfiguration(w http.ResponseWriter, r *http.Request) {
	configurationID, err := uuid.Parse(r.PathValue("configuration_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid configuration id"})
		return
	}

	actingUser := auth.ActingUserFromContext(r.Context())
	if err := s.orchestrator.ValidateConfiguration(r.Context(), configurationID, actingUser); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "validated"})
}

type createScenarioRequest struct {
	ConfigurationID   string          `json:"configuration_id"`
	Name              string          `json:"name"`
	Objective         string          `json:"objective"`
	Constraints       json.RawMessage `json:"constraints"`
	Bounds            json.RawMessage `json:"bounds"`
	DesignVariables   json.RawMessage `json:"design_variables"`
	MaxIterations     int             `json:"max_iterations"`
	MaxEvaluations    int             `json:"max_evaluations"`
	Tolerance         float64         `json:"tolerance"`
	MaxRuntimeSeconds int64           `json:"max_runtime_seconds"`
}

type scenarioResponse struct {
	ScenarioID      string    `json:"scenario_id"`
	ConfigurationID string    `json:"configuration_id"`
	Name            string    `json:"name"`
	Objective       string    `json:"objective"`
	MaxIterations   int       `json:"max_iterations"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var req createScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Objective == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and objective are required"})
		return
	}

	configurationID, err := uuid.Parse(req.ConfigurationID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid configuration id"})
		return
	}

	actingUser := auth.ActingUserFromContext(r.Context())
	result, _, err := s.resolver.ResolveConfiguration(r.Context(), configurationID, actingUser)
	if err != nil {
		writeError(w, err)
		return
	}
	if result != ownership.Owned {
		writeError(w, orchestrator.ErrNotFound)
		return
	}

	sc := &models.Scenario{
		ScenarioID:      uuid.Must(uuid.NewV7()),
		ConfigurationID: configurationID,
		Name:            req.Name,
		Objective:       req.Objective,
		Constraints:     req.Constraints,
		Bounds:          req.Bounds,
		DesignVariables: req.DesignVariables,
		MaxIterations:   req.MaxIterations,
		MaxEvaluations:  req.MaxEvaluations,
		Tolerance:       req.Tolerance,
		MaxRuntime:      time.Duration(req.MaxRuntimeSeconds) * time.Second,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if sc.MaxIterations <= 0 {
		sc.MaxIterations = 100
	}
	if sc.MaxEvaluations <= 0 {
		sc.MaxEvaluations = 1000
	}
	if sc.Tolerance <= 0 {
		sc.Tolerance = 1e-6
	}
	if sc.MaxRuntime <= 0 {
		sc.MaxRuntime = time.Hour
	}

	if err := s.stores.Scenarios().Create(r.Context(), sc); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, scenarioResponse{
		ScenarioID:      sc.ScenarioID.String(),
		ConfigurationID: sc.ConfigurationID.String(),
		Name:            sc.Name,
		Objective:       sc.Objective,
		MaxIterations:   sc.MaxIterations,
		CreatedAt:       sc.CreatedAt,
	})
}
