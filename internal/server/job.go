package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coilworks/optserve/internal/auth"
	"github.com/coilworks/optserve/internal/models"
)

type jobResponse struct {
	JobID            string     `json:"job_id"`
	ScenarioID       string     `json:"scenario_id"`
	Status           string     `json:"status"`
	CurrentIteration int        `json:"current_iteration"`
	BestObjective    *float64   `json:"best_objective,omitempty"`
	BestSolution     any        `json:"best_solution,omitempty"`
	Results          any        `json:"results,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(job *models.Job) jobResponse {
	resp := jobResponse{
		JobID:            job.JobID.String(),
		ScenarioID:       job.ScenarioID.String(),
		Status:           string(job.Status),
		CurrentIteration: job.CurrentIteration,
		BestObjective:    job.BestObjective,
		ErrorMessage:     job.ErrorMessage,
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}
	if len(job.BestSolution) > 0 {
		resp.BestSolution = rawJSON(job.BestSolution)
	}
	if len(job.Results) > 0 {
		resp.Results = rawJSON(job.Results)
	}
	return resp
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	scenarioID, err := uuid.Parse(r.PathValue("scenario_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid scenario id"})
		return
	}

	actingUser := auth.ActingUserFromContext(r.Context())
	job, err := s.orchestrator.StartJob(r.Context(), scenarioID, actingUser)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
		return
	}

	actingUser := auth.ActingUserFromContext(r.Context())
	job, err := s.orchestrator.GetJob(r.Context(), jobID, actingUser)
	if err != nil {
		writeError(w, err)
		return
	}

	// Terminal jobs never change again, so clients may cache them.
	if job.Status.Terminal() {
		w.Header().Set("Cache-Control", "private, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
		return
	}

	actingUser := auth.ActingUserFromContext(r.Context())
	if err := s.orchestrator.CancelJob(r.Context(), jobID, actingUser); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type progressResponse struct {
	Status           string   `json:"status"`
	CurrentIteration int      `json:"current_iteration"`
	MaxIterations    int      `json:"max_iterations"`
	Percentage       float64  `json:"percentage"`
	BestObjective    *float64 `json:"best_objective,omitempty"`
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
		return
	}

	actingUser := auth.ActingUserFromContext(r.Context())
	progress, err := s.orchestrator.GetProgress(r.Context(), jobID, actingUser)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, progressResponse{
		Status:           string(progress.Status),
		CurrentIteration: progress.CurrentIteration,
		MaxIterations:    progress.MaxIterations,
		Percentage:       progress.Percentage,
		BestObjective:    progress.BestObjective,
	})
}
