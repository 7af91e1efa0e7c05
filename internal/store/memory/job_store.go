package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/store"
)

// JobStore implements store.JobStore using in-memory storage.
// The conditional-update semantics mirror the PostgreSQL store exactly:
// a status transition commits only when the current status is in the
// expected set, evaluated under the store lock.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[uuid.UUID]*models.Job),
	}
}

// Create creates a new job in memory.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return store.ErrAlreadyExists
	}

	clone := cloneJob(job)
	s.jobs[job.JobID] = clone
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, store.ErrJobNotFound
	}

	return cloneJob(job), nil
}

// TransitionStatus applies the update iff the current status is in expected.
func (s *JobStore) TransitionStatus(ctx context.Context, jobID uuid.UUID, expected []models.JobStatus, update store.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return store.ErrJobNotFound
	}

	if !slices.Contains(expected, job.Status) {
		log.Debug().
			Str("job_id", jobID.String()).
			Str("current", string(job.Status)).
			Str("attempted", string(update.Status)).
			Msg("Status transition rejected")
		return store.ErrStatusConflict
	}

	job.Status = update.Status
	if update.CurrentIteration != nil {
		job.CurrentIteration = *update.CurrentIteration
	}
	if update.BestObjective != nil {
		job.BestObjective = update.BestObjective
	}
	if update.BestSolution != nil {
		job.BestSolution = slices.Clone(update.BestSolution)
	}
	if update.Results != nil {
		job.Results = slices.Clone(update.Results)
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}

	return nil
}

// RecordProgress advances the iteration counter of a running job.
// Regressions are dropped so progress reads stay monotonic.
func (s *JobStore) RecordProgress(ctx context.Context, jobID uuid.UUID, iteration int, bestObjective *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return store.ErrJobNotFound
	}

	if job.Status != models.JobStatusRunning {
		return store.ErrStatusConflict
	}

	if iteration >= job.CurrentIteration {
		job.CurrentIteration = iteration
		if bestObjective != nil {
			job.BestObjective = bestObjective
		}
	}

	return nil
}

func cloneJob(job *models.Job) *models.Job {
	clone := *job
	clone.BestSolution = slices.Clone(job.BestSolution)
	clone.Results = slices.Clone(job.Results)
	if job.BestObjective != nil {
		v := *job.BestObjective
		clone.BestObjective = &v
	}
	return &clone
}
