package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/store"
)

// JobStore implements store.JobStore using PostgreSQL.
//
// Status transitions use conditional updates keyed on the expected prior
// status, so the first accepted terminal transition wins even when several
// orchestrator instances write to the same job concurrently.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new PostgreSQL-backed job store.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Create inserts a new job record.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, scenario_id, status, current_iteration,
			best_objective, best_solution, results, error_message,
			created_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := s.pool.Exec(ctx, query,
		job.JobID,
		job.ScenarioID,
		job.Status,
		job.CurrentIteration,
		job.BestObjective,
		nullableJSON(job.BestSolution),
		nullableJSON(job.Results),
		job.ErrorMessage,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", mapPostgresError(err))
	}

	log.Info().
		Str("job_id", job.JobID.String()).
		Str("scenario_id", job.ScenarioID.String()).
		Str("status", string(job.Status)).
		Msg("Created job")

	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	query := `
		SELECT job_id, scenario_id, status, current_iteration,
		       best_objective, best_solution, results, error_message,
		       created_at, started_at, completed_at
		FROM jobs
		WHERE job_id = $1
	`

	var j models.Job
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&j.JobID,
		&j.ScenarioID,
		&j.Status,
		&j.CurrentIteration,
		&j.BestObjective,
		&j.BestSolution,
		&j.Results,
		&j.ErrorMessage,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", mapPostgresError(err))
	}

	return &j, nil
}

// TransitionStatus applies the update iff the job's persisted status is in
// the expected set at write time. A zero-row update against an existing job
// means the transition lost the race and is reported as ErrStatusConflict.
func (s *JobStore) TransitionStatus(ctx context.Context, jobID uuid.UUID, expected []models.JobStatus, update store.JobUpdate) error {
	query := `
		UPDATE jobs
		SET
			status = $1,
			current_iteration = COALESCE($2, current_iteration),
			best_objective = COALESCE($3, best_objective),
			best_solution = COALESCE($4, best_solution),
			results = COALESCE($5, results),
			error_message = COALESCE($6, error_message),
			started_at = COALESCE($7, started_at),
			completed_at = COALESCE($8, completed_at)
		WHERE job_id = $9
		  AND status = ANY($10)
	`

	expectedStr := make([]string, len(expected))
	for i, st := range expected {
		expectedStr[i] = string(st)
	}

	result, err := s.pool.Exec(ctx, query,
		update.Status,
		update.CurrentIteration,
		update.BestObjective,
		nullableJSON(update.BestSolution),
		nullableJSON(update.Results),
		update.ErrorMessage,
		update.StartedAt,
		update.CompletedAt,
		jobID,
		expectedStr,
	)
	if err != nil {
		return fmt.Errorf("failed to transition job status: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		// Distinguish a missing job from a lost race
		var current models.JobStatus
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check job status: %w", mapPostgresError(err))
		}

		log.Debug().
			Str("job_id", jobID.String()).
			Str("current", string(current)).
			Str("attempted", string(update.Status)).
			Msg("Status transition rejected")
		return store.ErrStatusConflict
	}

	log.Info().
		Str("job_id", jobID.String()).
		Str("status", string(update.Status)).
		Msg("Job status transitioned")

	return nil
}

// RecordProgress advances the iteration counter and best objective of a
// running job. The status and iteration predicates keep progress reads
// monotonic regardless of write ordering.
func (s *JobStore) RecordProgress(ctx context.Context, jobID uuid.UUID, iteration int, bestObjective *float64) error {
	query := `
		UPDATE jobs
		SET
			current_iteration = $1,
			best_objective = COALESCE($2, best_objective)
		WHERE job_id = $3
		  AND status = $4
		  AND current_iteration <= $1
	`

	result, err := s.pool.Exec(ctx, query, iteration, bestObjective, jobID, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		var current models.JobStatus
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check job status: %w", mapPostgresError(err))
		}
		if current == models.JobStatusRunning {
			// Regressing iteration from an out-of-order write; drop it.
			return nil
		}
		return store.ErrStatusConflict
	}

	return nil
}
