package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/store"
)

// ScenarioStore implements store.ScenarioStore using PostgreSQL.
type ScenarioStore struct {
	pool *pgxpool.Pool
}

// NewScenarioStore creates a new PostgreSQL-backed scenario store.
func NewScenarioStore(pool *pgxpool.Pool) *ScenarioStore {
	return &ScenarioStore{pool: pool}
}

// Create creates a new scenario in the database.
func (s *ScenarioStore) Create(ctx context.Context, sc *models.Scenario) error {
	query := `
		INSERT INTO scenarios (
			scenario_id, configuration_id, name, objective,
			constraints, bounds, design_variables,
			max_iterations, max_evaluations, tolerance, max_runtime_seconds,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := s.pool.Exec(ctx, query,
		sc.ScenarioID,
		sc.ConfigurationID,
		sc.Name,
		sc.Objective,
		nullableJSON(sc.Constraints),
		nullableJSON(sc.Bounds),
		nullableJSON(sc.DesignVariables),
		sc.MaxIterations,
		sc.MaxEvaluations,
		sc.Tolerance,
		int64(sc.MaxRuntime/time.Second),
		sc.CreatedAt,
		sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scenario: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("scenario_id", sc.ScenarioID.String()).
		Str("configuration_id", sc.ConfigurationID.String()).
		Str("objective", sc.Objective).
		Msg("Created scenario")

	return nil
}

// Get retrieves a scenario by ID.
func (s *ScenarioStore) Get(ctx context.Context, scenarioID uuid.UUID) (*models.Scenario, error) {
	query := `
		SELECT scenario_id, configuration_id, name, objective,
		       constraints, bounds, design_variables,
		       max_iterations, max_evaluations, tolerance, max_runtime_seconds,
		       created_at, updated_at
		FROM scenarios
		WHERE scenario_id = $1
	`

	var sc models.Scenario
	var maxRuntimeSeconds int64
	err := s.pool.QueryRow(ctx, query, scenarioID).Scan(
		&sc.ScenarioID,
		&sc.ConfigurationID,
		&sc.Name,
		&sc.Objective,
		&sc.Constraints,
		&sc.Bounds,
		&sc.DesignVariables,
		&sc.MaxIterations,
		&sc.MaxEvaluations,
		&sc.Tolerance,
		&maxRuntimeSeconds,
		&sc.CreatedAt,
		&sc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrScenarioNotFound
		}
		return nil, fmt.Errorf("failed to get scenario: %w", mapPostgresError(err))
	}

	sc.MaxRuntime = time.Duration(maxRuntimeSeconds) * time.Second
	return &sc, nil
}

// nullableJSON converts an empty blob to NULL for JSONB columns.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
