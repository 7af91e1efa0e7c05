// Package ownership resolves the Job -> Scenario -> Configuration -> User
// chain that every read and mutation of job state is authorized against.
//
// NotOwned and NotFound are kept distinct internally for audit logging, but
// callers are expected to surface both as "not found" so the existence of
// another user's resources is never disclosed.
package ownership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/store"
)

// Result is the outcome of an ownership check.
type Result int

const (
	Owned Result = iota
	NotOwned
	NotFound
)

func (r Result) String() string {
	switch r {
	case Owned:
		return "owned"
	case NotOwned:
		return "not_owned"
	default:
		return "not_found"
	}
}

// Resolver walks the ownership chain with one fresh store lookup per hop.
// It deliberately has no cache: these are authorization-critical reads and
// correctness wins over latency.
type Resolver struct {
	configurations store.ConfigurationStore
	scenarios      store.ScenarioStore
	jobs           store.JobStore
}

// NewResolver creates an ownership resolver over the given stores.
func NewResolver(configurations store.ConfigurationStore, scenarios store.ScenarioStore, jobs store.JobStore) *Resolver {
	return &Resolver{
		configurations: configurations,
		scenarios:      scenarios,
		jobs:           jobs,
	}
}

// ResolveConfiguration checks whether actingUser owns the configuration.
func (r *Resolver) ResolveConfiguration(ctx context.Context, configurationID, actingUser uuid.UUID) (Result, *models.Configuration, error) {
	cfg, err := r.configurations.Get(ctx, configurationID)
	if err != nil {
		if errors.Is(err, store.ErrConfigurationNotFound) {
			return NotFound, nil, nil
		}
		return NotFound, nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}

	if cfg.OwnerID != actingUser {
		log.Warn().
			Str("configuration_id", configurationID.String()).
			Str("acting_user", actingUser.String()).
			Str("owner", cfg.OwnerID.String()).
			Msg("Ownership check failed for configuration")
		return NotOwned, nil, nil
	}

	return Owned, cfg, nil
}

// ResolveScenario checks whether actingUser owns the scenario, transitively
// through its configuration.
func (r *Resolver) ResolveScenario(ctx context.Context, scenarioID, actingUser uuid.UUID) (Result, *models.Scenario, error) {
	sc, err := r.scenarios.Get(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, store.ErrScenarioNotFound) {
			return NotFound, nil, nil
		}
		return NotFound, nil, fmt.Errorf("failed to resolve scenario: %w", err)
	}

	result, _, err := r.ResolveConfiguration(ctx, sc.ConfigurationID, actingUser)
	if err != nil {
		return NotFound, nil, err
	}
	if result != Owned {
		// A dangling configuration reference is logged as its own case;
		// to the caller it is indistinguishable from not-owned.
		if result == NotFound {
			log.Error().
				Str("scenario_id", scenarioID.String()).
				Str("configuration_id", sc.ConfigurationID.String()).
				Msg("Scenario references missing configuration")
		}
		return result, nil, nil
	}

	return Owned, sc, nil
}

// ResolveJob checks whether actingUser owns the job, transitively through
// scenario and configuration.
func (r *Resolver) ResolveJob(ctx context.Context, jobID, actingUser uuid.UUID) (Result, *models.Job, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return NotFound, nil, nil
		}
		return NotFound, nil, fmt.Errorf("failed to resolve job: %w", err)
	}

	result, _, err := r.ResolveScenario(ctx, job.ScenarioID, actingUser)
	if err != nil {
		return NotFound, nil, err
	}
	if result != Owned {
		return result, nil, nil
	}

	return Owned, job, nil
}
