package ownership

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coilworks/optserve/internal/models"
	memorystore "github.com/coilworks/optserve/internal/store/memory"
)

type fixture struct {
	resolver *Resolver
	stores   *memorystore.Store
	owner    uuid.UUID
	other    uuid.UUID
	cfg      *models.Configuration
	scenario *models.Scenario
	job      *models.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	stores := memorystore.NewStore()

	f := &fixture{
		stores: stores,
		owner:  uuid.Must(uuid.NewV7()),
		other:  uuid.Must(uuid.NewV7()),
	}
	f.resolver = NewResolver(stores.Configurations(), stores.Scenarios(), stores.Jobs())

	f.cfg = &models.Configuration{
		ConfigurationID: uuid.Must(uuid.NewV7()),
		OwnerID:         f.owner,
		Name:            "hx-200",
		Validated:       true,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, stores.Configurations().Create(ctx, f.cfg))

	f.scenario = &models.Scenario{
		ScenarioID:      uuid.Must(uuid.NewV7()),
		ConfigurationID: f.cfg.ConfigurationID,
		Name:            "baseline",
		Objective:       "minimize_pressure_drop",
		MaxIterations:   100,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, stores.Scenarios().Create(ctx, f.scenario))

	f.job = &models.Job{
		JobID:      uuid.Must(uuid.NewV7()),
		ScenarioID: f.scenario.ScenarioID,
		Status:     models.JobStatusPending,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, stores.Jobs().Create(ctx, f.job))

	return f
}

func TestResolveConfiguration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("owner", func(t *testing.T) {
		result, cfg, err := f.resolver.ResolveConfiguration(ctx, f.cfg.ConfigurationID, f.owner)
		require.NoError(t, err)
		require.Equal(t, Owned, result)
		require.Equal(t, f.cfg.ConfigurationID, cfg.ConfigurationID)
	})

	t.Run("different user", func(t *testing.T) {
		result, cfg, err := f.resolver.ResolveConfiguration(ctx, f.cfg.ConfigurationID, f.other)
		require.NoError(t, err)
		require.Equal(t, NotOwned, result)
		require.Nil(t, cfg)
	})

	t.Run("missing configuration", func(t *testing.T) {
		result, cfg, err := f.resolver.ResolveConfiguration(ctx, uuid.Must(uuid.NewV7()), f.owner)
		require.NoError(t, err)
		require.Equal(t, NotFound, result)
		require.Nil(t, cfg)
	})
}

func TestResolveScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("ownership flows through the configuration", func(t *testing.T) {
		result, sc, err := f.resolver.ResolveScenario(ctx, f.scenario.ScenarioID, f.owner)
		require.NoError(t, err)
		require.Equal(t, Owned, result)
		require.Equal(t, f.scenario.ScenarioID, sc.ScenarioID)

		result, sc, err = f.resolver.ResolveScenario(ctx, f.scenario.ScenarioID, f.other)
		require.NoError(t, err)
		require.Equal(t, NotOwned, result)
		require.Nil(t, sc)
	})

	t.Run("missing scenario", func(t *testing.T) {
		result, _, err := f.resolver.ResolveScenario(ctx, uuid.Must(uuid.NewV7()), f.owner)
		require.NoError(t, err)
		require.Equal(t, NotFound, result)
	})

	t.Run("scenario with dangling configuration", func(t *testing.T) {
		dangling := &models.Scenario{
			ScenarioID:      uuid.Must(uuid.NewV7()),
			ConfigurationID: uuid.Must(uuid.NewV7()),
			Name:            "orphan",
			Objective:       "maximize_heat_transfer",
			CreatedAt:       time.Now(),
		}
		require.NoError(t, f.stores.Scenarios().Create(ctx, dangling))

		result, sc, err := f.resolver.ResolveScenario(ctx, dangling.ScenarioID, f.owner)
		require.NoError(t, err)
		require.Equal(t, NotFound, result)
		require.Nil(t, sc)
	})
}

func TestResolveJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("full chain for owner", func(t *testing.T) {
		result, job, err := f.resolver.ResolveJob(ctx, f.job.JobID, f.owner)
		require.NoError(t, err)
		require.Equal(t, Owned, result)
		require.Equal(t, f.job.JobID, job.JobID)
	})

	t.Run("different user", func(t *testing.T) {
		result, job, err := f.resolver.ResolveJob(ctx, f.job.JobID, f.other)
		require.NoError(t, err)
		require.Equal(t, NotOwned, result)
		require.Nil(t, job)
	})

	t.Run("missing job", func(t *testing.T) {
		result, _, err := f.resolver.ResolveJob(ctx, uuid.Must(uuid.NewV7()), f.owner)
		require.NoError(t, err)
		require.Equal(t, NotFound, result)
	})
}
