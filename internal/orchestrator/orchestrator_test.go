package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coilworks/optserve/internal/compute"
	"github.com/coilworks/optserve/internal/models"
	memorystore "github.com/coilworks/optserve/internal/store/memory"
)

// fakeCompute is a scriptable ComputeClient.
type fakeCompute struct {
	mu          sync.Mutex
	optimizeFn  func(ctx context.Context) (*compute.OptimizeResult, error)
	performFn   func(ctx context.Context) (*compute.PerformanceResult, error)
	optimizeIn  chan struct{} // signalled when Optimize is entered
	optimizeOut chan struct{} // Optimize blocks until this is closed, when set
}

func (f *fakeCompute) Optimize(ctx context.Context, req *compute.OptimizeRequest) (*compute.OptimizeResult, error) {
	f.mu.Lock()
	in, out, fn := f.optimizeIn, f.optimizeOut, f.optimizeFn
	f.mu.Unlock()

	if in != nil {
		in <- struct{}{}
	}
	if out != nil {
		select {
		case <-out:
		case <-ctx.Done():
			return nil, &compute.Error{
				Classification: compute.Transient,
				Attempts:       1,
				Err:            ctx.Err(),
			}
		}
	}
	if fn != nil {
		return fn(ctx)
	}
	return &compute.OptimizeResult{
		Success:         true,
		DesignVariables: []float64{1, 2},
		ObjectiveValue:  3.5,
		Iterations:      100,
		Converged:       true,
	}, nil
}

func (f *fakeCompute) EvaluatePerformance(ctx context.Context, req *compute.PerformanceRequest) (*compute.PerformanceResult, error) {
	f.mu.Lock()
	fn := f.performFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return &compute.PerformanceResult{Success: true}, nil
}

func (f *fakeCompute) CheckHealth(ctx context.Context) bool { return true }

type env struct {
	stores   *memorystore.Store
	compute  *fakeCompute
	orch     *Orchestrator
	owner    uuid.UUID
	other    uuid.UUID
	scenario *models.Scenario
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	e := &env{
		stores:  memorystore.NewStore(),
		compute: &fakeCompute{},
		owner:   uuid.Must(uuid.NewV7()),
		other:   uuid.Must(uuid.NewV7()),
	}
	e.orch = New(e.stores, e.compute)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.orch.Shutdown(shutdownCtx)
	})

	cfg := &models.Configuration{
		ConfigurationID: uuid.Must(uuid.NewV7()),
		OwnerID:         e.owner,
		Name:            "hx-200",
		Payload:         []byte(`{"tubes":42}`),
		Validated:       true,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, e.stores.Configurations().Create(ctx, cfg))

	e.scenario = &models.Scenario{
		ScenarioID:      uuid.Must(uuid.NewV7()),
		ConfigurationID: cfg.ConfigurationID,
		Name:            "baseline",
		Objective:       "minimize_pressure_drop",
		MaxIterations:   100,
		MaxRuntime:      time.Minute,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, e.stores.Scenarios().Create(ctx, e.scenario))

	return e
}

func (e *env) waitForTerminal(t *testing.T, jobID uuid.UUID) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = e.stores.Jobs().Get(context.Background(), jobID)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestStartJobCompletes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, job.Status)

	final := e.waitForTerminal(t, job.JobID)
	require.Equal(t, models.JobStatusCompleted, final.Status)
	require.Equal(t, 100, final.CurrentIteration)
	require.NotNil(t, final.BestObjective)
	require.Equal(t, 3.5, *final.BestObjective)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	require.NotEmpty(t, final.BestSolution)

	progress, err := e.orch.GetProgress(ctx, job.JobID, e.owner)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, progress.Status)
	require.Equal(t, 100.0, progress.Percentage)
}

func TestStartJobOwnership(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	t.Run("different user sees not found", func(t *testing.T) {
		_, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.other)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing scenario", func(t *testing.T) {
		_, err := e.orch.StartJob(ctx, uuid.Must(uuid.NewV7()), e.owner)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStartJobRequiresValidatedConfiguration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	cfg := &models.Configuration{
		ConfigurationID: uuid.Must(uuid.NewV7()),
		OwnerID:         e.owner,
		Name:            "unchecked",
		CreatedAt:       time.Now(),
	}
	require.NoError(t, e.stores.Configurations().Create(ctx, cfg))

	sc := &models.Scenario{
		ScenarioID:      uuid.Must(uuid.NewV7()),
		ConfigurationID: cfg.ConfigurationID,
		Name:            "on unchecked",
		Objective:       "minimize_cost",
		MaxIterations:   10,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, e.stores.Scenarios().Create(ctx, sc))

	_, err := e.orch.StartJob(ctx, sc.ScenarioID, e.owner)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestComputeFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.compute.optimizeFn = func(ctx context.Context) (*compute.OptimizeResult, error) {
		return nil, &compute.Error{
			Classification: compute.Transient,
			Attempts:       4,
			StatusCode:     503,
			Err:            errors.New("compute service unavailable"),
		}
	}

	job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
	require.NoError(t, err)

	final := e.waitForTerminal(t, job.JobID)
	require.Equal(t, models.JobStatusFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "4 attempts")
	require.NotNil(t, final.CompletedAt)
}

func TestCancelJob(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelling a running job wins over its late result", func(t *testing.T) {
		e := newEnv(t)
		e.compute.optimizeIn = make(chan struct{}, 1)
		e.compute.optimizeOut = make(chan struct{})

		job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
		require.NoError(t, err)

		// Wait until the dispatch goroutine is inside the compute call.
		<-e.compute.optimizeIn

		require.NoError(t, e.orch.CancelJob(ctx, job.JobID, e.owner))
		close(e.compute.optimizeOut)

		final := e.waitForTerminal(t, job.JobID)
		require.Equal(t, models.JobStatusCancelled, final.Status)
		require.Equal(t, "cancelled by user", final.ErrorMessage)

		// The released compute result must not overwrite the terminal state.
		require.Never(t, func() bool {
			got, err := e.stores.Jobs().Get(ctx, job.JobID)
			return err != nil || got.Status != models.JobStatusCancelled
		}, 200*time.Millisecond, 20*time.Millisecond)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		e := newEnv(t)
		job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
		require.NoError(t, err)
		e.waitForTerminal(t, job.JobID)

		// Terminal job: cancel is a no-op success, repeatedly.
		require.NoError(t, e.orch.CancelJob(ctx, job.JobID, e.owner))
		require.NoError(t, e.orch.CancelJob(ctx, job.JobID, e.owner))

		final, err := e.stores.Jobs().Get(ctx, job.JobID)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusCompleted, final.Status)
	})

	t.Run("only the owner may cancel", func(t *testing.T) {
		e := newEnv(t)
		job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
		require.NoError(t, err)

		err = e.orch.CancelJob(ctx, job.JobID, e.other)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
	require.NoError(t, err)

	got, err := e.orch.GetJob(ctx, job.JobID, e.owner)
	require.NoError(t, err)
	require.Equal(t, job.JobID, got.JobID)

	_, err = e.orch.GetJob(ctx, job.JobID, e.other)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.orch.GetJob(ctx, uuid.Must(uuid.NewV7()), e.owner)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProgressPercentage(t *testing.T) {
	running := &models.Job{Status: models.JobStatusRunning}

	t.Run("proportional to iteration budget", func(t *testing.T) {
		running.CurrentIteration = 25
		require.Equal(t, 25.0, progressPercentage(running, 100))
	})

	t.Run("never reads 100 unless completed", func(t *testing.T) {
		running.CurrentIteration = 100
		require.Equal(t, 99.9, progressPercentage(running, 100))

		running.CurrentIteration = 250
		require.Equal(t, 99.9, progressPercentage(running, 100))
	})

	t.Run("completed is exactly 100", func(t *testing.T) {
		done := &models.Job{Status: models.JobStatusCompleted, CurrentIteration: 87}
		require.Equal(t, 100.0, progressPercentage(done, 100))
	})

	t.Run("zero iteration budget", func(t *testing.T) {
		running.CurrentIteration = 5
		require.Equal(t, 0.0, progressPercentage(running, 0))
	})
}

func TestGetProgressOwnership(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
	require.NoError(t, err)

	_, err = e.orch.GetProgress(ctx, job.JobID, e.other)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidateConfiguration(t *testing.T) {
	ctx := context.Background()

	t.Run("successful pre-flight marks the configuration", func(t *testing.T) {
		e := newEnv(t)
		cfg := &models.Configuration{
			ConfigurationID: uuid.Must(uuid.NewV7()),
			OwnerID:         e.owner,
			Name:            "fresh",
			CreatedAt:       time.Now(),
		}
		require.NoError(t, e.stores.Configurations().Create(ctx, cfg))

		require.NoError(t, e.orch.ValidateConfiguration(ctx, cfg.ConfigurationID, e.owner))

		got, err := e.stores.Configurations().Get(ctx, cfg.ConfigurationID)
		require.NoError(t, err)
		require.True(t, got.Validated)
	})

	t.Run("rejected configuration stays unvalidated", func(t *testing.T) {
		e := newEnv(t)
		e.compute.performFn = func(ctx context.Context) (*compute.PerformanceResult, error) {
			return nil, compute.ErrRejected
		}

		cfg := &models.Configuration{
			ConfigurationID: uuid.Must(uuid.NewV7()),
			OwnerID:         e.owner,
			Name:            "bad geometry",
			CreatedAt:       time.Now(),
		}
		require.NoError(t, e.stores.Configurations().Create(ctx, cfg))

		err := e.orch.ValidateConfiguration(ctx, cfg.ConfigurationID, e.owner)
		require.ErrorIs(t, err, ErrInvalidState)

		got, err := e.stores.Configurations().Get(ctx, cfg.ConfigurationID)
		require.NoError(t, err)
		require.False(t, got.Validated)
	})

	t.Run("only the owner may validate", func(t *testing.T) {
		e := newEnv(t)
		cfg := &models.Configuration{
			ConfigurationID: uuid.Must(uuid.NewV7()),
			OwnerID:         e.owner,
			Name:            "private",
			CreatedAt:       time.Now(),
		}
		require.NoError(t, e.stores.Configurations().Create(ctx, cfg))

		err := e.orch.ValidateConfiguration(ctx, cfg.ConfigurationID, e.other)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEndToEndWithHTTPCompute(t *testing.T) {
	ctx := context.Background()

	t.Run("optimization served over HTTP completes the job", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/optimize", r.URL.Path)
			var req compute.OptimizeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "minimize_pressure_drop", req.Objective)
			w.Write([]byte(`{"success":true,"design_variables":[0.7],"objective_value":9.5,"iterations":100,"converged":true}`)) //nolint:errcheck
		}))
		defer srv.Close()

		client, err := compute.NewClient(compute.Config{BaseURL: srv.URL},
			compute.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
		require.NoError(t, err)

		e := newEnv(t)
		orch := New(e.stores, client)
		t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

		job, err := orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
		require.NoError(t, err)

		final := e.waitForTerminal(t, job.JobID)
		require.Equal(t, models.JobStatusCompleted, final.Status)
		require.Equal(t, 9.5, *final.BestObjective)
	})

	t.Run("unavailable compute service fails the job after retries", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client, err := compute.NewClient(compute.Config{BaseURL: srv.URL},
			compute.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
		require.NoError(t, err)

		e := newEnv(t)
		orch := New(e.stores, client)
		t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

		job, err := orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
		require.NoError(t, err)

		final := e.waitForTerminal(t, job.JobID)
		require.Equal(t, models.JobStatusFailed, final.Status)
		require.Contains(t, final.ErrorMessage, "4 attempts")
		require.Equal(t, int32(4), attempts.Load())
	})
}

func TestShutdownDrainsDispatches(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.compute.optimizeIn = make(chan struct{}, 1)
	e.compute.optimizeOut = make(chan struct{})

	job, err := e.orch.StartJob(ctx, e.scenario.ScenarioID, e.owner)
	require.NoError(t, err)
	<-e.compute.optimizeIn

	done := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- e.orch.Shutdown(shutdownCtx)
	}()

	// Shutdown cancels the dispatch context, which unblocks the compute
	// call and finalizes the job as failed.
	require.NoError(t, <-done)

	final, err := e.stores.Jobs().Get(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, final.Status)
}
