// Package orchestrator owns the optimization job state machine:
//
//	Pending -> Running -> {Completed | Failed | Cancelled}
//
// The three right-hand states are terminal. The first terminal transition
// wins; later writers lose the conditional update at the store and their
// results are discarded. That rule is enforced at the persistence boundary
// so it holds across multiple orchestrator instances.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/compute"
	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/ownership"
	"github.com/coilworks/optserve/internal/store"
	"github.com/coilworks/optserve/internal/telemetry"
)

// Request-level errors surfaced to callers. Compute failures never appear
// here; they become a Failed job status with a persisted error message.
var (
	// ErrNotFound covers both absent and not-owned resources so the
	// existence of another user's records is not disclosed.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the scenario cannot be started, e.g. its
	// configuration has not passed validation.
	ErrInvalidState = errors.New("invalid scenario state")
)

// ComputeClient is the slice of the compute client the orchestrator needs.
type ComputeClient interface {
	Optimize(ctx context.Context, req *compute.OptimizeRequest) (*compute.OptimizeResult, error)
	EvaluatePerformance(ctx context.Context, req *compute.PerformanceRequest) (*compute.PerformanceResult, error)
	CheckHealth(ctx context.Context) bool
}

// Orchestrator coordinates job lifecycle between the stores and the
// compute service. It is safe for concurrent use.
type Orchestrator struct {
	stores   store.Store
	resolver *ownership.Resolver
	compute  ComputeClient

	// rootCtx bounds all dispatch goroutines; cancelled on Shutdown.
	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	// inflight tracks the cancel functions of running dispatches on this
	// instance, so a cancel request can abort the network call early.
	// Best effort only; the conditional update is the actual guarantee.
	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelFunc
}

// New creates an orchestrator over the given stores and compute client.
func New(stores store.Store, computeClient ComputeClient) *Orchestrator {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		stores:     stores,
		resolver:   ownership.NewResolver(stores.Configurations(), stores.Scenarios(), stores.Jobs()),
		compute:    computeClient,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		inflight:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Shutdown cancels all in-flight dispatches and waits for them to finish
// or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.rootCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartJob creates a pending job for the scenario and hands it off to a
// dispatch goroutine. It returns once the job is durably recorded; callers
// poll GetJob/GetProgress for the outcome.
func (o *Orchestrator) StartJob(ctx context.Context, scenarioID, actingUser uuid.UUID) (*models.Job, error) {
	result, scenario, err := o.resolver.ResolveScenario(ctx, scenarioID, actingUser)
	if err != nil {
		return nil, err
	}
	if result != ownership.Owned {
		return nil, ErrNotFound
	}

	cfg, err := o.stores.Configurations().Get(ctx, scenario.ConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Validated {
		return nil, fmt.Errorf("%w: configuration %s is not validated", ErrInvalidState, cfg.ConfigurationID)
	}

	job := &models.Job{
		JobID:      uuid.Must(uuid.NewV7()),
		ScenarioID: scenario.ScenarioID,
		Status:     models.JobStatusPending,
		CreatedAt:  time.Now(),
	}

	if err := o.stores.Jobs().Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	telemetry.GetMetrics().JobsStartedTotal.Add(ctx, 1)
	log.Info().
		Str("job_id", job.JobID.String()).
		Str("scenario_id", scenarioID.String()).
		Str("user_id", actingUser.String()).
		Msg("Job accepted")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.dispatch(job.JobID, scenario, cfg)
	}()

	return job, nil
}

// dispatch runs one optimization: transition to running, call the compute
// service bounded by the scenario's wall-clock budget, finalize.
func (o *Orchestrator) dispatch(jobID uuid.UUID, scenario *models.Scenario, cfg *models.Configuration) {
	budget := scenario.MaxRuntime
	if budget <= 0 {
		budget = time.Hour
	}
	ctx, cancel := context.WithTimeout(o.rootCtx, budget)
	defer cancel()

	o.registerInflight(jobID, cancel)
	defer o.deregisterInflight(jobID)

	now := time.Now()
	err := o.stores.Jobs().TransitionStatus(ctx, jobID,
		[]models.JobStatus{models.JobStatusPending},
		store.JobUpdate{
			Status:    models.JobStatusRunning,
			StartedAt: &now,
		})
	if err != nil {
		// Cancelled before dispatch got here, or the record vanished.
		log.Info().Err(err).Str("job_id", jobID.String()).Msg("Job not dispatched")
		return
	}

	result, err := o.compute.Optimize(ctx, &compute.OptimizeRequest{
		Configuration:   json.RawMessage(cfg.Payload),
		Bounds:          json.RawMessage(scenario.Bounds),
		DesignVariables: json.RawMessage(scenario.DesignVariables),
		Constraints:     json.RawMessage(scenario.Constraints),
		Objective:       scenario.Objective,
		MaxIterations:   scenario.MaxIterations,
		Tolerance:       scenario.Tolerance,
	})
	if err != nil {
		o.finalizeFailure(jobID, ctx, err)
		return
	}

	o.finalizeSuccess(jobID, result)
}

// finalizeSuccess writes the compute result and the completed status in one
// conditional update. A lost race means the job was finalized by another
// writer (typically a cancellation) and the late result is discarded.
func (o *Orchestrator) finalizeSuccess(jobID uuid.UUID, result *compute.OptimizeResult) {
	// The finalizing write must survive dispatch-context expiry.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bestSolution, err := json.Marshal(result.DesignVariables)
	if err != nil {
		bestSolution = nil
	}
	results, err := json.Marshal(result)
	if err != nil {
		results = nil
	}

	now := time.Now()
	objective := result.ObjectiveValue
	update := store.JobUpdate{
		Status:           models.JobStatusCompleted,
		CurrentIteration: &result.Iterations,
		BestObjective:    &objective,
		BestSolution:     bestSolution,
		Results:          results,
		CompletedAt:      &now,
	}

	err = o.stores.Jobs().TransitionStatus(ctx, jobID, models.NonTerminalStatuses, update)
	switch {
	case err == nil:
		telemetry.GetMetrics().JobsCompletedTotal.Add(ctx, 1)
		log.Info().
			Str("job_id", jobID.String()).
			Float64("objective", result.ObjectiveValue).
			Int("iterations", result.Iterations).
			Bool("converged", result.Converged).
			Msg("Job completed")
	case errors.Is(err, store.ErrStatusConflict):
		telemetry.GetMetrics().TransitionsDiscardedTotal.Add(ctx, 1)
		log.Info().Str("job_id", jobID.String()).Msg("Discarding late result for finalized job")
	default:
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to finalize job")
	}
}

// finalizeFailure records a failed terminal state with a human-readable
// error message. Compute errors stop here; they are never surfaced through
// the polling path.
func (o *Orchestrator) finalizeFailure(jobID uuid.UUID, dispatchCtx context.Context, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	message := cause.Error()
	if errors.Is(dispatchCtx.Err(), context.DeadlineExceeded) {
		message = fmt.Sprintf("wall-clock budget exceeded: %v", cause)
	}

	now := time.Now()
	update := store.JobUpdate{
		Status:       models.JobStatusFailed,
		ErrorMessage: &message,
		CompletedAt:  &now,
	}

	err := o.stores.Jobs().TransitionStatus(ctx, jobID, models.NonTerminalStatuses, update)
	switch {
	case err == nil:
		telemetry.GetMetrics().JobsFailedTotal.Add(ctx, 1)
		log.Warn().Str("job_id", jobID.String()).Str("error", message).Msg("Job failed")
	case errors.Is(err, store.ErrStatusConflict):
		telemetry.GetMetrics().TransitionsDiscardedTotal.Add(ctx, 1)
		log.Info().Str("job_id", jobID.String()).Msg("Discarding late failure for finalized job")
	default:
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to finalize job")
	}
}

// GetJob returns a job after an ownership check.
func (o *Orchestrator) GetJob(ctx context.Context, jobID, actingUser uuid.UUID) (*models.Job, error) {
	result, job, err := o.resolver.ResolveJob(ctx, jobID, actingUser)
	if err != nil {
		return nil, err
	}
	if result != ownership.Owned {
		return nil, ErrNotFound
	}
	return job, nil
}

// CancelJob marks the job cancelled and best-effort aborts any in-flight
// compute call on this instance. Cancelling an already-terminal job is a
// no-op success so client retries stay simple.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID, actingUser uuid.UUID) error {
	result, job, err := o.resolver.ResolveJob(ctx, jobID, actingUser)
	if err != nil {
		return err
	}
	if result != ownership.Owned {
		return ErrNotFound
	}

	if job.Status.Terminal() {
		log.Debug().
			Str("job_id", jobID.String()).
			Str("status", string(job.Status)).
			Msg("Cancel requested for terminal job, no-op")
		return nil
	}

	now := time.Now()
	message := "cancelled by user"
	err = o.stores.Jobs().TransitionStatus(ctx, jobID, models.NonTerminalStatuses, store.JobUpdate{
		Status:       models.JobStatusCancelled,
		ErrorMessage: &message,
		CompletedAt:  &now,
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// Finalized between the read and the write; idempotent
			// cancel still reports success.
			return nil
		}
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	telemetry.GetMetrics().JobsCancelledTotal.Add(ctx, 1)
	log.Info().Str("job_id", jobID.String()).Msg("Job cancelled")

	// Cooperative stop: abort the in-flight compute call without waiting
	// for acknowledgement. A late result loses the conditional update.
	o.abortInflight(jobID)

	return nil
}

// GetProgress reports the polling view of a job. Percentage is derived
// from the scenario's iteration budget, never exceeds 100, and equals 100
// only for completed jobs.
func (o *Orchestrator) GetProgress(ctx context.Context, jobID, actingUser uuid.UUID) (*models.Progress, error) {
	result, job, err := o.resolver.ResolveJob(ctx, jobID, actingUser)
	if err != nil {
		return nil, err
	}
	if result != ownership.Owned {
		return nil, ErrNotFound
	}

	scenario, err := o.stores.Scenarios().Get(ctx, job.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario: %w", err)
	}

	return &models.Progress{
		Status:           job.Status,
		CurrentIteration: job.CurrentIteration,
		MaxIterations:    scenario.MaxIterations,
		Percentage:       progressPercentage(job, scenario.MaxIterations),
		BestObjective:    job.BestObjective,
	}, nil
}

// progressPercentage computes 100 * current / max, clamped so that only a
// completed job ever reads 100.
func progressPercentage(job *models.Job, maxIterations int) float64 {
	if job.Status == models.JobStatusCompleted {
		return 100
	}
	if maxIterations <= 0 {
		return 0
	}

	pct := 100 * float64(job.CurrentIteration) / float64(maxIterations)
	if pct < 0 {
		return 0
	}
	if pct > 99.9 {
		return 99.9
	}
	return pct
}

// ValidateConfiguration runs the pre-flight performance check for an owned
// configuration and records the outcome on the record. A validated
// configuration is required before any of its scenarios can start jobs.
func (o *Orchestrator) ValidateConfiguration(ctx context.Context, configurationID, actingUser uuid.UUID) error {
	result, cfg, err := o.resolver.ResolveConfiguration(ctx, configurationID, actingUser)
	if err != nil {
		return err
	}
	if result != ownership.Owned {
		return ErrNotFound
	}

	perf, err := o.compute.EvaluatePerformance(ctx, &compute.PerformanceRequest{
		Configuration: json.RawMessage(cfg.Payload),
	})
	if err != nil {
		if errors.Is(err, compute.ErrRejected) {
			return fmt.Errorf("%w: configuration rejected by compute service", ErrInvalidState)
		}
		return fmt.Errorf("pre-flight check failed: %w", err)
	}
	if !perf.Success {
		return fmt.Errorf("%w: configuration failed pre-flight evaluation", ErrInvalidState)
	}

	if err := o.stores.Configurations().SetValidated(ctx, configurationID, true); err != nil {
		return fmt.Errorf("failed to record validation: %w", err)
	}

	log.Info().Str("configuration_id", configurationID.String()).Msg("Configuration validated")
	return nil
}

func (o *Orchestrator) registerInflight(jobID uuid.UUID, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight[jobID] = cancel
}

func (o *Orchestrator) deregisterInflight(jobID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, jobID)
}

func (o *Orchestrator) abortInflight(jobID uuid.UUID) {
	o.mu.Lock()
	cancel, ok := o.inflight[jobID]
	o.mu.Unlock()

	if ok {
		cancel()
	}
}
