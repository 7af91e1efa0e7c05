package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coilworks/optserve/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrScenarioNotFound      = errors.New("scenario not found")
	ErrJobNotFound           = errors.New("job not found")
	ErrAlreadyExists         = errors.New("record already exists")

	// ErrStatusConflict is returned by conditional job updates when the
	// persisted status no longer matches the expected set. The caller's
	// transition lost the race and must be discarded.
	ErrStatusConflict = errors.New("job status conflict")
)

// UserStore provides keyed access to user records.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// ConfigurationStore provides keyed access to configuration records.
type ConfigurationStore interface {
	Create(ctx context.Context, cfg *models.Configuration) error
	Get(ctx context.Context, configurationID uuid.UUID) (*models.Configuration, error)

	// SetValidated flips the validated flag after a successful
	// pre-flight check.
	SetValidated(ctx context.Context, configurationID uuid.UUID, validated bool) error
}

// ScenarioStore provides keyed access to scenario records.
type ScenarioStore interface {
	Create(ctx context.Context, sc *models.Scenario) error
	Get(ctx context.Context, scenarioID uuid.UUID) (*models.Scenario, error)
}

// JobUpdate carries the field set written together with a status
// transition. Fields are applied atomically with the status change.
type JobUpdate struct {
	Status           models.JobStatus
	CurrentIteration *int
	BestObjective    *float64
	BestSolution     []byte
	Results          []byte
	ErrorMessage     *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// JobStore provides job persistence with conditional status transitions.
//
// TransitionStatus is the compare-and-set primitive the orchestrator's
// first-terminal-transition-wins rule is built on: the update commits only
// when the persisted status is still in the expected set at write time.
// It must be enforced by the backing store, not in process memory, so the
// guarantee holds across multiple orchestrator instances.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)

	// TransitionStatus applies update iff the job's current status is in
	// expected. Returns ErrStatusConflict when the predicate fails and
	// ErrJobNotFound when no such job exists.
	TransitionStatus(ctx context.Context, jobID uuid.UUID, expected []models.JobStatus, update JobUpdate) error

	// RecordProgress advances the iteration counter and best objective of
	// a running job. Writes are accepted only while the job is running
	// and only when the iteration does not regress.
	RecordProgress(ctx context.Context, jobID uuid.UUID, iteration int, bestObjective *float64) error
}

// Store bundles the entity stores behind one construction point so the
// server wiring can switch between backends.
type Store interface {
	Users() UserStore
	Configurations() ConfigurationStore
	Scenarios() ScenarioStore
	Jobs() JobStore
}
