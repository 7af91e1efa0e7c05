package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an optimization job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is one of the three end states.
// Once a job reaches a terminal status no further mutation is permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the value is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses is the set of statuses a terminal transition may
// start from. Used as the expected-status predicate for conditional
// updates.
var NonTerminalStatuses = []JobStatus{JobStatusPending, JobStatusRunning}

// Job is a single optimization run of a scenario. At most one outstanding
// request to the compute service exists per job.
type Job struct {
	JobID      uuid.UUID // UUIDv7
	ScenarioID uuid.UUID // FK to scenarios
	Status     JobStatus

	CurrentIteration int
	BestObjective    *float64
	BestSolution     []byte // JSON snapshot of the best design variables
	Results          []byte // free-form results blob from the compute service
	ErrorMessage     string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Progress is the polling view of a running job.
type Progress struct {
	Status           JobStatus
	CurrentIteration int
	MaxIterations    int
	Percentage       float64
	BestObjective    *float64
}
