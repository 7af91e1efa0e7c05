package models

import (
	"time"

	"github.com/google/uuid"
)

// Scenario describes an optimization intent layered on a configuration.
// The configuration reference is fixed at creation time. A scenario has no
// owner column of its own; ownership is always derived through the
// configuration chain.
type Scenario struct {
	ScenarioID      uuid.UUID // UUIDv7
	ConfigurationID uuid.UUID // FK to configurations, immutable
	Name            string

	// Objective names what the compute service should minimize or
	// maximize (e.g. "minimize_pressure_drop").
	Objective string

	// Constraints, bounds and the design variable list are opaque JSON
	// blobs passed through to the compute service.
	Constraints     []byte
	Bounds          []byte
	DesignVariables []byte

	// Numeric tuning parameters.
	MaxIterations  int
	MaxEvaluations int
	Tolerance      float64
	MaxRuntime     time.Duration // wall-clock budget for a single run

	CreatedAt time.Time
	UpdatedAt time.Time
}
