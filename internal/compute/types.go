package compute

import "encoding/json"

// OptimizeRequest is the payload sent to POST /optimize on the compute
// service. The configuration snapshot and bounds are opaque JSON owned by
// the equipment model; the client never inspects them.
type OptimizeRequest struct {
	Configuration   json.RawMessage `json:"configuration"`
	InitialGuess    []float64       `json:"initial_guess,omitempty"`
	Bounds          json.RawMessage `json:"bounds,omitempty"`
	DesignVariables json.RawMessage `json:"design_variables,omitempty"`
	Constraints     json.RawMessage `json:"constraints,omitempty"`
	Objective       string          `json:"objective"`
	MaxIterations   int             `json:"max_iterations"`
	Tolerance       float64         `json:"tolerance"`
}

// OptimizeResult is the success response from POST /optimize.
type OptimizeResult struct {
	Success            bool               `json:"success"`
	DesignVariables    []float64          `json:"design_variables"`
	Metrics            map[string]float64 `json:"metrics"`
	ObjectiveValue     float64            `json:"objective_value"`
	Iterations         int                `json:"iterations"`
	Converged          bool               `json:"converged"`
	ComputeTimeSeconds float64            `json:"compute_time_seconds"`
}

// PerformanceRequest is the payload for POST /api/v1/performance, which
// evaluates the performance metrics of a single design point without
// optimizing. Used for pre-flight configuration checks.
type PerformanceRequest struct {
	Configuration   json.RawMessage `json:"configuration"`
	DesignVariables []float64       `json:"design_variables,omitempty"`
}

// PerformanceResult is the response from POST /api/v1/performance.
type PerformanceResult struct {
	Success bool               `json:"success"`
	Metrics map[string]float64 `json:"metrics"`
}
