// Package client is the HTTP client for the orchestration API, used by the
// operator CLI and by integration tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Token     string
	CacheDir  string
	Timeout   time.Duration
}

// Client calls the orchestration API with bearer-token auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates an API client with the given configuration.
func New(cfg Config) *Client {
	hc := NewCachingHTTPClient(cfg.CacheDir)
	if cfg.Timeout != 0 {
		hc.Timeout = cfg.Timeout
	} else {
		hc.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    cfg.ServerURL,
		token:      cfg.Token,
		httpClient: hc,
	}
}

// Configuration mirrors the API representation of a configuration.
type Configuration struct {
	ConfigurationID string    `json:"configuration_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Validated       bool      `json:"validated"`
	CreatedAt       time.Time `json:"created_at"`
}

// Scenario mirrors the API representation of a scenario.
type Scenario struct {
	ScenarioID      string    `json:"scenario_id"`
	ConfigurationID string    `json:"configuration_id"`
	Name            string    `json:"name"`
	Objective       string    `json:"objective"`
	MaxIterations   int       `json:"max_iterations"`
	CreatedAt       time.Time `json:"created_at"`
}

// Job mirrors the API representation of a job.
type Job struct {
	JobID            string          `json:"job_id"`
	ScenarioID       string          `json:"scenario_id"`
	Status           string          `json:"status"`
	CurrentIteration int             `json:"current_iteration"`
	BestObjective    *float64        `json:"best_objective"`
	BestSolution     json.RawMessage `json:"best_solution"`
	Results          json.RawMessage `json:"results"`
	ErrorMessage     string          `json:"error_message"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
}

// Progress mirrors the API representation of job progress.
type Progress struct {
	Status           string   `json:"status"`
	CurrentIteration int      `json:"current_iteration"`
	MaxIterations    int      `json:"max_iterations"`
	Percentage       float64  `json:"percentage"`
	BestObjective    *float64 `json:"best_objective"`
}

// CreateConfigurationRequest is the payload for CreateConfiguration.
type CreateConfigurationRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
}

// CreateScenarioRequest is the payload for CreateScenario.
type CreateScenarioRequest struct {
	ConfigurationID   string          `json:"configuration_id"`
	Name              string          `json:"name"`
	Objective         string          `json:"objective"`
	Constraints       json.RawMessage `json:"constraints,omitempty"`
	Bounds            json.RawMessage `json:"bounds,omitempty"`
	DesignVariables   json.RawMessage `json:"design_variables,omitempty"`
	MaxIterations     int             `json:"max_iterations,omitempty"`
	MaxEvaluations    int             `json:"max_evaluations,omitempty"`
	Tolerance         float64         `json:"tolerance,omitempty"`
	MaxRuntimeSeconds int64           `json:"max_runtime_seconds,omitempty"`
}

func (c *Client) CreateConfiguration(ctx context.Context, req *CreateConfigurationRequest) (*Configuration, error) {
	var cfg Configuration
	if err := c.do(ctx, http.MethodPost, "/api/v1/configurations", req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) ValidateConfiguration(ctx context.Context, configurationID string) error {
	path := fmt.Sprintf("/api/v1/configurations/%s/validate", configurationID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) CreateScenario(ctx context.Context, req *CreateScenarioRequest) (*Scenario, error) {
	var sc Scenario
	if err := c.do(ctx, http.MethodPost, "/api/v1/scenarios", req, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (c *Client) StartJob(ctx context.Context, scenarioID string) (*Job, error) {
	var job Job
	path := fmt.Sprintf("/api/v1/scenarios/%s/jobs", scenarioID)
	if err := c.do(ctx, http.MethodPost, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", nil, nil)
}

func (c *Client) GetProgress(ctx context.Context, jobID string) (*Progress, error) {
	var progress Progress
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID+"/progress", nil, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
