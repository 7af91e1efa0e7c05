package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coilworks/optserve/internal/client"
)

// RunManifest is the YAML manifest describing a full optimization run:
// the equipment configuration plus the scenario layered on it.
type RunManifest struct {
	Configuration struct {
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Payload     map[string]any `yaml:"payload"`
	} `yaml:"configuration"`

	Scenario struct {
		Name              string         `yaml:"name"`
		Objective         string         `yaml:"objective"`
		Constraints       map[string]any `yaml:"constraints"`
		Bounds            map[string]any `yaml:"bounds"`
		DesignVariables   []any          `yaml:"designVariables"`
		MaxIterations     int            `yaml:"maxIterations"`
		MaxEvaluations    int            `yaml:"maxEvaluations"`
		Tolerance         float64        `yaml:"tolerance"`
		MaxRuntimeSeconds int64          `yaml:"maxRuntimeSeconds"`
	} `yaml:"scenario"`
}

type SubmitCmd struct {
	ClientFlags
	Manifest string `arg:"" help:"Path to the run manifest (YAML)"`
	Watch    bool   `help:"Poll progress until the job finishes" default:"false"`
}

func (s *SubmitCmd) Run(ctx context.Context, globals *Globals) error {
	data, err := os.ReadFile(s.Manifest)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest RunManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Configuration.Name == "" {
		return fmt.Errorf("manifest is missing configuration.name")
	}
	if manifest.Scenario.Name == "" || manifest.Scenario.Objective == "" {
		return fmt.Errorf("manifest is missing scenario.name or scenario.objective")
	}

	api := s.apiClient()

	payload, err := json.Marshal(manifest.Configuration.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode configuration payload: %w", err)
	}

	cfg, err := api.CreateConfiguration(ctx, &client.CreateConfigurationRequest{
		Name:        manifest.Configuration.Name,
		Description: manifest.Configuration.Description,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("failed to create configuration: %w", err)
	}
	fmt.Printf("Configuration created: %s\n", cfg.ConfigurationID)

	if err := api.ValidateConfiguration(ctx, cfg.ConfigurationID); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Println("Configuration validated")

	scReq := &client.CreateScenarioRequest{
		ConfigurationID:   cfg.ConfigurationID,
		Name:              manifest.Scenario.Name,
		Objective:         manifest.Scenario.Objective,
		MaxIterations:     manifest.Scenario.MaxIterations,
		MaxEvaluations:    manifest.Scenario.MaxEvaluations,
		Tolerance:         manifest.Scenario.Tolerance,
		MaxRuntimeSeconds: manifest.Scenario.MaxRuntimeSeconds,
	}
	if scReq.Constraints, err = marshalIfSet(manifest.Scenario.Constraints); err != nil {
		return err
	}
	if scReq.Bounds, err = marshalIfSet(manifest.Scenario.Bounds); err != nil {
		return err
	}
	if manifest.Scenario.DesignVariables != nil {
		if scReq.DesignVariables, err = json.Marshal(manifest.Scenario.DesignVariables); err != nil {
			return fmt.Errorf("failed to encode design variables: %w", err)
		}
	}

	sc, err := api.CreateScenario(ctx, scReq)
	if err != nil {
		return fmt.Errorf("failed to create scenario: %w", err)
	}
	fmt.Printf("Scenario created: %s\n", sc.ScenarioID)

	job, err := api.StartJob(ctx, sc.ScenarioID)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	fmt.Printf("Job started: %s (status %s)\n", job.JobID, job.Status)

	if s.Watch {
		return watchJob(ctx, api, job.JobID, 2*time.Second)
	}
	return nil
}

func marshalIfSet(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest section: %w", err)
	}
	return data, nil
}
