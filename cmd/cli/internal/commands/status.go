package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/coilworks/optserve/internal/client"
)

type StatusCmd struct {
	ClientFlags
	JobID string `arg:"" help:"Job identifier"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	job, err := s.apiClient().GetJob(ctx, s.JobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job:       %s\n", job.JobID)
	fmt.Printf("Scenario:  %s\n", job.ScenarioID)
	fmt.Printf("Status:    %s\n", job.Status)
	fmt.Printf("Iteration: %d\n", job.CurrentIteration)
	if job.BestObjective != nil {
		fmt.Printf("Objective: %g\n", *job.BestObjective)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("Error:     %s\n", job.ErrorMessage)
	}
	fmt.Printf("Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("Started:   %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Finished:  %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	return nil
}

type CancelCmd struct {
	ClientFlags
	JobID string `arg:"" help:"Job identifier"`
}

func (c *CancelCmd) Run(ctx context.Context, globals *Globals) error {
	if err := c.apiClient().CancelJob(ctx, c.JobID); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for job %s\n", c.JobID)
	return nil
}

type WatchCmd struct {
	ClientFlags
	JobID    string        `arg:"" help:"Job identifier"`
	Interval time.Duration `help:"Polling interval" default:"2s"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	return watchJob(ctx, w.apiClient(), w.JobID, w.Interval)
}

// watchJob polls progress until the job reaches a terminal status.
func watchJob(ctx context.Context, api *client.Client, jobID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		progress, err := api.GetProgress(ctx, jobID)
		if err != nil {
			return err
		}

		line := fmt.Sprintf("%s %5.1f%% (%d/%d)", progress.Status, progress.Percentage,
			progress.CurrentIteration, progress.MaxIterations)
		if progress.BestObjective != nil {
			line += fmt.Sprintf(" best=%g", *progress.BestObjective)
		}
		fmt.Println(line)

		switch progress.Status {
		case "completed", "failed", "cancelled":
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
