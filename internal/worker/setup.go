package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-sweep/internal/activity"
	"github.com/ahrav/go-sweep/internal/config"
	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/workflow"
)

// workflowIDPrefix namespaces experiment workflow ids.
const workflowIDPrefix = "experiment-"

// Dial connects to the Temporal frontend described by cfg, logging through
// logger.
func Dial(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// Run polls taskQueue with the experiment workflow and acts registered
// until ctx is done.
func Run(ctx context.Context, c client.Client, taskQueue string, acts *activity.Activities) error {
	w := sdkworker.New(c, taskQueue, sdkworker.Options{})
	RegisterAll(w, acts)

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// WorkflowID returns the workflow id used for experimentID.
func WorkflowID(experimentID string) string {
	return workflowIDPrefix + experimentID
}

// Submit starts the workflow for a prepared experiment.
func Submit(
	ctx context.Context,
	c client.Client,
	taskQueue string,
	exp *domain.Experiment,
	tasks []domain.GenerationTask,
	maxConcurrency int,
) (client.WorkflowRun, error) {
	in := workflow.ExperimentInput{
		ExperimentID:   exp.ID,
		Prompt:         exp.Prompt,
		Tasks:          tasks,
		MaxConcurrency: maxConcurrency,
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(exp.ID),
		TaskQueue: taskQueue,
	}, workflow.ExperimentWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow for experiment %s: %w", exp.ID, err)
	}
	return run, nil
}
