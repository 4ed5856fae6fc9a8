// Package worker wires experiment workflows and activities into a Temporal
// worker and submits experiments to it.
package worker

import (
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-sweep/internal/activity"
	"github.com/ahrav/go-sweep/internal/workflow"
)

// RegisterAll registers the experiment workflow and its activities. Call it
// once, before the worker starts.
func RegisterAll(w sdkworker.Registry, acts *activity.Activities) {
	w.RegisterWorkflow(workflow.ExperimentWorkflow)

	w.RegisterActivity(acts.MarkProcessing)
	w.RegisterActivity(acts.GenerateResponse)
	w.RegisterActivity(acts.ReportProgress)
	w.RegisterActivity(acts.FinalizeExperiment)
	w.RegisterActivity(acts.MarkFailed)
}
