// Package workflow runs experiments as Temporal workflows.
//
// ExperimentWorkflow drives an experiment that was already created in the
// pending state: it marks it processing, fans the generation tasks out as
// activities with a bounded number in flight, waits for every task to
// settle and then aggregates. Any activity failure that survives its retry
// policy marks the experiment failed.
//
// Workflow code must stay deterministic. Storage, provider calls and clock
// reads happen in activities.
package workflow
