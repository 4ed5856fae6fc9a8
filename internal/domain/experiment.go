package domain

import (
	"fmt"
	"math"
	"time"
)

// Prompt and sweep limits accepted by CreateExperimentRequest.
const (
	MaxPromptLength    = 500
	MaxParameterValues = 5
)

// ParameterRanges lists the sampling values to sweep. Order is preserved and
// determines task order: temperatures outer, top-p inner.
type ParameterRanges struct {
	Temperatures []float64 `json:"temperatures" validate:"required,min=1,max=5,dive,min=0,max=2"`
	TopP         []float64 `json:"topP"         validate:"required,min=1,max=5,dive,min=0,max=1"`
}

// Combinations returns the number of tasks the ranges expand to.
func (r ParameterRanges) Combinations() int {
	return len(r.Temperatures) * len(r.TopP)
}

// Clone returns a deep copy so stored ranges never alias caller slices.
func (r ParameterRanges) Clone() ParameterRanges {
	return ParameterRanges{
		Temperatures: append([]float64(nil), r.Temperatures...),
		TopP:         append([]float64(nil), r.TopP...),
	}
}

// CreateExperimentRequest is the input accepted when starting a sweep.
type CreateExperimentRequest struct {
	Prompt     string          `json:"prompt"          validate:"required,min=1,max=500"`
	Parameters ParameterRanges `json:"parameterRanges" validate:"required"`
	// Model overrides the configured default model when set.
	Model string `json:"model,omitempty"`
}

// Validate checks prompt length and parameter bounds. The combination cap is
// configuration dependent and enforced by the generation package.
func (r *CreateExperimentRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationFailure(err)
	}
	for _, v := range r.Parameters.Temperatures {
		if math.IsNaN(v) {
			return NewValidationError("parameterRanges.temperatures", "parameterRanges.temperatures must be numbers")
		}
	}
	for _, v := range r.Parameters.TopP {
		if math.IsNaN(v) {
			return NewValidationError("parameterRanges.topP", "parameterRanges.topP must be numbers")
		}
	}
	return nil
}

// ExperimentStatus tracks an experiment through its lifecycle.
type ExperimentStatus string

const (
	StatusPending    ExperimentStatus = "pending"
	StatusProcessing ExperimentStatus = "processing"
	StatusCompleted  ExperimentStatus = "completed"
	StatusFailed     ExperimentStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExperimentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal step.
// A pending experiment may fail directly when it never reached processing.
func (s ExperimentStatus) CanTransitionTo(next ExperimentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ScoreDistribution summarizes overall scores of successful responses.
type ScoreDistribution struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stdDev"`
}

// ExperimentResults is the summary persisted when an experiment completes.
type ExperimentResults struct {
	CompletedResponses int    `json:"completedResponses"`
	FailedResponses    int    `json:"failedResponses"`
	BestResponseID     string `json:"bestResponseId,omitempty"`
	// BestScore is nil when no response succeeded.
	BestScore         *float64          `json:"bestScore,omitempty"`
	AverageScore      float64           `json:"averageScore"`
	ScoreDistribution ScoreDistribution `json:"scoreDistribution"`
}

// Experiment is one sweep over a prompt and its parameter ranges.
// It is created pending and mutated exactly twice through ExperimentPatch.
type Experiment struct {
	ID         string           `json:"id"`
	Prompt     string           `json:"prompt"`
	Parameters ParameterRanges  `json:"parameterRanges"`
	Model      string           `json:"model"`
	Status     ExperimentStatus `json:"status"`

	TotalResponses     int                `json:"totalResponses"`
	CompletedResponses int                `json:"completedResponses"`
	FailedResponses    int                `json:"failedResponses"`
	BestResponseID     string             `json:"bestResponseId,omitempty"`
	BestScore          *float64           `json:"bestScore,omitempty"`
	AverageScore       float64            `json:"averageScore"`
	ScoreDistribution  *ScoreDistribution `json:"scoreDistribution,omitempty"`
	Error              string             `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewExperiment builds a pending experiment for the request. ID is assigned
// by the store.
func NewExperiment(req CreateExperimentRequest, model string, now time.Time) *Experiment {
	return &Experiment{
		Prompt:         req.Prompt,
		Parameters:     req.Parameters.Clone(),
		Model:          model,
		Status:         StatusPending,
		TotalResponses: req.Parameters.Combinations(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a copy that shares no mutable state with e.
func (e *Experiment) Clone() *Experiment {
	c := *e
	c.Parameters = e.Parameters.Clone()
	if e.BestScore != nil {
		v := *e.BestScore
		c.BestScore = &v
	}
	if e.ScoreDistribution != nil {
		d := *e.ScoreDistribution
		c.ScoreDistribution = &d
	}
	return &c
}

// ExperimentPatch is one of the two permitted experiment mutations:
// entering processing, or reaching a terminal state.
type ExperimentPatch struct {
	Status ExperimentStatus `json:"status"`
	// Results must be set when Status is completed.
	Results *ExperimentResults `json:"results,omitempty"`
	// Error is recorded when Status is failed.
	Error string `json:"error,omitempty"`
}

// Processing returns the patch moving an experiment into processing.
func Processing() ExperimentPatch { return ExperimentPatch{Status: StatusProcessing} }

// Completed returns the patch recording results.
func Completed(r ExperimentResults) ExperimentPatch {
	return ExperimentPatch{Status: StatusCompleted, Results: &r}
}

// Failed returns the patch recording a fatal error.
func Failed(msg string) ExperimentPatch {
	return ExperimentPatch{Status: StatusFailed, Error: msg}
}

// Apply mutates e according to the patch, refusing illegal transitions.
func (p ExperimentPatch) Apply(e *Experiment, now time.Time) error {
	if !e.Status.CanTransitionTo(p.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, p.Status)
	}

	switch p.Status {
	case StatusCompleted:
		if p.Results == nil {
			return fmt.Errorf("%w: completion without results", ErrInvalidTransition)
		}
		r := p.Results
		e.CompletedResponses = r.CompletedResponses
		e.FailedResponses = r.FailedResponses
		e.BestResponseID = r.BestResponseID
		e.BestScore = nil
		if r.BestScore != nil {
			v := *r.BestScore
			e.BestScore = &v
		}
		e.AverageScore = r.AverageScore
		dist := r.ScoreDistribution
		e.ScoreDistribution = &dist
	case StatusFailed:
		e.Error = p.Error
	}

	e.Status = p.Status
	e.UpdatedAt = now
	return nil
}

// ExperimentDetails is an experiment with every response it produced.
// BestResponse is nil when no response succeeded.
type ExperimentDetails struct {
	Experiment   *Experiment `json:"experiment"`
	Responses    []Response  `json:"responses"`
	BestResponse *Response   `json:"bestResponse"`
}
