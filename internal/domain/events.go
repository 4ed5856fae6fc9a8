package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// ProgressType identifies a progress checkpoint. Using typed constants
// enables exhaustive switches in transports.
type ProgressType string

const (
	ProgressStarted            ProgressType = "started"
	ProgressProcessing         ProgressType = "processing"
	ProgressResponsesGenerated ProgressType = "responses_generated"
	ProgressComplete           ProgressType = "complete"
	ProgressError              ProgressType = "error"
)

// ProgressCheckpoints is the number of ordered checkpoints per sweep.
const ProgressCheckpoints = 4

// Progress is the position of an event within the checkpoint sequence.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

func checkpoint(current int) Progress {
	return Progress{
		Current:    current,
		Total:      ProgressCheckpoints,
		Percentage: int(math.Round(float64(current) / ProgressCheckpoints * 100)),
	}
}

// ProgressPayload is the typed side channel of a ProgressEvent. Only the
// payload types in this package implement it.
type ProgressPayload interface {
	progressType() ProgressType
}

// StartedPayload accompanies the started checkpoint.
type StartedPayload struct {
	ExperimentID      string `json:"experimentId"`
	TotalCombinations int    `json:"totalCombinations"`
}

// ResponsesGeneratedPayload accompanies the responses_generated checkpoint.
type ResponsesGeneratedPayload struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// CompletePayload accompanies the complete checkpoint.
type CompletePayload struct {
	ExperimentID       string    `json:"experimentId"`
	CompletedResponses int       `json:"completedResponses"`
	FailedResponses    int       `json:"failedResponses"`
	BestScore          *float64  `json:"bestScore,omitempty"`
	AverageScore       float64   `json:"averageScore"`
	BestResponse       *Response `json:"bestResponse,omitempty"`
}

// ErrorPayload accompanies the out-of-band error event.
type ErrorPayload struct {
	ExperimentID string `json:"experimentId,omitempty"`
	Message      string `json:"message"`
}

func (StartedPayload) progressType() ProgressType            { return ProgressStarted }
func (ResponsesGeneratedPayload) progressType() ProgressType { return ProgressResponsesGenerated }
func (CompletePayload) progressType() ProgressType           { return ProgressComplete }
func (ErrorPayload) progressType() ProgressType              { return ProgressError }

// ProgressEvent reports one orchestration checkpoint. Payload, when present,
// always matches Type.
type ProgressEvent struct {
	Type     ProgressType
	Message  string
	Progress Progress
	Payload  ProgressPayload
}

// ProgressFunc receives progress events in checkpoint order.
type ProgressFunc func(ProgressEvent)

// Emit calls f when it is set.
func (f ProgressFunc) Emit(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// NewStartedEvent is checkpoint 1.
func NewStartedEvent(experimentID string, total int) ProgressEvent {
	return ProgressEvent{
		Type:     ProgressStarted,
		Message:  fmt.Sprintf("Experiment created with %d parameter combinations", total),
		Progress: checkpoint(1),
		Payload:  StartedPayload{ExperimentID: experimentID, TotalCombinations: total},
	}
}

// NewProcessingEvent is checkpoint 2.
func NewProcessingEvent(total int) ProgressEvent {
	return ProgressEvent{
		Type:     ProgressProcessing,
		Message:  fmt.Sprintf("Processing %d parameter combinations...", total),
		Progress: checkpoint(2),
	}
}

// NewResponsesGeneratedEvent is checkpoint 3.
func NewResponsesGeneratedEvent(completed, failed int) ProgressEvent {
	return ProgressEvent{
		Type:     ProgressResponsesGenerated,
		Message:  fmt.Sprintf("Generated %d responses (%d failed)", completed, failed),
		Progress: checkpoint(3),
		Payload:  ResponsesGeneratedPayload{Completed: completed, Failed: failed},
	}
}

// NewCompleteEvent is checkpoint 4.
func NewCompleteEvent(p CompletePayload) ProgressEvent {
	best := "N/A"
	if p.BestScore != nil {
		best = fmt.Sprintf("%.3f", *p.BestScore)
	}
	return ProgressEvent{
		Type: ProgressComplete,
		Message: fmt.Sprintf("Experiment complete! %d responses, %d failed. Best score: %s",
			p.CompletedResponses, p.FailedResponses, best),
		Progress: checkpoint(4),
		Payload:  p,
	}
}

// NewErrorEvent reports a fatal sweep failure. Its progress is zeroed.
func NewErrorEvent(experimentID string, err error) ProgressEvent {
	return ProgressEvent{
		Type:    ProgressError,
		Message: "Error: " + err.Error(),
		Payload: ErrorPayload{ExperimentID: experimentID, Message: err.Error()},
	}
}

// IsTerminal reports whether no further events follow this one.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == ProgressComplete || e.Type == ProgressError
}

type progressWire struct {
	Type     ProgressType    `json:"type"`
	Message  string          `json:"message"`
	Progress Progress        `json:"progress"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the payload under "data".
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	w := progressWire{Type: e.Type, Message: e.Message, Progress: e.Progress}
	if e.Payload != nil {
		if e.Payload.progressType() != e.Type {
			return nil, fmt.Errorf("progress payload %T does not match event type %q", e.Payload, e.Type)
		}
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal progress payload: %w", err)
		}
		w.Data = data
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes "data" into the payload type selected by "type".
func (e *ProgressEvent) UnmarshalJSON(b []byte) error {
	var w progressWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = ProgressEvent{Type: w.Type, Message: w.Message, Progress: w.Progress}
	if len(w.Data) == 0 || string(w.Data) == "null" {
		return nil
	}

	var err error
	switch w.Type {
	case ProgressStarted:
		var p StartedPayload
		err = json.Unmarshal(w.Data, &p)
		e.Payload = p
	case ProgressResponsesGenerated:
		var p ResponsesGeneratedPayload
		err = json.Unmarshal(w.Data, &p)
		e.Payload = p
	case ProgressComplete:
		var p CompletePayload
		err = json.Unmarshal(w.Data, &p)
		e.Payload = p
	case ProgressError:
		var p ErrorPayload
		err = json.Unmarshal(w.Data, &p)
		e.Payload = p
	default:
		return fmt.Errorf("progress type %q carries no payload", w.Type)
	}
	if err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", w.Type, err)
	}
	return nil
}
