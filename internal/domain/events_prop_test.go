package domain

import (
	"testing"
	"testing/quick"
)

// Property: checkpoint percentages are monotonic, bounded and end at 100.
func TestProperty_CheckpointPercentages(t *testing.T) {
	property := func(total uint8, completed, failed uint8) bool {
		events := []ProgressEvent{
			NewStartedEvent("e", int(total)),
			NewProcessingEvent(int(total)),
			NewResponsesGeneratedEvent(int(completed), int(failed)),
			NewCompleteEvent(CompletePayload{ExperimentID: "e", CompletedResponses: int(completed), FailedResponses: int(failed)}),
		}

		prev := 0
		for i, ev := range events {
			p := ev.Progress
			if p.Current != i+1 || p.Total != ProgressCheckpoints {
				t.Logf("event %d has progress %+v", i, p)
				return false
			}
			if p.Percentage <= prev || p.Percentage > 100 {
				t.Logf("event %d percentage %d after %d", i, p.Percentage, prev)
				return false
			}
			prev = p.Percentage
		}
		return prev == 100 && events[3].IsTerminal()
	}

	if err := quick.Check(property, nil); err != nil {
		t.Errorf("Property violation: %v", err)
	}
}

// Property: every payload-bearing constructor pairs its type with its payload.
func TestProperty_PayloadMatchesType(t *testing.T) {
	property := func(id string, n, failed uint8) bool {
		for _, ev := range []ProgressEvent{
			NewStartedEvent(id, int(n)),
			NewResponsesGeneratedEvent(int(n), int(failed)),
			NewCompleteEvent(CompletePayload{ExperimentID: id}),
			NewErrorEvent(id, errorString(id)),
		} {
			if ev.Payload == nil || ev.Payload.progressType() != ev.Type {
				t.Logf("event %q has payload %T", ev.Type, ev.Payload)
				return false
			}
		}
		return NewProcessingEvent(int(n)).Payload == nil
	}

	if err := quick.Check(property, nil); err != nil {
		t.Errorf("Property violation: %v", err)
	}
}
