package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ahrav/go-sweep/internal/domain"
)

// eventBuffer holds every event one sweep can emit, so the sweep never
// blocks on a departed client.
const eventBuffer = domain.ProgressCheckpoints + 1

// startSweep runs a prepared experiment in the background and returns its progress
// events. The channel is closed after the terminal event. Error events carry
// a client-safe message.
func (s *Server) startSweep(
	ctx context.Context,
	exp *domain.Experiment,
	tasks []domain.GenerationTask,
) <-chan domain.ProgressEvent {
	events := make(chan domain.ProgressEvent, eventBuffer)
	events <- domain.NewStartedEvent(exp.ID, len(tasks))

	s.sweeps.Add(1)
	go func() {
		defer s.sweeps.Done()
		defer close(events)

		_, err := s.svc.Execute(ctx, exp, tasks, func(ev domain.ProgressEvent) {
			if ev.Type == domain.ProgressError {
				return
			}
			events <- ev
		})
		if err != nil {
			_, msg := publicError(err)
			s.logger.Error("experiment stream ended with error",
				"experiment_id", exp.ID,
				"error", err)
			events <- domain.NewErrorEvent(exp.ID, errors.New(msg))
		}
	}()
	return events
}

// writeEvent writes ev as a single SSE data frame.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
