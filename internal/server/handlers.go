package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/export"
)

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	LLMProvider string `json:"llmProvider"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// handleCreate creates the experiment and streams the sweep's progress as
// server-sent events. The sweep keeps running if the client goes away.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateExperimentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err := dec.Decode(&req); err != nil {
		s.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.New("streaming not supported"))
		return
	}

	// Rejections happen before the stream opens so they surface as 400s.
	ctx := context.WithoutCancel(r.Context())
	exp, tasks, err := s.svc.Prepare(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events := s.startSweep(ctx, exp, tasks)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, flusher, ev); err != nil {
				s.logger.Debug("progress stream write failed", "error", err)
				return
			}
		case <-r.Context().Done():
			s.logger.Info("client disconnected; sweep continues in background")
			return
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.badRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	page, err := s.svc.List(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Metrics(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.svc.Export(r.Context(), r.PathValue("id"), format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	if format == export.FormatCSV {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Experiment %s deleted successfully", id)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
	defer cancel()

	provider := "connected"
	if err := s.client.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "provider ping failed", "error", err)
		provider = "error"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		LLMProvider: provider,
	})
}
