package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ahrav/go-sweep/internal/domain"
)

// internalErrorMessage replaces the detail of unexpected failures.
const internalErrorMessage = "Something went wrong. Please try again later."

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// publicError maps err to a status and a message safe to show clients.
func publicError(err error) (int, string) {
	var vErr *domain.ValidationError
	var nfErr *domain.NotFoundError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Message
	case errors.As(err, &nfErr):
		return http.StatusNotFound, nfErr.Error()
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := publicError(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected",
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	writeJSON(w, status, errorBody{StatusCode: status, Message: msg, Error: http.StatusText(status)})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.logger.Debug("bad request", "message", msg)
	writeJSON(w, http.StatusBadRequest, errorBody{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
		Error:      http.StatusText(http.StatusBadRequest),
	})
}
