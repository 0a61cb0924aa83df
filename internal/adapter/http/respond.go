package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps service errors onto HTTP statuses. Anything not in
// the taxonomy is a 500 with a generic message; the detail goes to the log
// only.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "transcription queue is full, retry later")
	case errors.Is(err, domain.ErrModelSwitching):
		writeError(w, http.StatusLocked, "model switch in progress, retry later")
	case errors.Is(err, domain.ErrSwitchInProgress):
		writeError(w, http.StatusConflict, "another model switch is already in progress")
	default:
		logger.Error.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
