package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tcmdiag/internal/diagnosis"
	"tcmdiag/internal/observability"
)

// statusClientClosedRequest is the non-standard code nginx uses when the
// client went away before the response.
const statusClientClosedRequest = 499

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Stage   diagnosis.StageID      `json:"stage,omitempty"`
	Missing []string               `json:"missing,omitempty"`
	Invalid []diagnosis.FieldIssue `json:"invalid,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := observability.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, &diagnosis.ValidationError{Reason: msg})
}

func classify(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}
	var verr *diagnosis.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Code = "invalid_argument"
		body.Stage = verr.Stage
		body.Missing = verr.Missing
		body.Invalid = verr.Invalid
		return http.StatusBadRequest, body
	case errors.Is(err, diagnosis.ErrNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, diagnosis.ErrSessionClosed):
		body.Code = "session_closed"
		return http.StatusConflict, body
	case errors.Is(err, diagnosis.ErrConcurrentModification):
		body.Code = "conflict"
		return http.StatusConflict, body
	case errors.Is(err, diagnosis.ErrAIUnavailable):
		body.Code = "ai_unavailable"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Code = "deadline_exceeded"
		return http.StatusGatewayTimeout, body
	case errors.Is(err, context.Canceled):
		body.Code = "canceled"
		return statusClientClosedRequest, body
	case errors.Is(err, diagnosis.ErrPersistence):
		body.Code = "persistence"
		body.Message = "session could not be saved"
		return http.StatusInternalServerError, body
	default:
		body.Code = "internal"
		body.Message = "internal error"
		return http.StatusInternalServerError, body
	}
}
