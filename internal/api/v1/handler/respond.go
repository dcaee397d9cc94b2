package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"app/internal/service"
)

// errorBody is the JSON error envelope for non-streaming failures.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

// writeServiceError maps the service sentinels onto their HTTP status and
// stable error code. Unrecognized errors become a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrPaymentRequired):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits")
	case errors.Is(err, service.ErrPersonaNotFound):
		writeError(w, http.StatusNotFound, "persona_not_found")
	case errors.Is(err, service.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation_not_found")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found")
	case errors.Is(err, service.ErrEvaluationNotFound):
		writeError(w, http.StatusNotFound, "evaluation_not_found")
	case errors.Is(err, service.ErrDuplicateMessage):
		writeError(w, http.StatusConflict, "duplicate_message")
	case errors.Is(err, service.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, "invalid_plan")
	case errors.Is(err, service.ErrGenerationFailed):
		writeError(w, http.StatusServiceUnavailable, "generation_failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
