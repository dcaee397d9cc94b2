package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type PitchHandler struct {
	pitchService service.PitchService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewPitchHandler(pitchService service.PitchService, v *validator.Validate, logger zerolog.Logger) *PitchHandler {
	return &PitchHandler{pitchService: pitchService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 pitch evaluation routes.
func (h *PitchHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /pitch/evaluate", authMw(http.HandlerFunc(h.evaluate)))
	mux.Handle("GET /pitch/history", authMw(http.HandlerFunc(h.history)))
	mux.Handle("GET /pitch/{id}", authMw(http.HandlerFunc(h.get)))
}

func (h *PitchHandler) evaluate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dto.PitchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed")
		return
	}

	evaluation, err := h.pitchService.Evaluate(r.Context(), userID, req.PersonaID, req.PitchText)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pitchResponse(evaluation))
}

func (h *PitchHandler) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	evaluations, err := h.pitchService.History(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]dto.PitchResponseDTO, len(evaluations))
	for i, e := range evaluations {
		resp[i] = pitchResponse(&e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PitchHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	evaluation, err := h.pitchService.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pitchResponse(evaluation))
}

func pitchResponse(e *model.PitchEvaluation) dto.PitchResponseDTO {
	return dto.PitchResponseDTO{
		ID:         e.ID,
		PersonaID:  e.PersonaID,
		PitchText:  e.PitchText,
		Evaluation: e.Evaluation,
		CreatedAt:  e.CreatedAt,
	}
}
