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

type PersonaHandler struct {
	personaService service.PersonaService
	userService    service.UserService
	validate       *validator.Validate
	logger         zerolog.Logger
}

func NewPersonaHandler(personaService service.PersonaService, userService service.UserService, v *validator.Validate, logger zerolog.Logger) *PersonaHandler {
	return &PersonaHandler{personaService: personaService, userService: userService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 persona routes. Create and update are admin-only.
func (h *PersonaHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /personas", authMw(http.HandlerFunc(h.listPersonas)))
	mux.Handle("GET /personas/{id}", authMw(http.HandlerFunc(h.getPersona)))
	mux.Handle("POST /personas", authMw(http.HandlerFunc(h.createPersona)))
	mux.Handle("PATCH /personas/{id}", authMw(http.HandlerFunc(h.updatePersona)))
}

// requireUser loads the authenticated user, or writes the failure and
// returns nil.
func (h *PersonaHandler) requireUser(w http.ResponseWriter, r *http.Request) *model.User {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	user, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return nil
	}
	return user
}

func (h *PersonaHandler) listPersonas(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}

	personas, err := h.personaService.List(r.Context(), user.Plan)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]dto.PersonaResponseDTO, len(personas))
	for i, p := range personas {
		resp[i] = personaResponse(&p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PersonaHandler) getPersona(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}

	persona, err := h.personaService.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.personaService.Authorize(r.Context(), user.Plan, persona.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, personaResponse(persona))
}

func (h *PersonaHandler) createPersona(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	if !user.IsAdmin {
		writeError(w, http.StatusForbidden, "admin_required")
		return
	}

	var req dto.PersonaCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed")
		return
	}

	persona, err := h.personaService.Create(r.Context(), &model.Persona{
		Name:           req.Name,
		AvatarURL:      req.AvatarURL,
		PromptTemplate: req.PromptTemplate,
		Description:    req.Description,
		Expertise:      req.Expertise,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create persona")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, personaResponse(persona))
}

func (h *PersonaHandler) updatePersona(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	if !user.IsAdmin {
		writeError(w, http.StatusForbidden, "admin_required")
		return
	}

	var req dto.PersonaUpdateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed")
		return
	}

	persona, err := h.personaService.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	updated := *persona
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.AvatarURL != nil {
		updated.AvatarURL = *req.AvatarURL
	}
	if req.PromptTemplate != nil {
		updated.PromptTemplate = *req.PromptTemplate
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.Expertise != nil {
		updated.Expertise = req.Expertise
	}

	saved, err := h.personaService.Update(r.Context(), &updated)
	if err != nil {
		h.logger.Error().Err(err).Str("persona_id", persona.ID).Msg("Failed to update persona")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, personaResponse(saved))
}

func personaResponse(p *model.Persona) dto.PersonaResponseDTO {
	return dto.PersonaResponseDTO{
		ID:          p.ID,
		Name:        p.Name,
		AvatarURL:   p.AvatarURL,
		Description: p.Description,
		Expertise:   p.Expertise,
		CreatedAt:   p.CreatedAt,
	}
}
