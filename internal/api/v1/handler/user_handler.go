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

type UserHandler struct {
	userService service.UserService
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewUserHandler(userService service.UserService, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{userService: userService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 user routes.
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /users/me", authMw(http.HandlerFunc(h.getProfile)))
	mux.Handle("PATCH /users/me", authMw(http.HandlerFunc(h.updateProfile)))
}

func (h *UserHandler) getProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.userService.TouchLastLogin(r.Context(), userID); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to touch last login")
	}
	writeJSON(w, http.StatusOK, userResponse(user))
}

func (h *UserHandler) updateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dto.UserUpdateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed")
		return
	}

	current, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	name := current.Name
	avatarURL := current.AvatarURL
	if req.Name != nil {
		name = *req.Name
	}
	if req.AvatarURL != nil {
		avatarURL = *req.AvatarURL
	}

	user, err := h.userService.UpdateProfile(r.Context(), userID, name, avatarURL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse(user))
}

func userResponse(u *model.User) dto.UserResponseDTO {
	return dto.UserResponseDTO{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		AvatarURL:   u.AvatarURL,
		Plan:        string(u.Plan),
		CreditsLeft: u.CreditsLeft,
		CreatedAt:   u.CreatedAt,
		LastLogin:   u.LastLogin,
	}
}
