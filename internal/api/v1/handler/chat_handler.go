package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type ChatHandler struct {
	chatService service.ChatService
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewChatHandler(chatService service.ChatService, v *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{chatService: chatService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 chat and conversation routes.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /chat", authMw(http.HandlerFunc(h.streamChat)))
	mux.Handle("GET /conversations", authMw(http.HandlerFunc(h.listConversations)))
	mux.Handle("GET /conversations/{id}", authMw(http.HandlerFunc(h.getConversation)))
	mux.Handle("DELETE /conversations/{id}", authMw(http.HandlerFunc(h.deleteConversation)))
}

// streamChat runs one chat turn and relays the assistant's reply as SSE.
// Failures before the first delta map to plain HTTP statuses; once the
// stream has started, failures become an in-stream error frame.
func (h *ChatHandler) streamChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dto.ChatRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	started := false
	emit := func(fragment string) error {
		if !started {
			h.writeStreamHeaders(w)
			started = true
		}
		if err := h.writeFrame(w, dto.StreamFrameDTO{Type: "delta", Content: fragment}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	result, err := h.chatService.StreamTurn(r.Context(), userID, service.TurnRequest{
		PersonaID:      req.PersonaID,
		Message:        req.Message,
		ConversationID: req.ConversationID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}, emit)
	if err != nil {
		if !started {
			writeServiceError(w, err)
			return
		}
		// Headers are out; all that is left is to tell the client the turn
		// did not settle.
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Chat turn failed mid-stream")
		_ = h.writeFrame(w, dto.StreamFrameDTO{Type: "error", Code: "generation_failed"})
		h.terminate(w, flusher)
		return
	}

	if !started {
		// Empty completions still settle; the client gets the terminator.
		h.writeStreamHeaders(w)
	}
	_ = h.writeFrame(w, dto.StreamFrameDTO{
		Type:           "done",
		ConversationID: result.Conversation.ID,
		CreditsLeft:    &result.CreditsLeft,
		LowBalance:     &result.LowBalance,
	})
	h.terminate(w, flusher)
}

func (h *ChatHandler) writeStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func (h *ChatHandler) writeFrame(w http.ResponseWriter, frame dto.StreamFrameDTO) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (h *ChatHandler) terminate(w http.ResponseWriter, flusher http.Flusher) {
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write stream terminator")
		return
	}
	flusher.Flush()
}

func (h *ChatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	summaries, err := h.chatService.ListConversations(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]dto.ConversationSummaryDTO, len(summaries))
	for i, s := range summaries {
		resp[i] = dto.ConversationSummaryDTO{
			ID:               s.ID,
			Title:            s.Title,
			PersonaID:        s.PersonaID,
			PersonaName:      s.PersonaName,
			PersonaAvatarURL: s.PersonaAvatarURL,
			LastMessage:      s.LastMessage,
			LastMessageAt:    s.LastMessageAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) getConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	conv, messages, err := h.chatService.GetConversationMessages(r.Context(), r.PathValue("id"), userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := dto.ConversationMessagesDTO{
		Conversation: dto.ConversationResponseDTO{
			ID:            conv.ID,
			PersonaID:     conv.PersonaID,
			Title:         conv.Title,
			CreatedAt:     conv.CreatedAt,
			LastMessageAt: conv.LastMessageAt,
		},
		Messages: make([]dto.MessageResponseDTO, len(messages)),
	}
	for i, m := range messages {
		resp.Messages[i] = dto.MessageResponseDTO{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Content:        m.Content,
			IsUser:         m.IsUser,
			CreatedAt:      m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.chatService.DeleteConversation(r.Context(), r.PathValue("id"), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
