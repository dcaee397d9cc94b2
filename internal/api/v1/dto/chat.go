package dto

import "time"

type ChatRequestDTO struct {
	PersonaID      string `json:"persona_id" validate:"required"`
	Message        string `json:"message" validate:"required,max=4000"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,uuid4"`
}

// StreamFrameDTO is one SSE data frame. Type is "delta", "error" or "done";
// the other fields are populated per type.
type StreamFrameDTO struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	Code           string `json:"code,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	CreditsLeft    *int   `json:"credits_left,omitempty"`
	LowBalance     *bool  `json:"low_balance,omitempty"`
}

type ConversationResponseDTO struct {
	ID            string    `json:"id"`
	PersonaID     string    `json:"persona_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type ConversationSummaryDTO struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	PersonaID        string    `json:"persona_id"`
	PersonaName      string    `json:"persona_name"`
	PersonaAvatarURL string    `json:"persona_avatar_url"`
	LastMessage      string    `json:"last_message"`
	LastMessageAt    time.Time `json:"last_message_at"`
}

type MessageResponseDTO struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	IsUser         bool      `json:"is_user"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConversationMessagesDTO struct {
	Conversation ConversationResponseDTO `json:"conversation"`
	Messages     []MessageResponseDTO    `json:"messages"`
}
