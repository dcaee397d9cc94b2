package model

import "time"

// Conversation groups the messages a user has exchanged with one persona.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	PersonaID     string    `db:"persona_id" json:"persona_id"`
	Title         string    `db:"title" json:"title"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
}

// ConversationSummary is the list-view projection of a conversation with the
// persona presentation fields and a preview of the latest message joined in.
type ConversationSummary struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	PersonaID        string    `json:"persona_id"`
	PersonaName      string    `json:"persona_name"`
	PersonaAvatarURL string    `json:"persona_avatar_url"`
	LastMessage      string    `json:"last_message,omitempty"`
	LastMessageAt    time.Time `json:"last_message_at"`
}
