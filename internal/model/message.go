package model

import "time"

// Message is one turn half within a conversation. IsUser distinguishes the
// human turn from the persona turn. Rows are append-only; ordering within a
// conversation is by CreatedAt ascending.
type Message struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	PersonaID      string    `db:"persona_id" json:"persona_id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Content        string    `db:"content" json:"content"`
	IsUser         bool      `db:"is_user" json:"is_user"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
