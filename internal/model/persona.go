package model

import "time"

// Persona is a configured AI character. Personas are reference data: created
// or updated only through the admin endpoints, read concurrently by every
// chat request.
type Persona struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	AvatarURL      string    `db:"avatar_url" json:"avatar_url"`
	PromptTemplate string    `db:"prompt_template" json:"prompt_template"`
	Description    string    `db:"description" json:"description"`
	Expertise      []string  `db:"expertise" json:"expertise"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
