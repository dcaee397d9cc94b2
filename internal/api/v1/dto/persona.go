package dto

import "time"

type PersonaCreateDTO struct {
	Name           string   `json:"name" validate:"required,max=100"`
	AvatarURL      string   `json:"avatar_url" validate:"omitempty,url"`
	PromptTemplate string   `json:"prompt_template" validate:"required"`
	Description    string   `json:"description"`
	Expertise      []string `json:"expertise" validate:"dive,max=50"`
}

type PersonaUpdateDTO struct {
	Name           *string  `json:"name" validate:"omitempty,max=100"`
	AvatarURL      *string  `json:"avatar_url" validate:"omitempty,url"`
	PromptTemplate *string  `json:"prompt_template"`
	Description    *string  `json:"description"`
	Expertise      []string `json:"expertise" validate:"omitempty,dive,max=50"`
}

// PersonaResponseDTO is the public persona view. The prompt template is
// never exposed to clients.
type PersonaResponseDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	AvatarURL   string    `json:"avatar_url"`
	Description string    `json:"description"`
	Expertise   []string  `json:"expertise"`
	CreatedAt   time.Time `json:"created_at"`
}
