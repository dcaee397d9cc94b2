package dto

import "time"

type PitchRequestDTO struct {
	PersonaID string `json:"persona_id" validate:"required"`
	PitchText string `json:"pitch_text" validate:"required,min=20,max=8000"`
}

type PitchResponseDTO struct {
	ID         string    `json:"id"`
	PersonaID  string    `json:"persona_id"`
	PitchText  string    `json:"pitch_text"`
	Evaluation string    `json:"evaluation"`
	CreatedAt  time.Time `json:"created_at"`
}
