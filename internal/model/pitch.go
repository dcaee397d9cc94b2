package model

import "time"

// PitchEvaluation is a persona's written feedback on a startup pitch.
// Write-once, never mutated.
type PitchEvaluation struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	PersonaID  string    `db:"persona_id" json:"persona_id"`
	PitchText  string    `db:"pitch_text" json:"pitch_text"`
	Evaluation string    `db:"evaluation" json:"evaluation"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
