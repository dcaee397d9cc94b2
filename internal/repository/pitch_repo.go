package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PitchRepository stores pitch evaluations. Rows are write-once.
type PitchRepository interface {
	CreateEvaluation(ctx context.Context, e *model.PitchEvaluation) (*model.PitchEvaluation, error)
	GetEvaluation(ctx context.Context, evaluationID, userID string) (*model.PitchEvaluation, error)
	ListEvaluations(ctx context.Context, userID string) ([]model.PitchEvaluation, error)
}

type pitchRepo struct {
	pool *pgxpool.Pool
}

// NewPitchRepo creates a new PitchRepository.
func NewPitchRepo(pool *pgxpool.Pool) PitchRepository {
	return &pitchRepo{pool: pool}
}

const pitchColumns = `id, user_id, persona_id, pitch_text, evaluation, created_at`

func scanPitch(row pgx.Row) (*model.PitchEvaluation, error) {
	var e model.PitchEvaluation
	err := row.Scan(&e.ID, &e.UserID, &e.PersonaID, &e.PitchText, &e.Evaluation, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *pitchRepo) CreateEvaluation(ctx context.Context, e *model.PitchEvaluation) (*model.PitchEvaluation, error) {
	q := `
		INSERT INTO pitch_evaluations (user_id, persona_id, pitch_text, evaluation)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + pitchColumns
	created, err := scanPitch(r.pool.QueryRow(ctx, q, e.UserID, e.PersonaID, e.PitchText, e.Evaluation))
	if err != nil {
		return nil, fmt.Errorf("creating pitch evaluation: %w", err)
	}
	return created, nil
}

func (r *pitchRepo) GetEvaluation(ctx context.Context, evaluationID, userID string) (*model.PitchEvaluation, error) {
	q := `SELECT ` + pitchColumns + ` FROM pitch_evaluations WHERE id = $1 AND user_id = $2`
	e, err := scanPitch(r.pool.QueryRow(ctx, q, evaluationID, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting pitch evaluation %s: %w", evaluationID, err)
	}
	return e, nil
}

func (r *pitchRepo) ListEvaluations(ctx context.Context, userID string) ([]model.PitchEvaluation, error) {
	q := `
		SELECT ` + pitchColumns + `
		FROM pitch_evaluations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("querying pitch evaluations: %w", err)
	}
	defer rows.Close()

	var evaluations []model.PitchEvaluation
	for rows.Next() {
		e, err := scanPitch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pitch evaluation row: %w", err)
		}
		evaluations = append(evaluations, *e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pitch evaluation rows: %w", err)
	}
	return evaluations, nil
}
