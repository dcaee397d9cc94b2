package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PersonaRepository accesses the persona catalog. Personas are effectively
// immutable configuration; the registry service caches everything this
// repository returns.
type PersonaRepository interface {
	ListPersonas(ctx context.Context) ([]model.Persona, error)
	GetPersonaByID(ctx context.Context, personaID string) (*model.Persona, error)
	CreatePersona(ctx context.Context, p *model.Persona) (*model.Persona, error)
	UpdatePersona(ctx context.Context, p *model.Persona) (*model.Persona, error)
}

type personaRepo struct {
	pool *pgxpool.Pool
}

// NewPersonaRepo creates a new PersonaRepository.
func NewPersonaRepo(pool *pgxpool.Pool) PersonaRepository {
	return &personaRepo{pool: pool}
}

const personaColumns = `id, name, avatar_url, prompt_template, description, expertise, created_at`

func scanPersona(row pgx.Row) (*model.Persona, error) {
	var p model.Persona
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.AvatarURL,
		&p.PromptTemplate,
		&p.Description,
		&p.Expertise,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPersonas returns the full catalog ordered by creation time. The order
// is load-bearing: the free tier is gated to the first N personas.
func (r *personaRepo) ListPersonas(ctx context.Context) ([]model.Persona, error) {
	q := `SELECT ` + personaColumns + ` FROM personas ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying personas: %w", err)
	}
	defer rows.Close()

	var personas []model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning persona row: %w", err)
		}
		personas = append(personas, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating persona rows: %w", err)
	}
	return personas, nil
}

func (r *personaRepo) GetPersonaByID(ctx context.Context, personaID string) (*model.Persona, error) {
	q := `SELECT ` + personaColumns + ` FROM personas WHERE id = $1`
	p, err := scanPersona(r.pool.QueryRow(ctx, q, personaID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting persona %s: %w", personaID, err)
	}
	return p, nil
}

func (r *personaRepo) CreatePersona(ctx context.Context, p *model.Persona) (*model.Persona, error) {
	q := `
		INSERT INTO personas (name, avatar_url, prompt_template, description, expertise)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + personaColumns
	created, err := scanPersona(r.pool.QueryRow(ctx, q, p.Name, p.AvatarURL, p.PromptTemplate, p.Description, p.Expertise))
	if err != nil {
		return nil, fmt.Errorf("creating persona: %w", err)
	}
	return created, nil
}

func (r *personaRepo) UpdatePersona(ctx context.Context, p *model.Persona) (*model.Persona, error) {
	q := `
		UPDATE personas
		SET name = $2, avatar_url = $3, prompt_template = $4, description = $5, expertise = $6
		WHERE id = $1
		RETURNING ` + personaColumns
	updated, err := scanPersona(r.pool.QueryRow(ctx, q, p.ID, p.Name, p.AvatarURL, p.PromptTemplate, p.Description, p.Expertise))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating persona %s: %w", p.ID, err)
	}
	return updated, nil
}
