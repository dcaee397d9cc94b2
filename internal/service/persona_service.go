package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// PersonaService is the registry resolving persona IDs to their prompt
// templates and presentation metadata. Personas are read-only at request
// time, so the whole catalog is cached in memory and invalidated explicitly
// on administrative updates.
type PersonaService interface {
	Resolve(ctx context.Context, personaID string) (*model.Persona, error)
	// List returns the catalog visible to the given plan. Free users see
	// only the first freeLimit personas by creation order.
	List(ctx context.Context, plan model.PlanType) ([]model.Persona, error)
	// Authorize reports whether the plan may use the persona.
	Authorize(ctx context.Context, plan model.PlanType, personaID string) error
	Create(ctx context.Context, p *model.Persona) (*model.Persona, error)
	Update(ctx context.Context, p *model.Persona) (*model.Persona, error)
	// Invalidate drops the cache; the next read reloads from the store.
	Invalidate()
}

type personaService struct {
	repo      repository.PersonaRepository
	freeLimit int
	logger    zerolog.Logger

	mu     sync.RWMutex
	byID   map[string]*model.Persona
	sorted []model.Persona // creation order
	warm   bool
}

// NewPersonaService creates the registry. The catalog is loaded lazily on
// the first read.
func NewPersonaService(repo repository.PersonaRepository, freeLimit int, logger zerolog.Logger) PersonaService {
	return &personaService{
		repo:      repo,
		freeLimit: freeLimit,
		logger:    logger.With().Str("service", "PersonaService").Logger(),
		byID:      make(map[string]*model.Persona),
	}
}

func (s *personaService) load(ctx context.Context) error {
	s.mu.RLock()
	warm := s.warm
	s.mu.RUnlock()
	if warm {
		return nil
	}

	personas, err := s.repo.ListPersonas(ctx)
	if err != nil {
		return fmt.Errorf("loading persona catalog: %w", err)
	}

	byID := make(map[string]*model.Persona, len(personas))
	for i := range personas {
		byID[personas[i].ID] = &personas[i]
	}

	s.mu.Lock()
	s.byID = byID
	s.sorted = personas
	s.warm = true
	s.mu.Unlock()
	return nil
}

func (s *personaService) Resolve(ctx context.Context, personaID string) (*model.Persona, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	p, ok := s.byID[personaID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrPersonaNotFound
	}
	return p, nil
}

func (s *personaService) List(ctx context.Context, plan model.PlanType) ([]model.Persona, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	personas := s.sorted
	if !plan.Unlimited() && len(personas) > s.freeLimit {
		personas = personas[:s.freeLimit]
	}
	out := make([]model.Persona, len(personas))
	copy(out, personas)
	return out, nil
}

func (s *personaService) Authorize(ctx context.Context, plan model.PlanType, personaID string) error {
	if plan.Unlimited() {
		return nil
	}
	visible, err := s.List(ctx, plan)
	if err != nil {
		return err
	}
	for _, p := range visible {
		if p.ID == personaID {
			return nil
		}
	}
	return ErrPaymentRequired
}

func (s *personaService) Create(ctx context.Context, p *model.Persona) (*model.Persona, error) {
	created, err := s.repo.CreatePersona(ctx, p)
	if err != nil {
		s.logger.Error().Err(err).Str("name", p.Name).Msg("Failed to create persona")
		return nil, err
	}
	s.Invalidate()
	return created, nil
}

func (s *personaService) Update(ctx context.Context, p *model.Persona) (*model.Persona, error) {
	updated, err := s.repo.UpdatePersona(ctx, p)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPersonaNotFound
		}
		s.logger.Error().Err(err).Str("persona_id", p.ID).Msg("Failed to update persona")
		return nil, err
	}
	s.Invalidate()
	return updated, nil
}

func (s *personaService) Invalidate() {
	s.mu.Lock()
	s.warm = false
	s.mu.Unlock()
}
