package service

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

const pitchInstruction = "You are evaluating a startup pitch. Assess it from your own perspective and expertise. " +
	"Cover the strengths, the weaknesses, the market opportunity, and the most important questions the founder should answer next. " +
	"Be direct and specific."

// PitchConfig carries the pitch-evaluation tunables.
type PitchConfig struct {
	CreditCost int
	Params     GenerationParams
}

// PitchService evaluates startup pitches through a persona and keeps the
// user's evaluation history. Evaluations are non-streaming and cost more
// than a chat turn.
type PitchService interface {
	Evaluate(ctx context.Context, userID, personaID, pitchText string) (*model.PitchEvaluation, error)
	History(ctx context.Context, userID string) ([]model.PitchEvaluation, error)
	Get(ctx context.Context, evaluationID, userID string) (*model.PitchEvaluation, error)
}

type pitchService struct {
	users    repository.UserRepository
	pitches  repository.PitchRepository
	personas PersonaService
	credits  CreditService
	llm      CompletionClient
	cfg      PitchConfig
	logger   zerolog.Logger
}

// NewPitchService creates the pitch evaluation service.
func NewPitchService(
	users repository.UserRepository,
	pitches repository.PitchRepository,
	personas PersonaService,
	credits CreditService,
	llm CompletionClient,
	cfg PitchConfig,
	logger zerolog.Logger,
) PitchService {
	return &pitchService{
		users:    users,
		pitches:  pitches,
		personas: personas,
		credits:  credits,
		llm:      llm,
		cfg:      cfg,
		logger:   logger.With().Str("service", "PitchService").Logger(),
	}
}

func (s *pitchService) Evaluate(ctx context.Context, userID, personaID, pitchText string) (*model.PitchEvaluation, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	persona, err := s.personas.Resolve(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if err := s.personas.Authorize(ctx, user.Plan, persona.ID); err != nil {
		return nil, err
	}

	allowance, err := s.credits.Check(user, s.cfg.CreditCost)
	if err != nil {
		return nil, err
	}
	settled := allowance.Unlimited
	defer func() {
		if !settled {
			s.credits.Release(user.ID, s.cfg.CreditCost)
		}
	}()

	prompt := []CompletionMessage{
		{Role: "system", Content: persona.PromptTemplate + "\n\n" + pitchInstruction},
		{Role: "user", Content: pitchText},
	}
	evaluation, err := s.llm.Complete(ctx, prompt, s.cfg.Params)
	if err != nil {
		s.logger.Error().Err(err).Str("persona_id", persona.ID).Msg("Pitch evaluation call failed")
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, err)
	}

	record, err := s.pitches.CreateEvaluation(ctx, &model.PitchEvaluation{
		UserID:     user.ID,
		PersonaID:  persona.ID,
		PitchText:  pitchText,
		Evaluation: evaluation,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting evaluation: %w", err)
	}

	settled = true
	if _, err := s.credits.Debit(ctx, user, s.cfg.CreditCost); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Debit after pitch evaluation failed")
	}

	return record, nil
}

func (s *pitchService) History(ctx context.Context, userID string) ([]model.PitchEvaluation, error) {
	evaluations, err := s.pitches.ListEvaluations(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list evaluations")
		return nil, fmt.Errorf("listing evaluations: %w", err)
	}
	return evaluations, nil
}

func (s *pitchService) Get(ctx context.Context, evaluationID, userID string) (*model.PitchEvaluation, error) {
	evaluation, err := s.pitches.GetEvaluation(ctx, evaluationID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, fmt.Errorf("getting evaluation: %w", err)
	}
	return evaluation, nil
}
