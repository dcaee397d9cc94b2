package service

import (
	"context"
	"fmt"
	"sync"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// Allowance is the outcome of a successful gate check. LowBalance is a
// non-blocking warning, distinct from denial, so the client can show an
// upgrade prompt without interrupting the turn.
type Allowance struct {
	CreditsLeft int
	LowBalance  bool
	Unlimited   bool
}

// CreditService gates costly actions and applies their cost. The gate check
// reserves the cost until the turn settles, so two concurrent turns from the
// same user cannot both ride the last credit.
type CreditService interface {
	// Check decides whether the user may spend cost credits. On success the
	// cost is reserved; the caller must settle the reservation with exactly
	// one Debit or Release on every exit path.
	Check(user *model.User, cost int) (Allowance, error)
	// Release returns a reservation without charging, for denied-downstream
	// or failed turns.
	Release(userID string, cost int)
	// Debit settles a reservation by decrementing the stored balance. No-op
	// for unlimited plans. Returns the new balance.
	Debit(ctx context.Context, user *model.User, cost int) (int, error)
}

type creditService struct {
	users     repository.UserRepository
	threshold int
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[string]int
}

// NewCreditService creates a CreditService. threshold is the balance at or
// below which the low-balance warning fires.
func NewCreditService(users repository.UserRepository, threshold int, logger zerolog.Logger) CreditService {
	return &creditService{
		users:     users,
		threshold: threshold,
		logger:    logger.With().Str("service", "CreditService").Logger(),
		pending:   make(map[string]int),
	}
}

func (s *creditService) Check(user *model.User, cost int) (Allowance, error) {
	if user.Plan.Unlimited() {
		return Allowance{CreditsLeft: user.CreditsLeft, Unlimited: true}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	available := user.CreditsLeft - s.pending[user.ID]
	if available < cost {
		return Allowance{CreditsLeft: user.CreditsLeft}, ErrPaymentRequired
	}
	s.pending[user.ID] += cost

	// The warning fires only on a nonzero remainder.
	remaining := available - cost
	return Allowance{
		CreditsLeft: user.CreditsLeft,
		LowBalance:  remaining > 0 && remaining <= s.threshold,
	}, nil
}

func (s *creditService) Release(userID string, cost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] -= cost
	if s.pending[userID] <= 0 {
		delete(s.pending, userID)
	}
}

func (s *creditService) Debit(ctx context.Context, user *model.User, cost int) (int, error) {
	if user.Plan.Unlimited() {
		return user.CreditsLeft, nil
	}
	defer s.Release(user.ID, cost)

	balance, err := s.users.DebitCredits(ctx, user.ID, cost)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Int("cost", cost).Msg("Failed to debit credits")
		return 0, fmt.Errorf("debiting credits for user %s: %w", user.ID, err)
	}
	return balance, nil
}
