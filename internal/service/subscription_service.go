package service

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// SubscriptionConfig carries the per-plan grants and the low-balance
// threshold reported in credit summaries.
type SubscriptionConfig struct {
	MonthlyCredits      int
	AnnualCredits       int
	LowBalanceThreshold int
}

// CreditSummary is the balance view served to the client.
type CreditSummary struct {
	Plan        model.PlanType `json:"plan"`
	CreditsLeft int            `json:"credits_left"`
	Unlimited   bool           `json:"unlimited"`
	LowBalance  bool           `json:"low_balance"`
}

// SubscriptionService settles payment webhooks into plan grants and serves
// the user's subscription and credit state.
type SubscriptionService interface {
	// HandleWebhook verifies and settles one webhook delivery. Replayed
	// deliveries of an already-settled payment are acknowledged without a
	// second grant.
	HandleWebhook(ctx context.Context, signature string, body []byte) error
	ActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	Credits(ctx context.Context, userID string) (*CreditSummary, error)
}

type subscriptionService struct {
	users         repository.UserRepository
	subscriptions repository.SubscriptionRepository
	payments      PaymentService
	cfg           SubscriptionConfig
	logger        zerolog.Logger
}

// NewSubscriptionService creates the subscription service.
func NewSubscriptionService(
	users repository.UserRepository,
	subscriptions repository.SubscriptionRepository,
	payments PaymentService,
	cfg SubscriptionConfig,
	logger zerolog.Logger,
) SubscriptionService {
	return &subscriptionService{
		users:         users,
		subscriptions: subscriptions,
		payments:      payments,
		cfg:           cfg,
		logger:        logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

func (s *subscriptionService) HandleWebhook(ctx context.Context, signature string, body []byte) error {
	if !s.payments.VerifySignature(body, signature) {
		return ErrInvalidSignature
	}

	event, err := s.payments.ParseEvent(body)
	if err != nil {
		return fmt.Errorf("parsing webhook event: %w", err)
	}
	if event.Subscription == nil {
		s.logger.Debug().Str("event", event.Event).Msg("Ignoring webhook event")
		return nil
	}

	credits := s.cfg.MonthlyCredits
	if event.Plan == model.PlanAnnual {
		credits = s.cfg.AnnualCredits
	}

	applied, err := s.subscriptions.ApplyPayment(ctx, event.Subscription, credits)
	if err != nil {
		s.logger.Error().Err(err).Str("payment_id", event.Subscription.PaymentID).Msg("Failed to apply payment")
		return fmt.Errorf("applying payment: %w", err)
	}
	if !applied {
		s.logger.Info().Str("payment_id", event.Subscription.PaymentID).Msg("Duplicate webhook delivery, already settled")
		return nil
	}

	s.logger.Info().
		Str("user_id", event.Subscription.UserID).
		Str("plan", string(event.Plan)).
		Str("payment_id", event.Subscription.PaymentID).
		Msg("Subscription granted")
	return nil
}

// ActiveSubscription returns the user's current subscription, or nil when
// the user has none.
func (s *subscriptionService) ActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subscriptions.GetActiveSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting active subscription: %w", err)
	}
	return sub, nil
}

func (s *subscriptionService) Credits(ctx context.Context, userID string) (*CreditSummary, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	unlimited := user.Plan.Unlimited()
	return &CreditSummary{
		Plan:        user.Plan,
		CreditsLeft: user.CreditsLeft,
		Unlimited:   unlimited,
		LowBalance:  !unlimited && user.CreditsLeft <= s.cfg.LowBalanceThreshold,
	}, nil
}
