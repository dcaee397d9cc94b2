package service

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// UserService serves and updates the authenticated user's profile.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID, name, avatarURL string) (*model.User, error)
	TouchLastLogin(ctx context.Context, userID string) error
}

type userService struct {
	users  repository.UserRepository
	logger zerolog.Logger
}

// NewUserService creates the user profile service.
func NewUserService(users repository.UserRepository, logger zerolog.Logger) UserService {
	return &userService{
		users:  users,
		logger: logger.With().Str("service", "UserService").Logger(),
	}
}

func (s *userService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, userID, name, avatarURL string) (*model.User, error) {
	user, err := s.users.UpdateProfile(ctx, userID, name, avatarURL)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update profile")
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return user, nil
}

func (s *userService) TouchLastLogin(ctx context.Context, userID string) error {
	if err := s.users.TouchLastLogin(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to record login time")
		return fmt.Errorf("recording login: %w", err)
	}
	return nil
}
