package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row does not exist or is not owned by the
// acting user.
var ErrNotFound = errors.New("not found")

// UserRepository accesses user rows, including the credit balance.
type UserRepository interface {
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID, name, avatarURL string) (*model.User, error)
	TouchLastLogin(ctx context.Context, userID string) error
	// DebitCredits applies a single conditional decrement, clamped at zero.
	// Only metered (free plan) rows are touched; the new balance is returned
	// either way.
	DebitCredits(ctx context.Context, userID string, amount int) (int, error)
}

type userRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a new UserRepository.
func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `id, email, name, avatar_url, is_admin, plan, credits_left, created_at, last_login`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.AvatarURL,
		&u.IsAdmin,
		&u.Plan,
		&u.CreditsLeft,
		&u.CreatedAt,
		&u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting user %s: %w", userID, err)
	}
	return u, nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, userID, name, avatarURL string) (*model.User, error) {
	q := `
		UPDATE users
		SET name = $2, avatar_url = $3
		WHERE id = $1
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, userID, name, avatarURL))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating profile for user %s: %w", userID, err)
	}
	return u, nil
}

func (r *userRepo) TouchLastLogin(ctx context.Context, userID string) error {
	q := `UPDATE users SET last_login = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("touching last_login for user %s: %w", userID, err)
	}
	return nil
}

// DebitCredits is the only write path for the balance outside the payment
// webhook. The decrement is a single conditional UPDATE so two concurrent
// turns cannot both observe the same balance and double-spend it.
func (r *userRepo) DebitCredits(ctx context.Context, userID string, amount int) (int, error) {
	q := `
		UPDATE users
		SET credits_left = GREATEST(credits_left - $2, 0)
		WHERE id = $1 AND plan = 'free'
		RETURNING credits_left
	`
	var balance int
	err := r.pool.QueryRow(ctx, q, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Non-metered plan: the debit is a no-op, report the stored balance.
			const sel = `SELECT credits_left FROM users WHERE id = $1`
			if err := r.pool.QueryRow(ctx, sel, userID).Scan(&balance); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return 0, ErrNotFound
				}
				return 0, fmt.Errorf("reading balance for user %s: %w", userID, err)
			}
			return balance, nil
		}
		return 0, fmt.Errorf("debiting %d credits for user %s: %w", amount, userID, err)
	}
	return balance, nil
}
