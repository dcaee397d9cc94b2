package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository records completed payments and the plan state they
// grant.
type SubscriptionRepository interface {
	// ApplyPayment inserts the subscription and, only when the payment
	// reference has not been seen before, switches the user's plan and
	// resets the credit allotment, all in one transaction. Returns false
	// when the webhook was a duplicate delivery.
	ApplyPayment(ctx context.Context, sub *model.Subscription, credits int) (bool, error)
	GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) ApplyPayment(ctx context.Context, sub *model.Subscription, credits int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("starting transaction for payment %s: %w", sub.PaymentID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insert = `
		INSERT INTO subscriptions (user_id, plan, status, payment_id, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insert, sub.UserID, sub.Plan, sub.Status, sub.PaymentID, sub.StartDate, sub.EndDate)
	if err != nil {
		return false, fmt.Errorf("inserting subscription for payment %s: %w", sub.PaymentID, err)
	}
	if tag.RowsAffected() == 0 {
		// Duplicate webhook delivery: leave plan and credits untouched.
		return false, nil
	}

	const grant = `UPDATE users SET plan = $2, credits_left = $3 WHERE id = $1`
	userTag, err := tx.Exec(ctx, grant, sub.UserID, sub.Plan, credits)
	if err != nil {
		return false, fmt.Errorf("granting plan %s to user %s: %w", sub.Plan, sub.UserID, err)
	}
	if userTag.RowsAffected() == 0 {
		return false, fmt.Errorf("granting plan to user %s: %w", sub.UserID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing payment %s: %w", sub.PaymentID, err)
	}
	return true, nil
}

func (r *subscriptionRepo) GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `
		SELECT id, user_id, plan, status, payment_id, start_date, end_date
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active' AND end_date > $2
		ORDER BY end_date DESC
		LIMIT 1
	`
	var s model.Subscription
	err := r.pool.QueryRow(ctx, q, userID, time.Now()).Scan(
		&s.ID,
		&s.UserID,
		&s.Plan,
		&s.Status,
		&s.PaymentID,
		&s.StartDate,
		&s.EndDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching active subscription for user %s: %w", userID, err)
	}
	return &s, nil
}
