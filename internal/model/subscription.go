package model

import "time"

// SubscriptionStatus enumerates the lifecycle states of a paid subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Subscription records a completed payment for a non-free plan. PaymentID is
// the provider's transaction reference and is unique, which makes webhook
// replays a no-op.
type Subscription struct {
	ID        string             `db:"id" json:"id"`
	UserID    string             `db:"user_id" json:"user_id"`
	Plan      PlanType           `db:"plan" json:"plan"`
	Status    SubscriptionStatus `db:"status" json:"status"`
	PaymentID string             `db:"payment_id" json:"-"`
	StartDate time.Time          `db:"start_date" json:"start_date"`
	EndDate   time.Time          `db:"end_date" json:"end_date"`
}
