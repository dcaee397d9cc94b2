package model

import "time"

// PlanType enumerates the subscription tiers.
type PlanType string

const (
	PlanFree    PlanType = "free"
	PlanMonthly PlanType = "monthly"
	PlanAnnual  PlanType = "annual"
)

// Unlimited reports whether the plan is exempt from credit metering.
func (p PlanType) Unlimited() bool {
	return p == PlanMonthly || p == PlanAnnual
}

// Valid reports whether the plan is a known tier.
func (p PlanType) Valid() bool {
	return p == PlanFree || p == PlanMonthly || p == PlanAnnual
}

// User represents an account holder.
type User struct {
	ID          string     `db:"id" json:"id"`
	Email       string     `db:"email" json:"email"`
	Name        string     `db:"name" json:"name"`
	AvatarURL   string     `db:"avatar_url" json:"avatar_url"`
	IsAdmin     bool       `db:"is_admin" json:"-"`
	Plan        PlanType   `db:"plan" json:"plan"`
	CreditsLeft int        `db:"credits_left" json:"credits_left"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastLogin   *time.Time `db:"last_login" json:"last_login,omitempty"`
}
