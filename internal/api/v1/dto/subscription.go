package dto

import "time"

type PaymentRequestDTO struct {
	Plan string `json:"plan" validate:"required,oneof=monthly annual"`
}

type PaymentSessionDTO struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type SubscriptionResponseDTO struct {
	Active    bool       `json:"active"`
	Plan      string     `json:"plan,omitempty"`
	Status    string     `json:"status,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

type CreditsResponseDTO struct {
	Plan        string `json:"plan"`
	CreditsLeft int    `json:"credits_left"`
	Unlimited   bool   `json:"unlimited"`
	LowBalance  bool   `json:"low_balance"`
}
