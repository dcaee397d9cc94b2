package service

import "errors"

// Sentinel errors shared across services. Handlers translate these into the
// client-facing signals (401 / 402 / 404 / 409 / generation failure) so the
// UI can route the user correctly instead of showing a generic error.
var (
	ErrUnauthorized         = errors.New("unauthorized access")
	ErrPaymentRequired      = errors.New("insufficient credits")
	ErrPersonaNotFound      = errors.New("persona not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrEvaluationNotFound   = errors.New("evaluation not found")
	ErrDuplicateMessage     = errors.New("duplicate message submission")
	ErrGenerationFailed     = errors.New("generation failed")
)
