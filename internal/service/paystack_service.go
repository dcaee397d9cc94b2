package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"app/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidSignature means a webhook body did not match its signature
	// header and must be discarded.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPlan means the requested plan is not purchasable.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrAmountMismatch means a payment settled for a different amount than
	// the plan's price.
	ErrAmountMismatch = errors.New("payment amount does not match plan price")
)

// eventChargeSuccess is the only Paystack event that grants a subscription.
const eventChargeSuccess = "charge.success"

// PaymentSession is a checkout handed back to the client for redirection.
type PaymentSession struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// PaymentEvent is a verified, parsed webhook delivery. Subscription is nil
// for event types the backend does not act on.
type PaymentEvent struct {
	Event        string
	Subscription *model.Subscription
	Plan         model.PlanType
}

// PaystackConfig carries the payment provider settings.
type PaystackConfig struct {
	SecretKey         string
	BaseURL           string
	MonthlyPriceCents int
	AnnualPriceCents  int
	RequestTimeout    time.Duration
}

// PaymentService talks to the payment provider: it opens checkout sessions
// and verifies and decodes webhook deliveries. Granting the purchased plan
// is the subscription service's job.
type PaymentService interface {
	// CreateSession initializes a checkout for the given paid plan. The
	// session reference encodes the user and plan so the webhook can be
	// settled without extra state.
	CreateSession(ctx context.Context, user *model.User, plan model.PlanType) (*PaymentSession, error)

	// VerifySignature checks the raw webhook body against its HMAC-SHA512
	// signature header.
	VerifySignature(body []byte, signature string) bool

	// ParseEvent decodes a verified webhook body. For a successful charge it
	// returns the subscription to grant; the amount is validated against the
	// plan price first.
	ParseEvent(body []byte) (*PaymentEvent, error)
}

type paystackService struct {
	cfg    PaystackConfig
	client *http.Client
	logger zerolog.Logger
}

// NewPaystackService creates the Paystack-backed payment service.
func NewPaystackService(cfg PaystackConfig, logger zerolog.Logger) PaymentService {
	return &paystackService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With().Str("service", "PaymentService").Logger(),
	}
}

func (s *paystackService) planPriceCents(plan model.PlanType) (int, error) {
	switch plan {
	case model.PlanMonthly:
		return s.cfg.MonthlyPriceCents, nil
	case model.PlanAnnual:
		return s.cfg.AnnualPriceCents, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidPlan, plan)
	}
}

type initializeRequest struct {
	Email     string `json:"email"`
	Amount    int    `json:"amount"`
	Reference string `json:"reference"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (s *paystackService) CreateSession(ctx context.Context, user *model.User, plan model.PlanType) (*PaymentSession, error) {
	price, err := s.planPriceCents(plan)
	if err != nil {
		return nil, err
	}

	reference := fmt.Sprintf("%s_%s_%s", user.ID, plan, uuid.NewString())
	payload, err := json.Marshal(initializeRequest{
		Email:     user.Email,
		Amount:    price,
		Reference: reference,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/transaction/initialize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building checkout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("initializing checkout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		s.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Checkout initialization rejected")
		return nil, fmt.Errorf("initializing checkout: provider returned status %d", resp.StatusCode)
	}

	var decoded initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding checkout response: %w", err)
	}
	if !decoded.Status {
		return nil, fmt.Errorf("initializing checkout: %s", decoded.Message)
	}

	return &PaymentSession{
		AuthorizationURL: decoded.Data.AuthorizationURL,
		AccessCode:       decoded.Data.AccessCode,
		Reference:        decoded.Data.Reference,
	}, nil
}

func (s *paystackService) VerifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(s.cfg.SecretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int    `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

func (s *paystackService) ParseEvent(body []byte) (*PaymentEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}

	if payload.Event != eventChargeSuccess {
		return &PaymentEvent{Event: payload.Event}, nil
	}

	userID, plan, err := parseReference(payload.Data.Reference)
	if err != nil {
		return nil, err
	}

	price, err := s.planPriceCents(plan)
	if err != nil {
		return nil, err
	}
	if payload.Data.Amount != price {
		return nil, fmt.Errorf("%w: got %d, want %d for plan %s", ErrAmountMismatch, payload.Data.Amount, price, plan)
	}

	now := time.Now().UTC()
	end := now.AddDate(0, 0, 30)
	if plan == model.PlanAnnual {
		end = now.AddDate(0, 0, 365)
	}

	return &PaymentEvent{
		Event: payload.Event,
		Plan:  plan,
		Subscription: &model.Subscription{
			UserID:    userID,
			Plan:      plan,
			Status:    model.SubscriptionActive,
			PaymentID: payload.Data.Reference,
			StartDate: now,
			EndDate:   end,
		},
	}, nil
}

// parseReference splits a checkout reference of the form
// "<user_id>_<plan>_<nonce>" back into its parts.
func parseReference(reference string) (string, model.PlanType, error) {
	parts := strings.SplitN(reference, "_", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed payment reference %q", reference)
	}
	plan := model.PlanType(parts[1])
	if plan != model.PlanMonthly && plan != model.PlanAnnual {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidPlan, parts[1])
	}
	return parts[0], plan, nil
}
