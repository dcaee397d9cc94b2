package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// maxWebhookBody bounds webhook reads. Provider payloads are small.
const maxWebhookBody = 1 << 20

type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
	paymentService      service.PaymentService
	userService         service.UserService
	validate            *validator.Validate
	logger              zerolog.Logger
}

func NewSubscriptionHandler(
	subscriptionService service.SubscriptionService,
	paymentService service.PaymentService,
	userService service.UserService,
	v *validator.Validate,
	logger zerolog.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		paymentService:      paymentService,
		userService:         userService,
		validate:            v,
		logger:              logger,
	}
}

// RegisterRoutes mounts v1 subscription routes. The webhook endpoint is
// authenticated by signature, not by bearer token.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /subscriptions/payment", authMw(http.HandlerFunc(h.createPayment)))
	mux.Handle("GET /subscriptions/active", authMw(http.HandlerFunc(h.getActive)))
	mux.Handle("GET /subscriptions/credits", authMw(http.HandlerFunc(h.getCredits)))
	mux.HandleFunc("POST /subscriptions/webhook", h.webhook)
}

func (h *SubscriptionHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dto.PaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed")
		return
	}

	user, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	session, err := h.paymentService.CreateSession(r.Context(), user, model.PlanType(req.Plan))
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create payment session")
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PaymentSessionDTO{
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.AccessCode,
		Reference:        session.Reference,
	})
}

// webhook settles a payment provider delivery. The provider retries
// non-2xx responses, so everything past signature verification is
// acknowledged; settlement errors are logged and retried by the provider
// only when we say so.
func (h *SubscriptionHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	err = h.subscriptionService.HandleWebhook(r.Context(), r.Header.Get("X-Paystack-Signature"), body)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature")
	default:
		// Not settled yet; a non-2xx makes the provider redeliver.
		h.logger.Error().Err(err).Msg("Webhook settlement failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (h *SubscriptionHandler) getActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sub, err := h.subscriptionService.ActiveSubscription(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if sub == nil {
		writeJSON(w, http.StatusOK, dto.SubscriptionResponseDTO{Active: false})
		return
	}
	writeJSON(w, http.StatusOK, dto.SubscriptionResponseDTO{
		Active:    true,
		Plan:      string(sub.Plan),
		Status:    string(sub.Status),
		StartDate: &sub.StartDate,
		EndDate:   &sub.EndDate,
	})
}

func (h *SubscriptionHandler) getCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	summary, err := h.subscriptionService.Credits(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CreditsResponseDTO{
		Plan:        string(summary.Plan),
		CreditsLeft: summary.CreditsLeft,
		Unlimited:   summary.Unlimited,
		LowBalance:  summary.LowBalance,
	})
}
