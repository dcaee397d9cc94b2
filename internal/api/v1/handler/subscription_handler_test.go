package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type fakeSubscriptionService struct {
	webhookErr error
	deliveries int
}

func (f *fakeSubscriptionService) HandleWebhook(ctx context.Context, signature string, body []byte) error {
	f.deliveries++
	return f.webhookErr
}

func (f *fakeSubscriptionService) ActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionService) Credits(ctx context.Context, userID string) (*service.CreditSummary, error) {
	return &service.CreditSummary{Plan: model.PlanFree, CreditsLeft: 5}, nil
}

func newWebhookHandler(svc service.SubscriptionService) *SubscriptionHandler {
	return NewSubscriptionHandler(svc, nil, nil, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
}

func TestWebhookAcknowledgesSettledDelivery(t *testing.T) {
	svc := &fakeSubscriptionService{}
	h := newWebhookHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/webhook", strings.NewReader(`{"event":"charge.success"}`))
	req.Header.Set("X-Paystack-Signature", "sig")
	rec := httptest.NewRecorder()
	h.webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.deliveries != 1 {
		t.Fatalf("deliveries = %d", svc.deliveries)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newWebhookHandler(&fakeSubscriptionService{webhookErr: service.ErrInvalidSignature})

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.webhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookSignalsRedeliveryOnStoreFailure(t *testing.T) {
	h := newWebhookHandler(&fakeSubscriptionService{webhookErr: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/webhook", strings.NewReader(`{}`))
	req.Header.Set("X-Paystack-Signature", "sig")
	rec := httptest.NewRecorder()
	h.webhook(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 so the provider retries", rec.Code)
	}
}
