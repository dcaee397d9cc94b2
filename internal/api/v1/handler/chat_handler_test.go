package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// fakeChatService scripts the orchestrator for handler tests.
type fakeChatService struct {
	fragments []string
	result    *service.TurnResult
	err       error
	failAfter int // emit this many fragments before failing
	lastReq   service.TurnRequest
}

func (f *fakeChatService) StreamTurn(ctx context.Context, userID string, req service.TurnRequest, emit func(string) error) (*service.TurnResult, error) {
	f.lastReq = req
	for i, fragment := range f.fragments {
		if f.err != nil && i == f.failAfter {
			return nil, f.err
		}
		if err := emit(fragment); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeChatService) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSummary, error) {
	return nil, nil
}

func (f *fakeChatService) GetConversationMessages(ctx context.Context, conversationID, userID string, limit int) (*model.Conversation, []model.Message, error) {
	return nil, nil, service.ErrConversationNotFound
}

func (f *fakeChatService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	return service.ErrConversationNotFound
}

func newChatRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), middleware.UserContextKey, "u1")
	return req.WithContext(ctx)
}

func parseFrames(t *testing.T, body string) []dto.StreamFrameDTO {
	t.Helper()
	var frames []dto.StreamFrameDTO
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var frame dto.StreamFrameDTO
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestStreamChatEmitsDeltaAndDoneFrames(t *testing.T) {
	credits := 2
	low := false
	svc := &fakeChatService{
		fragments: []string{"Hel", "lo"},
		result: &service.TurnResult{
			Conversation: &model.Conversation{ID: "conv-1"},
			CreditsLeft:  credits,
			LowBalance:   low,
		},
	}
	h := NewChatHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.streamChat(rec, newChatRequest(t, `{"persona_id":"p1","message":"hi"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	body := rec.Body.String()
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("missing terminator, body = %q", body)
	}

	frames := parseFrames(t, body)
	if len(frames) != 3 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Type != "delta" || frames[0].Content != "Hel" {
		t.Fatalf("frames[0] = %+v", frames[0])
	}
	done := frames[2]
	if done.Type != "done" || done.ConversationID != "conv-1" || done.CreditsLeft == nil || *done.CreditsLeft != 2 {
		t.Fatalf("done frame = %+v", done)
	}
}

func TestStreamChatInsufficientCreditsIs402(t *testing.T) {
	svc := &fakeChatService{err: service.ErrPaymentRequired}
	h := NewChatHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.streamChat(rec, newChatRequest(t, `{"persona_id":"p1","message":"hi"}`))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "insufficient_credits" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestStreamChatMidStreamFailureBecomesErrorFrame(t *testing.T) {
	svc := &fakeChatService{
		fragments: []string{"partial", "never sent"},
		err:       service.ErrGenerationFailed,
		failAfter: 1,
	}
	h := NewChatHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.streamChat(rec, newChatRequest(t, `{"persona_id":"p1","message":"hi"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, headers were already out", rec.Code)
	}
	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[1].Type != "error" || frames[1].Code != "generation_failed" {
		t.Fatalf("frames[1] = %+v", frames[1])
	}
	if !strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n") {
		t.Fatal("missing terminator after error frame")
	}
}

func TestStreamChatValidatesPayload(t *testing.T) {
	h := NewChatHandler(&fakeChatService{}, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.streamChat(rec, newChatRequest(t, `{"message":""}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStreamChatForwardsIdempotencyKey(t *testing.T) {
	svc := &fakeChatService{result: &service.TurnResult{Conversation: &model.Conversation{ID: "c1"}}}
	h := NewChatHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	req := newChatRequest(t, `{"persona_id":"p1","message":"hi"}`)
	req.Header.Set("Idempotency-Key", "key-42")
	h.streamChat(httptest.NewRecorder(), req)

	if svc.lastReq.IdempotencyKey != "key-42" {
		t.Fatalf("IdempotencyKey = %q", svc.lastReq.IdempotencyKey)
	}
}

func TestStreamChatRequiresAuth(t *testing.T) {
	h := NewChatHandler(&fakeChatService{}, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"persona_id":"p1","message":"hi"}`))
	h.streamChat(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
