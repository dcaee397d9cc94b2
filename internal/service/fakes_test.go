package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"app/internal/model"
	"app/internal/repository"
)

// fakeUserRepo keeps users in memory and mirrors the store's debit
// semantics: only free-plan balances are decremented, clamped at zero.
type fakeUserRepo struct {
	mu       sync.Mutex
	users    map[string]*model.User
	debits   int
	debitErr error
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) UpdateProfile(ctx context.Context, userID, name, avatarURL string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u.Name = name
	u.AvatarURL = avatarURL
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) TouchLastLogin(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	return nil
}

func (r *fakeUserRepo) DebitCredits(ctx context.Context, userID string, amount int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.debitErr != nil {
		return 0, r.debitErr
	}
	u, ok := r.users[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if u.Plan != model.PlanFree {
		return u.CreditsLeft, nil
	}
	r.debits++
	u.CreditsLeft -= amount
	if u.CreditsLeft < 0 {
		u.CreditsLeft = 0
	}
	return u.CreditsLeft, nil
}

func (r *fakeUserRepo) debitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.debits
}

// fakeConversationRepo is an in-memory conversation and message store.
type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	seenKeys      map[string]bool
	nextID        int

	listRecentFailures int
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		seenKeys:      make(map[string]bool),
	}
}

func (r *fakeConversationRepo) id(prefix string) string {
	r.nextID++
	return fmt.Sprintf("%s-%d", prefix, r.nextID)
}

func (r *fakeConversationRepo) CreateConversation(ctx context.Context, userID, personaID, title string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	conv := &model.Conversation{
		ID:            r.id("conv"),
		UserID:        userID,
		PersonaID:     personaID,
		Title:         title,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	r.conversations[conv.ID] = conv
	return conv, nil
}

func (r *fakeConversationRepo) GetConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, repository.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (r *fakeConversationRepo) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ConversationSummary
	for _, conv := range r.conversations {
		if conv.UserID == userID {
			out = append(out, model.ConversationSummary{ID: conv.ID, Title: conv.Title, PersonaID: conv.PersonaID})
		}
	}
	return out, nil
}

func (r *fakeConversationRepo) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.conversations, conversationID)
	delete(r.messages, conversationID)
	return nil
}

func (r *fakeConversationRepo) CreateUserMessage(ctx context.Context, conv *model.Conversation, content, idempotencyKey string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idempotencyKey != "" {
		key := conv.ID + "/" + idempotencyKey
		if r.seenKeys[key] {
			return nil, repository.ErrDuplicateKey
		}
		r.seenKeys[key] = true
	}
	m := model.Message{
		ID:             r.id("msg"),
		UserID:         conv.UserID,
		PersonaID:      conv.PersonaID,
		ConversationID: conv.ID,
		Content:        content,
		IsUser:         true,
		CreatedAt:      time.Now(),
	}
	r.messages[conv.ID] = append(r.messages[conv.ID], m)
	if stored, ok := r.conversations[conv.ID]; ok {
		stored.LastMessageAt = m.CreatedAt
	}
	return &m, nil
}

func (r *fakeConversationRepo) AppendAssistantMessage(ctx context.Context, conv *model.Conversation, content string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := model.Message{
		ID:             r.id("msg"),
		UserID:         conv.UserID,
		PersonaID:      conv.PersonaID,
		ConversationID: conv.ID,
		Content:        content,
		IsUser:         false,
		CreatedAt:      time.Now(),
	}
	r.messages[conv.ID] = append(r.messages[conv.ID], m)
	if stored, ok := r.conversations[conv.ID]; ok {
		stored.LastMessageAt = m.CreatedAt
	}
	return &m, nil
}

func (r *fakeConversationRepo) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listRecentFailures > 0 {
		r.listRecentFailures--
		return nil, fmt.Errorf("transient store failure")
	}
	msgs := r.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *fakeConversationRepo) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, repository.ErrNotFound
	}
	msgs := r.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *fakeConversationRepo) messageCount(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[conversationID])
}

// fakePersonaRepo serves a fixed persona list.
type fakePersonaRepo struct {
	mu       sync.Mutex
	personas []model.Persona
	loads    int
}

func (r *fakePersonaRepo) ListPersonas(ctx context.Context) ([]model.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	out := make([]model.Persona, len(r.personas))
	copy(out, r.personas)
	return out, nil
}

func (r *fakePersonaRepo) GetPersonaByID(ctx context.Context, personaID string) (*model.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.personas {
		if p.ID == personaID {
			copied := p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakePersonaRepo) CreatePersona(ctx context.Context, p *model.Persona) (*model.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := *p
	created.ID = fmt.Sprintf("persona-%d", len(r.personas)+1)
	created.CreatedAt = time.Now()
	r.personas = append(r.personas, created)
	return &created, nil
}

func (r *fakePersonaRepo) UpdatePersona(ctx context.Context, p *model.Persona) (*model.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.personas {
		if r.personas[i].ID == p.ID {
			r.personas[i] = *p
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakePersonaRepo) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// fakeCompletionClient scripts provider behavior for orchestrator tests.
type fakeCompletionClient struct {
	mu        sync.Mutex
	fragments []string
	streamErr error
	truncate  bool
	abortErr  error
	calls     int
	lastCtx   []CompletionMessage

	completeText string
	completeErr  error
}

func (c *fakeCompletionClient) StreamCompletion(ctx context.Context, messages []CompletionMessage, params GenerationParams) (*CompletionStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastCtx = messages
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	if c.abortErr != nil {
		return newAbortedStream(c.fragments, c.abortErr), nil
	}
	return newScriptedStream(c.fragments, !c.truncate), nil
}

func (c *fakeCompletionClient) Complete(ctx context.Context, messages []CompletionMessage, params GenerationParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastCtx = messages
	return c.completeText, c.completeErr
}

func scriptSSE(fragments []string, terminated bool) string {
	var b strings.Builder
	for _, f := range fragments {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": f}}},
		})
		fmt.Fprintf(&b, "data: %s\n\n", payload)
	}
	if terminated {
		b.WriteString("data: [DONE]\n\n")
	}
	return b.String()
}

// newScriptedStream builds a real CompletionStream over an in-memory SSE
// body so tests exercise the production frame parsing.
func newScriptedStream(fragments []string, terminated bool) *CompletionStream {
	body := io.NopCloser(strings.NewReader(scriptSSE(fragments, terminated)))
	return &CompletionStream{
		body:   body,
		reader: bufio.NewReader(body),
		cancel: func() {},
	}
}

// errAfterReader yields its contents, then err in place of io.EOF.
type errAfterReader struct {
	r   io.Reader
	err error
}

func (r *errAfterReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, r.err
	}
	return n, err
}

// newAbortedStream delivers fragments and then fails the read, the way an
// expired stream deadline surfaces mid-turn.
func newAbortedStream(fragments []string, cause error) *CompletionStream {
	body := io.NopCloser(&errAfterReader{r: strings.NewReader(scriptSSE(fragments, false)), err: cause})
	return &CompletionStream{
		body:   body,
		reader: bufio.NewReader(body),
		cancel: func() {},
	}
}
