package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// assembleRetries bounds the local retries of context-assembly reads before
// the turn fails. Store hiccups here must not surface as generation failures.
const assembleRetries = 2

// maxTitleRunes caps the conversation title derived from the first message.
const maxTitleRunes = 30

// TurnRequest is one incoming chat turn. ConversationID is empty on the
// first message to a persona; the server mints the conversation and returns
// its ID in the stream terminator. IdempotencyKey, when set by the client,
// makes resubmission of the same turn a detectable duplicate.
type TurnRequest struct {
	PersonaID      string
	Message        string
	ConversationID string
	IdempotencyKey string
}

// TurnResult summarizes a settled turn.
type TurnResult struct {
	Conversation     *model.Conversation
	UserMessage      *model.Message
	AssistantMessage *model.Message
	CreditsLeft      int
	LowBalance       bool
}

// ChatConfig carries the per-deployment chat tunables.
type ChatConfig struct {
	CreditCost    int
	ContextWindow int
	Params        GenerationParams
}

// ChatService runs the per-turn pipeline: gate on credits, assemble the
// bounded context, stream the completion, persist the exchange and debit
// exactly once. It also owns the conversation CRUD the chat UI needs.
type ChatService interface {
	// StreamTurn executes one turn, calling emit for every text fragment as
	// it arrives. An emit error (client gone) aborts the upstream call.
	StreamTurn(ctx context.Context, userID string, req TurnRequest, emit func(fragment string) error) (*TurnResult, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSummary, error)
	GetConversationMessages(ctx context.Context, conversationID, userID string, limit int) (*model.Conversation, []model.Message, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
}

type chatService struct {
	users         repository.UserRepository
	conversations repository.ConversationRepository
	personas      PersonaService
	credits       CreditService
	llm           CompletionClient
	cfg           ChatConfig
	logger        zerolog.Logger
}

// NewChatService creates the chat orchestrator.
func NewChatService(
	users repository.UserRepository,
	conversations repository.ConversationRepository,
	personas PersonaService,
	credits CreditService,
	llm CompletionClient,
	cfg ChatConfig,
	logger zerolog.Logger,
) ChatService {
	return &chatService{
		users:         users,
		conversations: conversations,
		personas:      personas,
		credits:       credits,
		llm:           llm,
		cfg:           cfg,
		logger:        logger.With().Str("service", "ChatService").Logger(),
	}
}

func (s *chatService) StreamTurn(ctx context.Context, userID string, req TurnRequest, emit func(string) error) (*TurnResult, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	persona, err := s.personas.Resolve(ctx, req.PersonaID)
	if err != nil {
		return nil, err
	}
	if err := s.personas.Authorize(ctx, user.Plan, persona.ID); err != nil {
		return nil, err
	}

	// Resolve an existing conversation before gating so ownership failures
	// read as not-found rather than payment-required.
	var conv *model.Conversation
	if req.ConversationID != "" {
		conv, err = s.conversations.GetConversation(ctx, req.ConversationID, user.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, fmt.Errorf("loading conversation: %w", err)
		}
		if conv.PersonaID != persona.ID {
			return nil, ErrConversationNotFound
		}
	}

	// Gate. Nothing is persisted and no provider call is made for a denied
	// turn. The reservation is settled by exactly one Debit or Release.
	allowance, err := s.credits.Check(user, s.cfg.CreditCost)
	if err != nil {
		return nil, err
	}
	settled := allowance.Unlimited
	defer func() {
		if !settled {
			s.credits.Release(user.ID, s.cfg.CreditCost)
		}
	}()

	if conv == nil {
		conv, err = s.conversations.CreateConversation(ctx, user.ID, persona.ID, titleFromMessage(req.Message))
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
	}

	// Snapshot the context window before appending the new turn, so the new
	// message appears exactly once, as the final turn.
	var history []model.Message
	for attempt := 0; ; attempt++ {
		history, err = s.conversations.ListRecentMessages(ctx, conv.ID, s.cfg.ContextWindow)
		if err == nil {
			break
		}
		if attempt == assembleRetries {
			return nil, fmt.Errorf("assembling context for conversation %s: %w", conv.ID, err)
		}
		s.logger.Warn().Err(err).Str("conversation_id", conv.ID).Int("attempt", attempt+1).Msg("Context read failed, retrying")
	}

	// The user's message is durable from here on, whatever the generation
	// outcome.
	userMsg, err := s.conversations.CreateUserMessage(ctx, conv, req.Message, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrDuplicateMessage
		}
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	stream, err := s.llm.StreamCompletion(ctx, s.buildContext(persona, history, req.Message), s.cfg.Params)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("Completion call failed")
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, err)
	}
	defer stream.Close()

	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("Completion stream failed")
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, err)
		}
		if err := emit(fragment); err != nil {
			// Client is gone; closing the stream cancels the provider call.
			return nil, fmt.Errorf("relaying fragment: %w", err)
		}
	}

	assistantMsg, err := s.conversations.AppendAssistantMessage(ctx, conv, stream.Text())
	if err != nil {
		// The user message is already durable; surface the failure so the
		// client can prompt a retry instead of assuming success.
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	settled = true
	balance, err := s.credits.Debit(ctx, user, s.cfg.CreditCost)
	if err != nil {
		// The content is recorded; an undercharge here beats failing the
		// completed turn.
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Debit after completed turn failed")
		balance = user.CreditsLeft
	}

	return &TurnResult{
		Conversation:     conv,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		CreditsLeft:      balance,
		LowBalance:       allowance.LowBalance,
	}, nil
}

// buildContext assembles the ordered prompt: persona instructions, then the
// window of prior turns oldest-first, then the new message as the final turn.
func (s *chatService) buildContext(persona *model.Persona, history []model.Message, newMessage string) []CompletionMessage {
	msgs := make([]CompletionMessage, 0, len(history)+2)
	msgs = append(msgs, CompletionMessage{Role: "system", Content: persona.PromptTemplate})
	for _, m := range history {
		role := "assistant"
		if m.IsUser {
			role = "user"
		}
		msgs = append(msgs, CompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, CompletionMessage{Role: "user", Content: newMessage})
	return msgs
}

func (s *chatService) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSummary, error) {
	summaries, err := s.conversations.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list conversations")
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return summaries, nil
}

func (s *chatService) GetConversationMessages(ctx context.Context, conversationID, userID string, limit int) (*model.Conversation, []model.Message, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrConversationNotFound
		}
		return nil, nil, fmt.Errorf("getting conversation: %w", err)
	}
	messages, err := s.conversations.ListMessages(ctx, conversationID, userID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("listing messages: %w", err)
	}
	return conv, messages, nil
}

func (s *chatService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if err := s.conversations.DeleteConversation(ctx, conversationID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrConversationNotFound
		}
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to delete conversation")
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

func titleFromMessage(message string) string {
	if utf8.RuneCountInString(message) <= maxTitleRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxTitleRunes]) + "..."
}
