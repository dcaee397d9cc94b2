package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateKey is returned when a message insert collides on the
// idempotency key, i.e. the client resubmitted an already-recorded turn.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// ConversationRepository is the durable store for conversations and their
// messages. Every read and write is scoped to the owning user.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, userID, personaID, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error

	// CreateUserMessage appends the human turn and advances the conversation's
	// last_message_at in one transaction. A non-empty idempotencyKey is unique
	// per conversation; a replayed key returns ErrDuplicateKey.
	CreateUserMessage(ctx context.Context, conv *model.Conversation, content, idempotencyKey string) (*model.Message, error)
	// AppendAssistantMessage appends the persona turn and advances the
	// conversation's last_message_at in one transaction.
	AppendAssistantMessage(ctx context.Context, conv *model.Conversation, content string) (*model.Message, error)
	// ListRecentMessages returns the latest limit messages in ascending
	// chronological order.
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]model.Message, error)
}

type conversationRepo struct {
	pool *pgxpool.Pool
}

// NewConversationRepo creates a new ConversationRepository.
func NewConversationRepo(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepo{pool: pool}
}

const conversationColumns = `id, user_id, persona_id, title, created_at, last_message_at`
const messageColumns = `id, user_id, persona_id, conversation_id, content, is_user, created_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.PersonaID, &c.Title, &c.CreatedAt, &c.LastMessageAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.UserID, &m.PersonaID, &m.ConversationID, &m.Content, &m.IsUser, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *conversationRepo) CreateConversation(ctx context.Context, userID, personaID, title string) (*model.Conversation, error) {
	q := `
		INSERT INTO conversations (user_id, persona_id, title)
		VALUES ($1, $2, $3)
		RETURNING ` + conversationColumns
	c, err := scanConversation(r.pool.QueryRow(ctx, q, userID, personaID, title))
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return c, nil
}

func (r *conversationRepo) GetConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 AND user_id = $2`
	c, err := scanConversation(r.pool.QueryRow(ctx, q, conversationID, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting conversation %s: %w", conversationID, err)
	}
	return c, nil
}

func (r *conversationRepo) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSummary, error) {
	// LATERAL join pulls the latest message preview per conversation in one
	// round trip instead of N+1 queries.
	q := `
		SELECT c.id, c.title, c.persona_id, p.name, p.avatar_url,
		       COALESCE(m.content, ''), c.last_message_at
		FROM conversations c
		JOIN personas p ON p.id = c.persona_id
		LEFT JOIN LATERAL (
			SELECT content FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC
			LIMIT 1
		) m ON TRUE
		WHERE c.user_id = $1
		ORDER BY c.last_message_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var summaries []model.ConversationSummary
	for rows.Next() {
		var s model.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.PersonaID, &s.PersonaName, &s.PersonaAvatarURL, &s.LastMessage, &s.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return summaries, nil
}

func (r *conversationRepo) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	// Messages cascade via the foreign key.
	q := `DELETE FROM conversations WHERE id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, q, conversationID, userID)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUserMessage commits the human turn and the conversation timestamp
// together, so recency ordering holds even when the turn later fails before
// an assistant reply is appended.
func (r *conversationRepo) CreateUserMessage(ctx context.Context, conv *model.Conversation, content, idempotencyKey string) (*model.Message, error) {
	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction for user message: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	q := `
		INSERT INTO messages (user_id, persona_id, conversation_id, content, is_user, idempotency_key)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (conversation_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING ` + messageColumns
	m, err := scanMessage(tx.QueryRow(ctx, q, conv.UserID, conv.PersonaID, conv.ID, content, key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// DO NOTHING swallowed the insert: the key was already recorded.
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating user message: %w", err)
	}

	const touch = `UPDATE conversations SET last_message_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, touch, conv.ID, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("advancing last_message_at for conversation %s: %w", conv.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing user message for conversation %s: %w", conv.ID, err)
	}
	return m, nil
}

// AppendAssistantMessage commits the persona reply and the conversation
// timestamp together so a reader never sees one without the other.
func (r *conversationRepo) AppendAssistantMessage(ctx context.Context, conv *model.Conversation, content string) (*model.Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction for assistant message: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	q := `
		INSERT INTO messages (user_id, persona_id, conversation_id, content, is_user)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING ` + messageColumns
	m, err := scanMessage(tx.QueryRow(ctx, q, conv.UserID, conv.PersonaID, conv.ID, content))
	if err != nil {
		return nil, fmt.Errorf("creating assistant message: %w", err)
	}

	const touch = `UPDATE conversations SET last_message_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, touch, conv.ID, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("advancing last_message_at for conversation %s: %w", conv.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing assistant message for conversation %s: %w", conv.ID, err)
	}
	return m, nil
}

// ListRecentMessages fetches the latest limit messages DESC and reverses
// them, so the caller always sees the window in chronological order.
func (r *conversationRepo) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *conversationRepo) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]model.Message, error) {
	// Ownership check first so a foreign conversation reads as not-found.
	if _, err := r.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
