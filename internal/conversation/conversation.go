// Package conversation manages multi-turn chat threads around query attempts.
//
// Messages form a tree: each message points at its parent, so asking a
// different follow-up from an earlier point branches the thread instead of
// overwriting it. Model context is built by walking parent pointers from a
// leaf back to the root.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/sqlc"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidRole indicates a role outside user/assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrParentNotFound indicates the parent message is not part of the
	// conversation.
	ErrParentNotFound = errors.New("parent message not found")
)

// Conversation is a named thread owned by one user.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation. ParentMessageID is uuid.Nil for
// root messages; AttemptID links assistant turns to the attempt they
// produced.
type Message struct {
	ID              uuid.UUID `json:"id"`
	ConversationID  uuid.UUID `json:"conversation_id"`
	ParentMessageID uuid.UUID `json:"parent_message_id,omitzero"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	AttemptID       uuid.UUID `json:"attempt_id,omitzero"`
	CreatedAt       time.Time `json:"created_at"`
}

// Querier is the subset of generated queries the store needs.
type Querier interface {
	CreateConversation(ctx context.Context, arg sqlc.CreateConversationParams) (sqlc.Conversation, error)
	GetConversation(ctx context.Context, id pgtype.UUID) (sqlc.Conversation, error)
	ListConversations(ctx context.Context, arg sqlc.ListConversationsParams) ([]sqlc.Conversation, error)
	TouchConversation(ctx context.Context, id pgtype.UUID) error
	AddConversationMessage(ctx context.Context, arg sqlc.AddConversationMessageParams) (sqlc.ConversationMessage, error)
	ListConversationMessages(ctx context.Context, conversationID pgtype.UUID) ([]sqlc.ConversationMessage, error)
}

// Store persists conversations and their message trees.
type Store struct {
	q      Querier
	logger log.Logger
}

func NewStore(q Querier, logger log.Logger) *Store {
	return &Store{q: q, logger: logger}
}

// Create starts a new conversation. title may be empty.
func (s *Store) Create(ctx context.Context, userID, title string) (*Conversation, error) {
	var t *string
	if title != "" {
		t = &title
	}
	row, err := s.q.CreateConversation(ctx, sqlc.CreateConversationParams{UserID: userID, Title: t})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conversationFromRow(row), nil
}

// Get returns the conversation or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row, err := s.q.GetConversation(ctx, toPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return conversationFromRow(row), nil
}

// List returns the user's conversations, most recently active first.
func (s *Store) List(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error) {
	rows, err := s.q.ListConversations(ctx, sqlc.ListConversationsParams{
		UserID:       userID,
		ResultLimit:  int32(limit),
		ResultOffset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	out := make([]*Conversation, len(rows))
	for i, row := range rows {
		out[i] = conversationFromRow(row)
	}
	return out, nil
}

// Append adds a message to the conversation. A non-nil parentID must name an
// existing message in the same conversation; appending under an earlier
// message branches the thread. attemptID may be uuid.Nil.
func (s *Store) Append(ctx context.Context, conversationID, parentID uuid.UUID, role, content string, attemptID uuid.UUID) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	if parentID != uuid.Nil {
		messages, err := s.Messages(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		found := false
		for _, m := range messages {
			if m.ID == parentID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
		}
	}

	row, err := s.q.AddConversationMessage(ctx, sqlc.AddConversationMessageParams{
		ConversationID:  toPgUUID(conversationID),
		ParentMessageID: toPgUUID(parentID),
		Role:            role,
		Content:         content,
		AttemptID:       toPgUUID(attemptID),
	})
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	if err := s.q.TouchConversation(ctx, toPgUUID(conversationID)); err != nil {
		s.logger.Warn("touching conversation failed", "conversation_id", conversationID, "error", err)
	}
	return messageFromRow(row), nil
}

// Messages returns every message in the conversation, oldest first.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	rows, err := s.q.ListConversationMessages(ctx, toPgUUID(conversationID))
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	out := make([]*Message, len(rows))
	for i, row := range rows {
		out[i] = messageFromRow(row)
	}
	return out, nil
}

// Thread returns the path from the root to leafID, oldest first. A nil
// leafID means the most recently added message.
func (s *Store) Thread(ctx context.Context, conversationID, leafID uuid.UUID) ([]*Message, error) {
	messages, err := s.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	byID := make(map[uuid.UUID]*Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	leaf := messages[len(messages)-1]
	if leafID != uuid.Nil {
		var ok bool
		leaf, ok = byID[leafID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, leafID)
		}
	}

	var thread []*Message
	for m := leaf; m != nil; m = byID[m.ParentMessageID] {
		thread = append(thread, m)
		if m.ParentMessageID == uuid.Nil {
			break
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(thread)-1; i < j; i, j = i+1, j-1 {
		thread[i], thread[j] = thread[j], thread[i]
	}
	return thread, nil
}

// Window returns the last n turns of the thread ending at leafID as model
// messages, ready to pass to the generation pipeline.
func (s *Store) Window(ctx context.Context, conversationID, leafID uuid.UUID, n int) ([]*ai.Message, error) {
	thread, err := s.Thread(ctx, conversationID, leafID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(thread) > n {
		thread = thread[len(thread)-n:]
	}
	out := make([]*ai.Message, len(thread))
	for i, m := range thread {
		role := ai.RoleUser
		if m.Role == RoleAssistant {
			role = ai.RoleModel
		}
		out[i] = ai.NewTextMessage(role, m.Content)
	}
	return out, nil
}

func conversationFromRow(row sqlc.Conversation) *Conversation {
	c := &Conversation{
		ID:        fromPgUUID(row.ID),
		UserID:    row.UserID,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
	if row.Title != nil {
		c.Title = *row.Title
	}
	return c
}

func messageFromRow(row sqlc.ConversationMessage) *Message {
	return &Message{
		ID:              fromPgUUID(row.ID),
		ConversationID:  fromPgUUID(row.ConversationID),
		ParentMessageID: fromPgUUID(row.ParentMessageID),
		Role:            row.Role,
		Content:         row.Content,
		AttemptID:       fromPgUUID(row.AttemptID),
		CreatedAt:       row.CreatedAt.Time,
	}
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}
