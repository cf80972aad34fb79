package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/sqlc"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type fakeQuerier struct {
	conversations map[uuid.UUID]sqlc.Conversation
	messages      []sqlc.ConversationMessage
	touched       int
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{conversations: make(map[uuid.UUID]sqlc.Conversation)}
}

func (f *fakeQuerier) CreateConversation(_ context.Context, arg sqlc.CreateConversationParams) (sqlc.Conversation, error) {
	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	row := sqlc.Conversation{
		ID:        pgtype.UUID{Bytes: uuid.New(), Valid: true},
		UserID:    arg.UserID,
		Title:     arg.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.conversations[uuid.UUID(row.ID.Bytes)] = row
	return row, nil
}

func (f *fakeQuerier) GetConversation(_ context.Context, id pgtype.UUID) (sqlc.Conversation, error) {
	row, ok := f.conversations[uuid.UUID(id.Bytes)]
	if !ok {
		return sqlc.Conversation{}, pgx.ErrNoRows
	}
	return row, nil
}

func (f *fakeQuerier) ListConversations(_ context.Context, arg sqlc.ListConversationsParams) ([]sqlc.Conversation, error) {
	var out []sqlc.Conversation
	for _, row := range f.conversations {
		if row.UserID == arg.UserID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeQuerier) TouchConversation(context.Context, pgtype.UUID) error {
	f.touched++
	return nil
}

func (f *fakeQuerier) AddConversationMessage(_ context.Context, arg sqlc.AddConversationMessageParams) (sqlc.ConversationMessage, error) {
	row := sqlc.ConversationMessage{
		ID:              pgtype.UUID{Bytes: uuid.New(), Valid: true},
		ConversationID:  arg.ConversationID,
		ParentMessageID: arg.ParentMessageID,
		Role:            arg.Role,
		Content:         arg.Content,
		AttemptID:       arg.AttemptID,
		CreatedAt:       pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	f.messages = append(f.messages, row)
	return row, nil
}

func (f *fakeQuerier) ListConversationMessages(_ context.Context, conversationID pgtype.UUID) ([]sqlc.ConversationMessage, error) {
	var out []sqlc.ConversationMessage
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func newTestStore() (*Store, *fakeQuerier) {
	q := newFakeQuerier()
	return NewStore(q, log.NewNop()), q
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore()

	conv, err := store.Create(context.Background(), "alice", "revenue digging")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if conv.Title != "revenue digging" || conv.UserID != "alice" {
		t.Errorf("conversation = %+v", conv)
	}

	got, err := store.Get(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != conv.ID {
		t.Error("Get() returned a different conversation")
	}

	if _, err := store.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAppendValidation(t *testing.T) {
	store, _ := newTestStore()
	conv, err := store.Create(context.Background(), "alice", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Append(context.Background(), conv.ID, uuid.Nil, "system", "x", uuid.Nil); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("bad role error = %v, want ErrInvalidRole", err)
	}
	if _, err := store.Append(context.Background(), uuid.New(), uuid.Nil, RoleUser, "x", uuid.Nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing conversation error = %v, want ErrNotFound", err)
	}
	if _, err := store.Append(context.Background(), conv.ID, uuid.New(), RoleUser, "x", uuid.Nil); !errors.Is(err, ErrParentNotFound) {
		t.Errorf("missing parent error = %v, want ErrParentNotFound", err)
	}
}

func TestAppendTouchesConversation(t *testing.T) {
	store, q := newTestStore()
	conv, err := store.Create(context.Background(), "alice", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Append(context.Background(), conv.ID, uuid.Nil, RoleUser, "hello", uuid.Nil); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if q.touched != 1 {
		t.Errorf("touched = %d, want 1", q.touched)
	}
}

// buildThread appends user/assistant pairs and returns the message IDs in
// order.
func buildThread(t *testing.T, store *Store, convID uuid.UUID, contents ...string) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	parent := uuid.Nil
	for i, content := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		m, err := store.Append(context.Background(), convID, parent, role, content, uuid.Nil)
		if err != nil {
			t.Fatalf("appending %q: %v", content, err)
		}
		ids = append(ids, m.ID)
		parent = m.ID
	}
	return ids
}

func TestThreadLinear(t *testing.T) {
	store, _ := newTestStore()
	conv, err := store.Create(context.Background(), "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	ids := buildThread(t, store, conv.ID, "q1", "a1", "q2", "a2")

	thread, err := store.Thread(context.Background(), conv.ID, uuid.Nil)
	if err != nil {
		t.Fatalf("Thread() error: %v", err)
	}
	if len(thread) != 4 {
		t.Fatalf("thread length = %d, want 4", len(thread))
	}
	for i, m := range thread {
		if m.ID != ids[i] {
			t.Errorf("thread[%d] = %s, want %s", i, m.ID, ids[i])
		}
	}
}

func TestThreadBranching(t *testing.T) {
	store, _ := newTestStore()
	conv, err := store.Create(context.Background(), "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	ids := buildThread(t, store, conv.ID, "q1", "a1", "q2", "a2")

	// Branch from a1 with a different follow-up.
	branch, err := store.Append(context.Background(), conv.ID, ids[1], RoleUser, "q2-alt", uuid.Nil)
	if err != nil {
		t.Fatalf("branching: %v", err)
	}

	thread, err := store.Thread(context.Background(), conv.ID, branch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 3 {
		t.Fatalf("branch thread length = %d, want 3", len(thread))
	}
	if thread[2].Content != "q2-alt" || thread[1].Content != "a1" || thread[0].Content != "q1" {
		t.Errorf("branch thread = [%s %s %s]", thread[0].Content, thread[1].Content, thread[2].Content)
	}

	// The original branch is still intact.
	orig, err := store.Thread(context.Background(), conv.ID, ids[3])
	if err != nil {
		t.Fatal(err)
	}
	if len(orig) != 4 || orig[3].Content != "a2" {
		t.Errorf("original thread damaged: %d messages", len(orig))
	}
}

func TestWindow(t *testing.T) {
	store, _ := newTestStore()
	conv, err := store.Create(context.Background(), "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	buildThread(t, store, conv.ID, "q1", "a1", "q2", "a2", "q3", "a3")

	window, err := store.Window(context.Background(), conv.ID, uuid.Nil, 4)
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if len(window) != 4 {
		t.Fatalf("window length = %d, want 4", len(window))
	}
	if window[0].Role != ai.RoleUser || window[0].Content[0].Text != "q2" {
		t.Errorf("window[0] = %s %q", window[0].Role, window[0].Content[0].Text)
	}
	if window[3].Role != ai.RoleModel || window[3].Content[0].Text != "a3" {
		t.Errorf("window[3] = %s %q", window[3].Role, window[3].Content[0].Text)
	}
}

func TestWindowEmptyConversation(t *testing.T) {
	store, _ := newTestStore()
	conv, err := store.Create(context.Background(), "alice", "")
	if err != nil {
		t.Fatal(err)
	}

	window, err := store.Window(context.Background(), conv.ID, uuid.Nil, 10)
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if len(window) != 0 {
		t.Errorf("window length = %d, want 0", len(window))
	}
}
