package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/kb"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// fakeQuerySvc returns canned values for handler tests.
type fakeQuerySvc struct {
	attempt  *query.Attempt
	fresh    *query.Attempt
	manifest *query.Manifest
	page     *query.Page
	export   *query.Export
	attempts []*query.Attempt
	err      error
}

func (f *fakeQuerySvc) Generate(_ context.Context, userID string, conversationID uuid.UUID, question string, _ []*ai.Message) (*query.Attempt, error) {
	if f.err != nil && f.attempt == nil {
		return nil, f.err
	}
	return f.attempt, f.err
}

func (f *fakeQuerySvc) Rerun(context.Context, uuid.UUID, []*ai.Message) (*query.Attempt, error) {
	return f.fresh, f.err
}

func (f *fakeQuerySvc) Execute(context.Context, uuid.UUID) (*query.Attempt, *query.Manifest, error) {
	return f.attempt, f.manifest, f.err
}

func (f *fakeQuerySvc) Get(_ context.Context, id uuid.UUID) (*query.Attempt, error) {
	if f.attempt == nil || f.attempt.ID != id {
		return nil, fmt.Errorf("%w: %s", query.ErrAttemptNotFound, id)
	}
	return f.attempt, nil
}

func (f *fakeQuerySvc) List(context.Context, string, int, int) ([]*query.Attempt, error) {
	return f.attempts, f.err
}

func (f *fakeQuerySvc) ResultsPage(context.Context, uuid.UUID, int) (*query.Page, error) {
	return f.page, f.err
}

func (f *fakeQuerySvc) ExportCSV(context.Context, uuid.UUID) (*query.Export, error) {
	return f.export, f.err
}

// fakeConvStore is an in-memory ConversationStore.
type fakeConvStore struct {
	conversations map[uuid.UUID]*conversation.Conversation
	messages      []*conversation.Message
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{conversations: make(map[uuid.UUID]*conversation.Conversation)}
}

func (f *fakeConvStore) Create(_ context.Context, userID, title string) (*conversation.Conversation, error) {
	conv := &conversation.Conversation{ID: uuid.New(), UserID: userID, Title: title}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeConvStore) Get(_ context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", conversation.ErrNotFound, id)
	}
	return conv, nil
}

func (f *fakeConvStore) List(_ context.Context, userID string, _, _ int) ([]*conversation.Conversation, error) {
	var out []*conversation.Conversation
	for _, c := range f.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConvStore) Append(_ context.Context, conversationID, parentID uuid.UUID, role, content string, attemptID uuid.UUID) (*conversation.Message, error) {
	m := &conversation.Message{
		ID:              uuid.New(),
		ConversationID:  conversationID,
		ParentMessageID: parentID,
		Role:            role,
		Content:         content,
		AttemptID:       attemptID,
	}
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeConvStore) Messages(_ context.Context, conversationID uuid.UUID) ([]*conversation.Message, error) {
	var out []*conversation.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeConvStore) Window(context.Context, uuid.UUID, uuid.UUID, int) ([]*ai.Message, error) {
	return nil, nil
}

func newTestServer(t *testing.T, svc QueryService, conv ConversationStore) http.Handler {
	t.Helper()
	if conv == nil {
		conv = newFakeConvStore()
	}
	srv, err := NewServer(ServerConfig{
		Logger:        log.NewNop(),
		Query:         svc,
		Conversations: conv,
		RatePerMinute: 1000,
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return srv.Handler()
}

func doJSON(handler http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func sampleAttempt(userID string) *query.Attempt {
	return &query.Attempt{
		ID:           uuid.New(),
		UserID:       userID,
		Question:     "how many orders?",
		GeneratedSQL: "SELECT count(*) FROM orders;",
		Status:       query.StatusNotExecuted,
	}
}

func TestHealthEndpoints(t *testing.T) {
	handler := newTestServer(t, &fakeQuerySvc{}, nil)

	w := doJSON(handler, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET /health = %d", w.Code)
	}

	// Probes need no identity header.
	w = doJSON(handler, http.MethodGet, "/ready", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET /ready = %d", w.Code)
	}
}

func TestUserHeaderRequired(t *testing.T) {
	handler := newTestServer(t, &fakeQuerySvc{}, nil)

	w := doJSON(handler, http.MethodGet, "/api/v1/queries", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("GET without X-User-ID = %d, want 401", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "user_required" {
		t.Errorf("error code = %q", resp.Error)
	}
}

func TestRequestIDHeader(t *testing.T) {
	handler := newTestServer(t, &fakeQuerySvc{}, nil)

	w := doJSON(handler, http.MethodGet, "/api/v1/queries", "alice", nil)
	got := w.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("X-Request-ID = %q, not a UUID", got)
	}
}

func TestGenerate(t *testing.T) {
	svc := &fakeQuerySvc{attempt: sampleAttempt("alice")}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodPost, "/api/v1/queries", "alice",
		GenerateRequest{Question: "how many orders?"})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/v1/queries = %d, body %s", w.Code, w.Body.String())
	}
	var resp AttemptResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Attempt.GeneratedSQL != "SELECT count(*) FROM orders;" {
		t.Errorf("attempt = %+v", resp.Attempt)
	}
}

func TestGenerateQuestionLengthBounds(t *testing.T) {
	svc := &fakeQuerySvc{attempt: sampleAttempt("alice")}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodPost, "/api/v1/queries", "alice",
		GenerateRequest{Question: strings.Repeat("x", 4500)})
	if w.Code != http.StatusCreated {
		t.Fatalf("question of 4500 chars = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(handler, http.MethodPost, "/api/v1/queries", "alice",
		GenerateRequest{Question: strings.Repeat("x", MaxQuestionLength+1)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("question over %d chars = %d, want 400", MaxQuestionLength, w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "question_too_long" {
		t.Errorf("error code = %q", resp.Error)
	}
}

func TestGenerateRejectionEnvelope(t *testing.T) {
	attempt := sampleAttempt("alice")
	attempt.Status = query.StatusFailedGeneration
	attempt.GeneratedSQL = ""
	attempt.ErrorMessage = "sql rejected: forbidden keyword DROP"
	svc := &fakeQuerySvc{attempt: attempt, err: &query.RejectionError{Reason: "forbidden keyword DROP"}}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodPost, "/api/v1/queries", "alice",
		GenerateRequest{Question: "drop everything"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var resp AttemptResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Attempt == nil || resp.Attempt.Status != query.StatusFailedGeneration {
		t.Errorf("response attempt = %+v", resp.Attempt)
	}
	if !strings.Contains(resp.Error, "forbidden keyword") {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestGenerateUnknownConversation(t *testing.T) {
	svc := &fakeQuerySvc{attempt: sampleAttempt("alice")}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodPost, "/api/v1/queries", "alice",
		GenerateRequest{Question: "q", ConversationID: uuid.New()})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGenerateForeignConversation(t *testing.T) {
	conv := newFakeConvStore()
	other, _ := conv.Create(context.Background(), "bob", "bob's thread")
	svc := &fakeQuerySvc{attempt: sampleAttempt("alice")}
	handler := newTestServer(t, svc, conv)

	w := doJSON(handler, http.MethodPost, "/api/v1/queries", "alice",
		GenerateRequest{Question: "q", ConversationID: other.ID})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign conversation", w.Code)
	}
}

func TestGenerateAppendsConversationTurns(t *testing.T) {
	conv := newFakeConvStore()
	mine, _ := conv.Create(context.Background(), "alice", "")
	svc := &fakeQuerySvc{attempt: sampleAttempt("alice")}
	handler := newTestServer(t, svc, conv)

	w := doJSON(handler, http.MethodPost, "/api/v1/queries", "alice",
		GenerateRequest{Question: "how many orders?", ConversationID: mine.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if len(conv.messages) != 2 {
		t.Fatalf("messages appended = %d, want user + assistant", len(conv.messages))
	}
	if conv.messages[0].Role != conversation.RoleUser || conv.messages[1].Role != conversation.RoleAssistant {
		t.Errorf("roles = %s, %s", conv.messages[0].Role, conv.messages[1].Role)
	}
	if conv.messages[1].ParentMessageID != conv.messages[0].ID {
		t.Error("assistant turn is not a child of the user turn")
	}
	if conv.messages[1].AttemptID != svc.attempt.ID {
		t.Error("assistant turn does not reference the attempt")
	}
}

func TestExecuteConflict(t *testing.T) {
	attempt := sampleAttempt("alice")
	attempt.Status = query.StatusSuccess
	svc := &fakeQuerySvc{attempt: attempt, err: query.ErrAlreadyExecuted}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodPost, "/api/v1/queries/"+attempt.ID.String()+"/execute", "alice", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestAttemptOwnership(t *testing.T) {
	attempt := sampleAttempt("bob")
	svc := &fakeQuerySvc{attempt: attempt}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodGet, "/api/v1/queries/"+attempt.ID.String(), "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign attempt read = %d, want 404", w.Code)
	}
}

func TestInvalidAttemptID(t *testing.T) {
	handler := newTestServer(t, &fakeQuerySvc{}, nil)

	w := doJSON(handler, http.MethodGet, "/api/v1/queries/not-a-uuid", "alice", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestResults(t *testing.T) {
	attempt := sampleAttempt("alice")
	attempt.Status = query.StatusSuccess
	svc := &fakeQuerySvc{
		attempt: attempt,
		page: &query.Page{
			Page: 1, PageSize: 500, TotalRows: 2, TotalPages: 1,
			Columns: []string{"n"}, Rows: [][]any{{1.0}, {2.0}},
		},
	}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodGet, "/api/v1/queries/"+attempt.ID.String()+"/results?page=1", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var page query.Page
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.TotalRows != 2 || len(page.Rows) != 2 {
		t.Errorf("page = %+v", page)
	}
}

func TestExportHeaders(t *testing.T) {
	attempt := sampleAttempt("alice")
	attempt.Status = query.StatusSuccess
	svc := &fakeQuerySvc{
		attempt: attempt,
		export: &query.Export{
			Filename:  "results_" + attempt.ID.String() + ".csv",
			Data:      []byte("n\n1\n"),
			Rows:      1,
			Truncated: true,
		},
	}
	handler := newTestServer(t, svc, nil)

	w := doJSON(handler, http.MethodGet, "/api/v1/queries/"+attempt.ID.String()+"/export", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if w.Header().Get("X-Export-Truncated") != "true" {
		t.Error("X-Export-Truncated header missing")
	}
	if w.Body.String() != "n\n1\n" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestConversationEndpoints(t *testing.T) {
	handler := newTestServer(t, &fakeQuerySvc{}, nil)

	w := doJSON(handler, http.MethodPost, "/api/v1/conversations", "alice",
		CreateConversationRequest{Title: "revenue"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	var conv conversation.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if conv.Title != "revenue" {
		t.Errorf("title = %q", conv.Title)
	}

	w = doJSON(handler, http.MethodGet, "/api/v1/conversations", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}

	w = doJSON(handler, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), "bob", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign conversation read = %d, want 404", w.Code)
	}
}

func TestConversationTitleTooLong(t *testing.T) {
	handler := newTestServer(t, &fakeQuerySvc{}, nil)

	w := doJSON(handler, http.MethodPost, "/api/v1/conversations", "alice",
		CreateConversationRequest{Title: strings.Repeat("x", MaxTitleLength+1)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStatsWithoutBackends(t *testing.T) {
	handler := newTestServer(t, &fakeQuerySvc{}, nil)

	w := doJSON(handler, http.MethodGet, "/api/v1/stats", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

type stubCatalog struct{ stats schema.Stats }

func (s *stubCatalog) Refresh() error               { return nil }
func (s *stubCatalog) Stats() (schema.Stats, error) { return s.stats, nil }

type stubKB struct{ stats kb.Stats }

func (s *stubKB) Reload(context.Context) error { return nil }
func (s *stubKB) Stats() kb.Stats              { return s.stats }

func TestAdminEndpoints(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Logger:        log.NewNop(),
		Query:         &fakeQuerySvc{},
		Conversations: newFakeConvStore(),
		Catalog:       &stubCatalog{stats: schema.Stats{Tables: 12}},
		KB:            &stubKB{stats: kb.Stats{Examples: 4}},
	})
	if err != nil {
		t.Fatal(err)
	}
	handler := srv.Handler()

	w := doJSON(handler, http.MethodPost, "/api/v1/admin/schema/refresh", "admin", nil)
	if w.Code != http.StatusOK {
		t.Errorf("schema refresh = %d", w.Code)
	}
	w = doJSON(handler, http.MethodPost, "/api/v1/admin/kb/reload", "admin", nil)
	if w.Code != http.StatusOK {
		t.Errorf("kb reload = %d", w.Code)
	}
	w = doJSON(handler, http.MethodGet, "/api/v1/stats", "admin", nil)
	if w.Code != http.StatusOK {
		t.Errorf("stats = %d", w.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if _, ok := stats["schema"]; !ok {
		t.Error("stats missing schema section")
	}
	if _, ok := stats["knowledge_base"]; !ok {
		t.Error("stats missing knowledge_base section")
	}
}
