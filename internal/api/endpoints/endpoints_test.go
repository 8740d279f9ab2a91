package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/middleware"
	"support-desk-backend/internal/database"
	"support-desk-backend/internal/identity"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/conversation"
	"support-desk-backend/internal/service/escalation"
	"support-desk-backend/internal/service/queue"
	syncservice "support-desk-backend/internal/service/sync"
)

// store backs both repositories so endpoint tests exercise the real
// services end to end.
type store struct {
	mu            sync.Mutex
	conversations map[string]model.ConversationItem
	messages      []model.MessageItem
	entries       map[string]model.QueueEntryItem
}

func newStore() *store {
	return &store{
		conversations: make(map[string]model.ConversationItem),
		entries:       make(map[string]model.QueueEntryItem),
	}
}

type convRepo struct{ *store }

func (r convRepo) CreateConversationWithFirstMessage(_ context.Context, conv model.ConversationItem, message model.MessageItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conv.ConversationID] = conv
	r.messages = append(r.messages, message)
	return nil
}

func (r convRepo) GetConversation(_ context.Context, conversationID string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, conversation.ErrNotFound
	}
	return conv, nil
}

func (r convRepo) FindActiveConversationBySession(_ context.Context, sessionToken string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.conversations {
		if conv.SessionToken == sessionToken && conv.Status != model.ConversationStatusResolved {
			return conv, nil
		}
	}
	return model.ConversationItem{}, conversation.ErrNotFound
}

func (r convRepo) UpdateConversationStatus(_ context.Context, conversationID string, params conversation.UpdateStatusParams) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, conversation.ErrNotFound
	}
	conv.Status = params.Status
	conv.UpdatedAt = params.UpdatedAt
	if params.AssignedOperatorID != "" {
		conv.AssignedOperatorID = params.AssignedOperatorID
	}
	if params.ClearAssignment {
		conv.AssignedOperatorID = ""
	}
	if params.ResolvedAt != "" {
		conv.ResolvedAt = params.ResolvedAt
	}
	r.conversations[conversationID] = conv
	return conv, nil
}

func (r convRepo) TouchLastMessage(_ context.Context, conversationID, at string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return conversation.ErrNotFound
	}
	if conv.LastMessageAt >= at {
		return database.ErrConditionFailed
	}
	conv.LastMessageAt = at
	r.conversations[conversationID] = conv
	return nil
}

func (r convRepo) AllocateMessageSeq(_ context.Context, conversationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return 0, conversation.ErrNotFound
	}
	conv.LastSeq++
	r.conversations[conversationID] = conv
	return conv.LastSeq, nil
}

func (r convRepo) CreateMessageWithActivity(_ context.Context, message model.MessageItem, at string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[message.ConversationID]
	if !ok {
		return conversation.ErrNotFound
	}
	r.messages = append(r.messages, message)
	conv.LastMessageAt = at
	conv.UpdatedAt = at
	r.conversations[message.ConversationID] = conv
	return nil
}

func (r convRepo) ListMessages(_ context.Context, conversationID string) ([]model.MessageItem, error) {
	return r.listSince(conversationID, 0)
}

func (r convRepo) ListMessagesSince(_ context.Context, conversationID string, afterSeq int64) ([]model.MessageItem, error) {
	return r.listSince(conversationID, afterSeq)
}

func (r convRepo) listSince(conversationID string, afterSeq int64) ([]model.MessageItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.MessageItem
	for _, message := range r.messages {
		if message.ConversationID == conversationID && message.Seq > afterSeq {
			out = append(out, message)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r convRepo) DeleteMessagesOfType(_ context.Context, conversationID string, messageType model.MessageType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[:0]
	deleted := 0
	for _, message := range r.messages {
		if message.ConversationID == conversationID && message.Type == messageType {
			deleted++
			continue
		}
		kept = append(kept, message)
	}
	r.messages = kept
	return deleted, nil
}

type queueRepo struct{ *store }

func (r queueRepo) GetConversation(_ context.Context, conversationID string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, queue.ErrNotFound
	}
	return conv, nil
}

func (r queueRepo) MarkConversationWaiting(_ context.Context, conversationID string, priority model.Priority, at string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.Status != model.ConversationStatusActive {
		return database.ErrConditionFailed
	}
	conv.Status = model.ConversationStatusWaiting
	conv.Priority = priority
	conv.AssignedOperatorID = ""
	conv.UpdatedAt = at
	r.conversations[conversationID] = conv
	return nil
}

func (r queueRepo) ClaimConversation(_ context.Context, conversationID, operatorID, at string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.Status != model.ConversationStatusWaiting || conv.AssignedOperatorID != "" {
		return model.ConversationItem{}, database.ErrConditionFailed
	}
	conv.Status = model.ConversationStatusInProgress
	conv.AssignedOperatorID = operatorID
	conv.UpdatedAt = at
	r.conversations[conversationID] = conv
	return conv, nil
}

func (r queueRepo) ReleaseConversation(_ context.Context, conversationID, operatorID, at string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.Status != model.ConversationStatusInProgress || conv.AssignedOperatorID != operatorID {
		return model.ConversationItem{}, database.ErrConditionFailed
	}
	conv.Status = model.ConversationStatusWaiting
	conv.AssignedOperatorID = ""
	conv.UpdatedAt = at
	r.conversations[conversationID] = conv
	return conv, nil
}

func (r queueRepo) ResolveConversation(_ context.Context, conversationID, at string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.Status == model.ConversationStatusResolved {
		return model.ConversationItem{}, database.ErrConditionFailed
	}
	conv.Status = model.ConversationStatusResolved
	conv.AssignedOperatorID = ""
	conv.ResolvedAt = at
	conv.UpdatedAt = at
	r.conversations[conversationID] = conv
	return conv, nil
}

func (r queueRepo) PutQueueEntry(_ context.Context, entry model.QueueEntryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ConversationID] = entry
	return nil
}

func (r queueRepo) GetQueueEntry(_ context.Context, conversationID string) (model.QueueEntryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[conversationID]
	if !ok {
		return model.QueueEntryItem{}, queue.ErrNotFound
	}
	return entry, nil
}

func (r queueRepo) UpdateQueueEntry(_ context.Context, conversationID string, params queue.UpdateQueueEntryParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.entries[conversationID]
	entry.ConversationID = conversationID
	entry.Status = params.Status
	if params.AssignedOperatorID != "" {
		entry.AssignedOperatorID = params.AssignedOperatorID
	}
	if params.ClearAssignment {
		entry.AssignedOperatorID = ""
	}
	if params.QueuedAt != "" {
		entry.QueuedAt = params.QueuedAt
	}
	if params.ResolvedAt != "" {
		entry.ResolvedAt = params.ResolvedAt
	}
	r.entries[conversationID] = entry
	return nil
}

func (r queueRepo) ListQueueEntriesByStatus(_ context.Context, status model.ConversationStatus) ([]model.QueueEntryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.QueueEntryItem
	for _, entry := range r.entries {
		if entry.Status == status {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r queueRepo) ListQueueEntries(_ context.Context) ([]model.QueueEntryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.QueueEntryItem, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out, nil
}

type operatorDirectory struct {
	operators map[string]model.OperatorItem
}

func (d *operatorDirectory) GetOperator(_ context.Context, operatorID string) (model.OperatorItem, error) {
	op, ok := d.operators[operatorID]
	if !ok {
		return model.OperatorItem{}, identity.ErrNotFound
	}
	return op, nil
}

type stubGenerator struct {
	draft escalation.Draft
	err   error
}

func (g *stubGenerator) Propose(_ context.Context, _ model.ConversationItem, _ []model.MessageItem) (escalation.Draft, error) {
	if g.err != nil {
		return escalation.Draft{}, g.err
	}
	return g.draft, nil
}

const (
	widgetPrefix   = "/api/widget"
	operatorPrefix = "/api/operator"
	testJWTSecret  = "test-operator-secret"
)

type harness struct {
	store         *store
	conversations *conversation.Service
	queue         *queue.Service
	escalation    *escalation.Service
	widget        WidgetEndpoints
	operator      OperatorEndpoints
	auth          middleware.Middleware
}

func newHarness(t *testing.T, generator escalation.Generator) *harness {
	t.Helper()

	st := newStore()
	current := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	conversations := conversation.NewWithRepository(convRepo{st}, []byte("test-visitor-secret"), clock)
	queueService := queue.NewWithRepository(queueRepo{st}, nil, clock)
	syncService := syncservice.New(conversations)
	esc := escalation.New(conversations, queueService, generator, nil, nil)

	directory := &operatorDirectory{operators: map[string]model.OperatorItem{
		"op-1":     {OperatorID: "op-1", Role: model.RoleAdmin, Active: true},
		"op-2":     {OperatorID: "op-2", Role: model.RoleAdmin, Active: true},
		"viewer-1": {OperatorID: "viewer-1", Role: "viewer", Active: true},
	}}
	provider := identity.NewProvider([]byte(testJWTSecret), directory)

	return &harness{
		store:         st,
		conversations: conversations,
		queue:         queueService,
		escalation:    esc,
		widget:        NewWidgetEndpoints(conversations, syncService, esc, nil, widgetPrefix),
		operator:      NewOperatorEndpoints(conversations, queueService, syncService, esc, nil, nil, operatorPrefix),
		auth:          middleware.RequireOperator(provider),
	}
}

// render mimics the server's error handling without the worker pool.
func render(f func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			if httpErr, ok := err.(*HTTPError); ok {
				WriteJSON(w, httpErr.StatusCode, api.ApiError{Error: httpErr.Message})
				return
			}
			WriteJSON(w, http.StatusInternalServerError, api.ApiError{Error: "Internal server error"})
		}
	}
}

func (h *harness) widgetRequest(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()

	if req.URL.Path == widgetPrefix+"/conversations" {
		render(h.widget.HandleConversations)(rec, req)
	} else {
		render(h.widget.HandleConversationResources)(rec, req)
	}
	return rec
}

func (h *harness) operatorRequest(t *testing.T, operatorID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if operatorID != "" {
		token, err := identity.CreateToken(operatorID, []byte(testJWTSecret), time.Now().Add(time.Hour).Unix())
		if err != nil {
			t.Fatalf("CreateToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()

	var handler func(http.ResponseWriter, *http.Request) error
	switch {
	case req.URL.Path == operatorPrefix+"/queue":
		handler = h.operator.HandleQueue
	case strings.HasPrefix(req.URL.Path, operatorPrefix+"/queue/"):
		handler = h.operator.HandleQueueResources
	default:
		handler = h.operator.HandleConversationResources
	}

	h.auth(render(handler))(rec, req)
	return rec
}

func (h *harness) startConversation(t *testing.T, sessionToken, body string) (string, string) {
	t.Helper()
	result, err := h.conversations.Create(context.Background(), conversation.CreateParams{
		SessionToken: sessionToken,
		Body:         body,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return result.Conversation.ConversationID, result.VisitorToken
}

func appendUser(body string) conversation.AppendMessageParams {
	return conversation.AppendMessageParams{
		Type: model.MessageTypeUser,
		Body: body,
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}
