package escalation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/events"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/conversation"
	"support-desk-backend/internal/service/queue"
)

// store backs both repositories so the coordinator tests run against the
// real conversation and queue services.
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

type stubGenerator struct {
	draft Draft
	err   error
	calls int
}

func (g *stubGenerator) Propose(_ context.Context, _ model.ConversationItem, _ []model.MessageItem) (Draft, error) {
	g.calls++
	if g.err != nil {
		return Draft{}, g.err
	}
	return g.draft, nil
}

type capturePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, _ events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type fixture struct {
	store         *store
	conversations *conversation.Service
	queue         *queue.Service
	generator     *stubGenerator
	publisher     *capturePublisher
	service       *Service
}

func newFixture(generator *stubGenerator) *fixture {
	st := newStore()
	current := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		current = current.Add(time.Second)
		return current
	}
	conversations := conversation.NewWithRepository(convRepo{st}, []byte("test-visitor-secret"), clock)
	queueSvc := queue.NewWithRepository(queueRepo{st}, nil, clock)
	publisher := &capturePublisher{}

	var gen Generator
	if generator != nil {
		gen = generator
	}
	return &fixture{
		store:         st,
		conversations: conversations,
		queue:         queueSvc,
		generator:     generator,
		publisher:     publisher,
		service:       New(conversations, queueSvc, gen, publisher, nil),
	}
}

func (f *fixture) startConversation(t *testing.T, body string) string {
	t.Helper()
	result, err := f.conversations.Create(context.Background(), conversation.CreateParams{
		SessionToken: "session-1",
		Body:         body,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return result.Conversation.ConversationID
}

func TestEscalate(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	id := f.startConversation(t, "Halo")

	conv, err := f.service.Escalate(ctx, EscalateParams{
		ConversationID: id,
		Priority:       model.PriorityHigh,
		Reason:         "assistant could not answer",
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if conv.Status != model.ConversationStatusWaiting {
		t.Errorf("status = %s, want waiting", conv.Status)
	}

	messages, err := f.conversations.ListMessages(ctx, id)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	last := messages[len(messages)-1]
	if last.Type != model.MessageTypeSystem {
		t.Errorf("last message type = %s, want system", last.Type)
	}

	if len(f.publisher.keys) == 0 || f.publisher.keys[0] != events.RoutingKeyEscalated {
		t.Errorf("published keys = %v, want escalated first", f.publisher.keys)
	}

	_, err = f.service.Escalate(ctx, EscalateParams{ConversationID: id})
	if !errs.Is(err, errs.CodeAlreadyQueued) {
		t.Fatalf("second escalate: expected already_queued, got %v", err)
	}
}

func TestRecommendStoresDraft(t *testing.T) {
	f := newFixture(&stubGenerator{draft: Draft{Content: "Try restarting the app.", Confidence: 0.82}})
	ctx := context.Background()
	id := f.startConversation(t, "app is broken")

	draft, err := f.service.Recommend(ctx, id)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if draft == nil {
		t.Fatal("expected a draft message")
	}
	if draft.Type != model.MessageTypeRecommendation {
		t.Errorf("type = %s, want llm_recommendation", draft.Type)
	}
	if draft.Confidence != 0.82 {
		t.Errorf("confidence = %f, want 0.82", draft.Confidence)
	}
}

func TestRecommendSwallowsGeneratorFailure(t *testing.T) {
	f := newFixture(&stubGenerator{err: errors.New("model overloaded")})
	ctx := context.Background()
	id := f.startConversation(t, "help")

	draft, err := f.service.Recommend(ctx, id)
	if err != nil {
		t.Fatalf("generator failure must not surface: %v", err)
	}
	if draft != nil {
		t.Fatalf("expected no draft, got %v", draft)
	}

	messages, err := f.conversations.ListMessages(ctx, id)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for _, message := range messages {
		if message.Type == model.MessageTypeRecommendation {
			t.Error("failed generation left a draft behind")
		}
	}
}

func TestRecommendOnResolved(t *testing.T) {
	f := newFixture(&stubGenerator{draft: Draft{Content: "late"}})
	ctx := context.Background()
	id := f.startConversation(t, "help")

	if _, err := f.queue.Resolve(ctx, id); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	_, err := f.service.Recommend(ctx, id)
	if !errs.Is(err, errs.CodeInvalidTransition) {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
	if f.generator.calls != 0 {
		t.Error("generator called for resolved conversation")
	}
}

func TestApproveResolvesAndPurgesDrafts(t *testing.T) {
	f := newFixture(&stubGenerator{draft: Draft{Content: "Suggested reply.", Confidence: 0.7}})
	ctx := context.Background()
	id := f.startConversation(t, "help")

	if _, err := f.service.Escalate(ctx, EscalateParams{ConversationID: id}); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if _, err := f.queue.Claim(ctx, id, "op-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.service.Recommend(ctx, id); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	reply, err := f.service.Approve(ctx, ApproveParams{
		ConversationID: id,
		OperatorID:     "op-1",
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if reply.Type != model.MessageTypeAdmin {
		t.Errorf("reply type = %s, want admin", reply.Type)
	}
	if reply.Body != "Suggested reply." {
		t.Errorf("reply body = %q, want draft content", reply.Body)
	}
	if reply.AuthorOperatorID != "op-1" {
		t.Errorf("author = %q, want op-1", reply.AuthorOperatorID)
	}

	conv, err := f.conversations.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.Status != model.ConversationStatusResolved {
		t.Errorf("status = %s, want resolved", conv.Status)
	}

	messages, err := f.conversations.ListMessages(ctx, id)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for _, message := range messages {
		if message.Type == model.MessageTypeRecommendation {
			t.Error("draft survived approval")
		}
	}
}

func TestApproveKeepOpen(t *testing.T) {
	f := newFixture(&stubGenerator{draft: Draft{Content: "Suggested reply.", Confidence: 0.7}})
	ctx := context.Background()
	id := f.startConversation(t, "help")

	if _, err := f.service.Escalate(ctx, EscalateParams{ConversationID: id}); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if _, err := f.queue.Claim(ctx, id, "op-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.service.Recommend(ctx, id); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	reply, err := f.service.Approve(ctx, ApproveParams{
		ConversationID: id,
		OperatorID:     "op-1",
		Content:        "Edited before sending.",
		KeepOpen:       true,
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if reply.Body != "Edited before sending." {
		t.Errorf("reply body = %q, want override", reply.Body)
	}

	conv, err := f.conversations.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.Status != model.ConversationStatusInProgress {
		t.Errorf("status = %s, want in_progress to stay", conv.Status)
	}
}

func TestApproveWithoutDraft(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	id := f.startConversation(t, "help")

	_, err := f.service.Approve(ctx, ApproveParams{ConversationID: id, OperatorID: "op-1"})
	if !errs.Is(err, errs.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestDiscardLeavesStatus(t *testing.T) {
	f := newFixture(&stubGenerator{draft: Draft{Content: "draft", Confidence: 0.5}})
	ctx := context.Background()
	id := f.startConversation(t, "help")

	if _, err := f.service.Escalate(ctx, EscalateParams{ConversationID: id}); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if _, err := f.service.Recommend(ctx, id); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	deleted, err := f.service.Discard(ctx, id, "op-1")
	if err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	conv, err := f.conversations.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.Status != model.ConversationStatusWaiting {
		t.Errorf("status = %s, discard must not change it", conv.Status)
	}
}

// Full hand-off: visitor opens, assistant gives up, operator claims,
// answers and resolves. A second resolve changes nothing.
func TestOperatorHandoffScenario(t *testing.T) {
	f := newFixture(&stubGenerator{draft: Draft{Content: "Hai, ada yang bisa dibantu?", Confidence: 0.9}})
	ctx := context.Background()

	result, err := f.conversations.Create(ctx, conversation.CreateParams{
		SessionToken: "session-xyz",
		Body:         "Halo",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := result.Conversation.ConversationID

	if _, err := f.service.Escalate(ctx, EscalateParams{
		ConversationID: id,
		Priority:       model.PriorityNormal,
		Reason:         "no automated answer",
	}); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	waiting, err := f.queue.ListWaiting(ctx)
	if err != nil {
		t.Fatalf("ListWaiting: %v", err)
	}
	if len(waiting) != 1 || waiting[0].Conversation.ConversationID != id {
		t.Fatalf("waiting = %v, want the escalated conversation", waiting)
	}

	if _, err := f.queue.Claim(ctx, id, "op-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.service.Recommend(ctx, id); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	reply, err := f.service.Approve(ctx, ApproveParams{ConversationID: id, OperatorID: "op-1"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if reply.Body != "Hai, ada yang bisa dibantu?" {
		t.Errorf("reply body = %q", reply.Body)
	}

	resolved, err := f.conversations.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Status != model.ConversationStatusResolved {
		t.Fatalf("status = %s, want resolved", resolved.Status)
	}

	again, err := f.queue.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.ResolvedAt != resolved.ResolvedAt {
		t.Errorf("resolvedAt changed on repeat: %s -> %s", resolved.ResolvedAt, again.ResolvedAt)
	}
}
