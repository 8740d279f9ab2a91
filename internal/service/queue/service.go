// Package queue manages the waiting line of escalated conversations:
// ordering, claiming, release and resolution. The claim path is a
// compare-and-swap on the conversation row, so two operators can never hold
// the same conversation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/model"

	"go.uber.org/zap"
)

type WaitingEntry struct {
	Entry        model.QueueEntryItem
	Conversation model.ConversationItem
}

type Stats struct {
	Waiting              int     `json:"waiting"`
	InProgress           int     `json:"inProgress"`
	ResolvedToday        int     `json:"resolvedToday"`
	AvgResolutionSeconds float64 `json:"avgResolutionSeconds"`
}

type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time

	statsTTL    time.Duration
	statsMu     sync.Mutex
	cachedStats Stats
	statsAt     time.Time
}

func New(db *database.Database, logger *zap.Logger, statsTTL time.Duration) *Service {
	return newService(NewDynamoRepository(db), logger, time.Now, statsTTL)
}

func NewWithRepository(repo Repository, logger *zap.Logger, now func() time.Time) *Service {
	return newService(repo, logger, now, 15*time.Second)
}

func newService(repo Repository, logger *zap.Logger, now func() time.Time, statsTTL time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if statsTTL <= 0 {
		statsTTL = 15 * time.Second
	}
	return &Service{
		repo:     repo,
		logger:   logger,
		now:      now,
		statsTTL: statsTTL,
	}
}

// Enqueue puts an active conversation into the waiting line. A conversation
// that already has a live queue entry comes back as already_queued; a
// resolved one as invalid_transition.
func (s *Service) Enqueue(ctx context.Context, conversationID string, priority model.Priority) (model.ConversationItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, "conversationId is required", nil)
	}
	if priority == "" {
		priority = model.PriorityNormal
	}
	if !model.ValidPriority(priority) {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, fmt.Sprintf("unknown priority %q", priority), nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, errs.New(errs.CodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to fetch conversation", err)
	}

	switch conversation.Status {
	case model.ConversationStatusResolved:
		return model.ConversationItem{}, errs.New(errs.CodeInvalidTransition, "conversation is resolved", nil)
	case model.ConversationStatusWaiting, model.ConversationStatusInProgress:
		return model.ConversationItem{}, errs.New(errs.CodeAlreadyQueued, "conversation is already queued", nil)
	}

	if entry, err := s.repo.GetQueueEntry(ctx, conversationID); err == nil {
		if entry.Status != model.ConversationStatusResolved {
			return model.ConversationItem{}, errs.New(errs.CodeAlreadyQueued, "conversation is already queued", nil)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to check queue", err)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	if err := s.repo.MarkConversationWaiting(ctx, conversationID, priority, nowStr); err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.ConversationItem{}, errs.New(errs.CodeAlreadyQueued, "conversation is already queued", nil)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to update conversation", err)
	}

	entry := model.QueueEntryItem{
		ConversationID: conversationID,
		Status:         model.ConversationStatusWaiting,
		Priority:       priority,
		QueuedAt:       nowStr,
	}
	if err := s.repo.PutQueueEntry(ctx, entry); err != nil {
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to enqueue conversation", err)
	}

	conversation.Status = model.ConversationStatusWaiting
	conversation.Priority = priority
	conversation.AssignedOperatorID = ""
	conversation.UpdatedAt = nowStr

	s.logger.Info("conversation enqueued",
		zap.String("conversationId", conversationID),
		zap.String("priority", string(priority)),
	)
	return conversation, nil
}

// Claim hands a waiting conversation to one operator. The conditional write
// on the conversation row guarantees that out of any number of concurrent
// claims exactly one succeeds; the rest get already_claimed.
func (s *Service) Claim(ctx context.Context, conversationID, operatorID string) (model.ConversationItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	operatorID = strings.TrimSpace(operatorID)
	if conversationID == "" {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, "conversationId is required", nil)
	}
	if operatorID == "" {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, "operatorId is required", nil)
	}

	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, errs.New(errs.CodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to fetch conversation", err)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	conversation, err := s.repo.ClaimConversation(ctx, conversationID, operatorID, nowStr)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.ConversationItem{}, errs.New(errs.CodeAlreadyClaimed, "conversation no longer available", err)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to claim conversation", err)
	}

	if err := s.repo.UpdateQueueEntry(ctx, conversationID, UpdateQueueEntryParams{
		Status:             model.ConversationStatusInProgress,
		AssignedOperatorID: operatorID,
	}); err != nil {
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to update queue entry", err)
	}

	s.logger.Info("conversation claimed",
		zap.String("conversationId", conversationID),
		zap.String("operatorId", operatorID),
	)
	return conversation, nil
}

// Release puts a claimed conversation back into the waiting line. Only the
// assigned operator may release; the conversation re-queues at the back of
// its priority band.
func (s *Service) Release(ctx context.Context, conversationID, operatorID string) (model.ConversationItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	operatorID = strings.TrimSpace(operatorID)
	if conversationID == "" {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, "conversationId is required", nil)
	}
	if operatorID == "" {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, "operatorId is required", nil)
	}

	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, errs.New(errs.CodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to fetch conversation", err)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	conversation, err := s.repo.ReleaseConversation(ctx, conversationID, operatorID, nowStr)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.ConversationItem{}, errs.New(errs.CodeConflict, "conversation is not held by this operator", err)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to release conversation", err)
	}

	if err := s.repo.UpdateQueueEntry(ctx, conversationID, UpdateQueueEntryParams{
		Status:          model.ConversationStatusWaiting,
		ClearAssignment: true,
		QueuedAt:        nowStr,
	}); err != nil {
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to update queue entry", err)
	}

	s.logger.Info("conversation released",
		zap.String("conversationId", conversationID),
		zap.String("operatorId", operatorID),
	)
	return conversation, nil
}

// Resolve closes a conversation from any state. Repeated resolves are no-ops
// that return the stored row with its original resolvedAt.
func (s *Service) Resolve(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, "conversationId is required", nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, errs.New(errs.CodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to fetch conversation", err)
	}
	if conversation.Status == model.ConversationStatusResolved {
		return conversation, nil
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	resolved, err := s.repo.ResolveConversation(ctx, conversationID, nowStr)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			// lost a race against another resolve, the outcome is the same
			current, err := s.repo.GetConversation(ctx, conversationID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return model.ConversationItem{}, errs.New(errs.CodeNotFound, "conversation not found", err)
				}
				return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to fetch conversation", err)
			}
			return current, nil
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to resolve conversation", err)
	}

	if entry, err := s.repo.GetQueueEntry(ctx, conversationID); err == nil {
		if entry.Status != model.ConversationStatusResolved {
			if err := s.repo.UpdateQueueEntry(ctx, conversationID, UpdateQueueEntryParams{
				Status:          model.ConversationStatusResolved,
				ClearAssignment: true,
				ResolvedAt:      nowStr,
			}); err != nil {
				return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to finalize queue entry", err)
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to check queue", err)
	}

	s.logger.Info("conversation resolved", zap.String("conversationId", conversationID))
	return resolved, nil
}

// ListWaiting returns the waiting line in claim order: priority descending,
// then oldest first within a priority, conversation id as the final
// tie-break.
func (s *Service) ListWaiting(ctx context.Context) ([]WaitingEntry, error) {
	entries, err := s.repo.ListQueueEntriesByStatus(ctx, model.ConversationStatusWaiting)
	if err != nil {
		return nil, errs.New(errs.CodeStoreUnavailable, "failed to list queue", err)
	}

	out := make([]WaitingEntry, 0, len(entries))
	for _, entry := range entries {
		conversation, err := s.repo.GetConversation(ctx, entry.ConversationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn("queue entry without conversation",
					zap.String("conversationId", entry.ConversationID))
				continue
			}
			return nil, errs.New(errs.CodeStoreUnavailable, "failed to fetch conversation", err)
		}
		if conversation.Status != model.ConversationStatusWaiting {
			continue
		}
		out = append(out, WaitingEntry{Entry: entry, Conversation: conversation})
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := model.PriorityRank(out[i].Entry.Priority), model.PriorityRank(out[j].Entry.Priority)
		if ri != rj {
			return ri > rj
		}
		if out[i].Entry.QueuedAt != out[j].Entry.QueuedAt {
			return out[i].Entry.QueuedAt < out[j].Entry.QueuedAt
		}
		return out[i].Entry.ConversationID < out[j].Entry.ConversationID
	})
	return out, nil
}

// GetStats returns queue counters and the average time from enqueue to
// resolution. Results are cached briefly so the dashboard poll does not scan
// the table on every request.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	now := s.now()
	if !s.statsAt.IsZero() && now.Sub(s.statsAt) < s.statsTTL {
		return s.cachedStats, nil
	}

	entries, err := s.repo.ListQueueEntries(ctx)
	if err != nil {
		return Stats{}, errs.New(errs.CodeStoreUnavailable, "failed to list queue", err)
	}

	today := now.UTC().Format("2006-01-02")
	var stats Stats
	var totalSeconds float64
	var resolvedCount int

	for _, entry := range entries {
		switch entry.Status {
		case model.ConversationStatusWaiting:
			stats.Waiting++
		case model.ConversationStatusInProgress:
			stats.InProgress++
		case model.ConversationStatusResolved:
			if entry.ResolvedAt == "" {
				continue
			}
			if strings.HasPrefix(entry.ResolvedAt, today) {
				stats.ResolvedToday++
			}
			queuedAt, err1 := time.Parse(time.RFC3339, entry.QueuedAt)
			resolvedAt, err2 := time.Parse(time.RFC3339, entry.ResolvedAt)
			if err1 == nil && err2 == nil && !resolvedAt.Before(queuedAt) {
				totalSeconds += resolvedAt.Sub(queuedAt).Seconds()
				resolvedCount++
			}
		}
	}
	if resolvedCount > 0 {
		stats.AvgResolutionSeconds = totalSeconds / float64(resolvedCount)
	}

	s.cachedStats = stats
	s.statsAt = now
	return stats, nil
}
