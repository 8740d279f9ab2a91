// Package sync serves the polling protocol widgets and operator consoles use
// to follow a conversation. Clients hold a cursor, the highest sequence
// number they have seen, and fetch strictly newer messages with it.
package sync

import (
	"context"

	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/model"
)

// ConversationReader is the read-side of the conversation service.
type ConversationReader interface {
	Get(ctx context.Context, conversationID string) (model.ConversationItem, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.MessageItem, error)
	ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64) ([]model.MessageItem, error)
}

// Snapshot is one poll response. Cursor always reflects the conversation's
// latest sequence, even when every message in the delta was filtered out, so
// the client never refetches the same range.
type Snapshot struct {
	Status             model.ConversationStatus
	AssignedOperatorID string
	Cursor             int64
	Messages           []model.MessageItem
}

type Service struct {
	conversations ConversationReader
}

func New(conversations ConversationReader) *Service {
	return &Service{conversations: conversations}
}

// FetchFull returns the whole log plus the current conversation state.
// Recommendation drafts are internal and only included for operator views.
func (s *Service) FetchFull(ctx context.Context, conversationID string, includeDrafts bool) (Snapshot, error) {
	conversation, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return Snapshot{}, err
	}

	messages, err := s.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return Snapshot{}, err
	}

	return s.snapshot(conversation, messages, includeDrafts), nil
}

// FetchSince returns messages with sequence strictly greater than afterSeq.
// An up-to-date cursor yields an empty, valid delta.
func (s *Service) FetchSince(ctx context.Context, conversationID string, afterSeq int64, includeDrafts bool) (Snapshot, error) {
	if afterSeq < 0 {
		return Snapshot{}, errs.New(errs.CodeValidation, "cursor must not be negative", nil)
	}

	conversation, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return Snapshot{}, err
	}

	messages, err := s.conversations.ListMessagesSince(ctx, conversationID, afterSeq)
	if err != nil {
		return Snapshot{}, err
	}

	return s.snapshot(conversation, messages, includeDrafts), nil
}

func (s *Service) snapshot(conversation model.ConversationItem, messages []model.MessageItem, includeDrafts bool) Snapshot {
	// The conversation row is read before the messages, so an append that
	// lands in between can return a message with a sequence above the row's
	// counter. The cursor covers every returned message either way.
	cursor := conversation.LastSeq
	for _, message := range messages {
		if message.Seq > cursor {
			cursor = message.Seq
		}
	}

	filtered := messages
	if !includeDrafts {
		filtered = make([]model.MessageItem, 0, len(messages))
		for _, message := range messages {
			if message.Type == model.MessageTypeRecommendation {
				continue
			}
			filtered = append(filtered, message)
		}
	}

	return Snapshot{
		Status:             conversation.Status,
		AssignedOperatorID: conversation.AssignedOperatorID,
		Cursor:             cursor,
		Messages:           filtered,
	}
}
