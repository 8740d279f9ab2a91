// Package escalation coordinates the hand-off from the automated assistant
// to human operators: queueing escalated conversations, drafting suggested
// replies and the approve/discard flow around those drafts.
package escalation

import (
	"context"
	"strings"
	"time"

	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/events"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/conversation"

	"go.uber.org/zap"
)

// ConversationAPI is the slice of the conversation service this coordinator
// needs.
type ConversationAPI interface {
	Get(ctx context.Context, conversationID string) (model.ConversationItem, error)
	AppendMessage(ctx context.Context, conversationID string, params conversation.AppendMessageParams) (model.MessageItem, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.MessageItem, error)
	DeleteMessagesOfType(ctx context.Context, conversationID string, messageType model.MessageType) (int, error)
}

type QueueAPI interface {
	Enqueue(ctx context.Context, conversationID string, priority model.Priority) (model.ConversationItem, error)
	Resolve(ctx context.Context, conversationID string) (model.ConversationItem, error)
}

type Draft struct {
	Content    string
	Confidence float64
}

// Generator proposes a reply for operators to review. Implementations talk
// to an LLM; the coordinator never blocks an escalation on one.
type Generator interface {
	Propose(ctx context.Context, conv model.ConversationItem, history []model.MessageItem) (Draft, error)
}

type EscalateParams struct {
	ConversationID string
	Priority       model.Priority
	Reason         string
}

type ApproveParams struct {
	ConversationID string
	OperatorID     string
	// Content overrides the draft body when set; empty means approve the
	// newest draft as-is.
	Content  string
	KeepOpen bool
}

type Service struct {
	conversations ConversationAPI
	queue         QueueAPI
	generator     Generator
	events        events.Publisher
	logger        *zap.Logger
	now           func() time.Time
}

func New(conversations ConversationAPI, queue QueueAPI, generator Generator, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NewFallbackPublisher(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		conversations: conversations,
		queue:         queue,
		generator:     generator,
		events:        publisher,
		logger:        logger,
		now:           time.Now,
	}
}

// Escalate moves a conversation into the operator queue, recording the
// reason in the log when one is given.
func (s *Service) Escalate(ctx context.Context, params EscalateParams) (model.ConversationItem, error) {
	conv, err := s.queue.Enqueue(ctx, params.ConversationID, params.Priority)
	if err != nil {
		return model.ConversationItem{}, err
	}

	if reason := strings.TrimSpace(params.Reason); reason != "" {
		if _, err := s.conversations.AppendMessage(ctx, conv.ConversationID, conversation.AppendMessageParams{
			Type: model.MessageTypeSystem,
			Body: "escalated to operator: " + reason,
		}); err != nil {
			s.logger.Warn("failed to record escalation reason",
				zap.String("conversationId", conv.ConversationID),
				zap.Error(err),
			)
		}
	}

	s.publish(ctx, events.RoutingKeyEscalated, events.Event{
		ConversationID: conv.ConversationID,
		Priority:       string(conv.Priority),
	})
	return conv, nil
}

// Recommend asks the generator for a draft reply and stores it as an
// llm_recommendation message. Generator failures are logged and swallowed;
// the conversation simply has no draft.
func (s *Service) Recommend(ctx context.Context, conversationID string) (*model.MessageItem, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.ConversationStatusResolved {
		return nil, errs.New(errs.CodeInvalidTransition, "conversation is resolved", nil)
	}
	if s.generator == nil {
		return nil, nil
	}

	history, err := s.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	draft, err := s.generator.Propose(ctx, conv, history)
	if err != nil {
		s.logger.Warn("recommendation generator failed",
			zap.String("conversationId", conversationID),
			zap.Error(err),
		)
		return nil, nil
	}
	if strings.TrimSpace(draft.Content) == "" {
		return nil, nil
	}

	message, err := s.conversations.AppendMessage(ctx, conversationID, conversation.AppendMessageParams{
		Type:       model.MessageTypeRecommendation,
		Body:       draft.Content,
		Confidence: draft.Confidence,
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// Approve turns a recommendation draft into a real operator reply: the
// content becomes an admin message, every pending draft is purged, and the
// conversation is resolved unless the operator keeps it open.
func (s *Service) Approve(ctx context.Context, params ApproveParams) (model.MessageItem, error) {
	if strings.TrimSpace(params.OperatorID) == "" {
		return model.MessageItem{}, errs.New(errs.CodeValidation, "operatorId is required", nil)
	}

	messages, err := s.conversations.ListMessages(ctx, params.ConversationID)
	if err != nil {
		return model.MessageItem{}, err
	}

	var newest *model.MessageItem
	for i := range messages {
		if messages[i].Type != model.MessageTypeRecommendation {
			continue
		}
		if newest == nil || messages[i].Seq > newest.Seq {
			newest = &messages[i]
		}
	}

	content := strings.TrimSpace(params.Content)
	parentID := ""
	if newest != nil {
		parentID = newest.MessageID
		if content == "" {
			content = newest.Body
		}
	}
	if content == "" {
		return model.MessageItem{}, errs.New(errs.CodeNotFound, "no recommendation draft to approve", nil)
	}

	reply, err := s.conversations.AppendMessage(ctx, params.ConversationID, conversation.AppendMessageParams{
		Type:             model.MessageTypeAdmin,
		Body:             content,
		AuthorOperatorID: params.OperatorID,
		ParentMessageID:  parentID,
	})
	if err != nil {
		return model.MessageItem{}, err
	}

	if _, err := s.conversations.DeleteMessagesOfType(ctx, params.ConversationID, model.MessageTypeRecommendation); err != nil {
		return model.MessageItem{}, err
	}

	if !params.KeepOpen {
		if _, err := s.queue.Resolve(ctx, params.ConversationID); err != nil {
			return model.MessageItem{}, err
		}
		s.publish(ctx, events.RoutingKeyResolved, events.Event{
			ConversationID: params.ConversationID,
			OperatorID:     params.OperatorID,
		})
	}

	s.publish(ctx, events.RoutingKeyApproved, events.Event{
		ConversationID: params.ConversationID,
		OperatorID:     params.OperatorID,
	})
	return reply, nil
}

// Discard drops every pending draft without touching the conversation
// status.
func (s *Service) Discard(ctx context.Context, conversationID, operatorID string) (int, error) {
	if strings.TrimSpace(operatorID) == "" {
		return 0, errs.New(errs.CodeValidation, "operatorId is required", nil)
	}
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return 0, err
	}

	deleted, err := s.conversations.DeleteMessagesOfType(ctx, conversationID, model.MessageTypeRecommendation)
	if err != nil {
		return 0, err
	}

	s.logger.Info("recommendation drafts discarded",
		zap.String("conversationId", conversationID),
		zap.String("operatorId", operatorID),
		zap.Int("deleted", deleted),
	)
	return deleted, nil
}

func (s *Service) publish(ctx context.Context, routingKey string, event events.Event) {
	event.OccurredAt = s.now().UTC().Format(time.RFC3339)
	if err := s.events.Publish(ctx, routingKey, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("routingKey", routingKey),
			zap.String("conversationId", event.ConversationID),
			zap.Error(err),
		)
	}
}
