// Package conversation owns the conversation registry and its append-only
// message log. Status transitions, sequence allocation and visitor access
// tokens all live here; queueing and escalation build on top of it.
package conversation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/errs"
	"support-desk-backend/internal/model"

	"github.com/google/uuid"
)

type CreateParams struct {
	SessionToken string
	Body         string
	Metadata     map[string]string
	// EnforceUniqueSession rejects creation while the session already has a
	// non-resolved conversation.
	EnforceUniqueSession bool
}

type CreateResult struct {
	Conversation model.ConversationItem
	VisitorToken string
	Message      model.MessageItem
}

type AppendMessageParams struct {
	Type             model.MessageType
	Body             string
	Confidence       float64
	AuthorOperatorID string
	ParentMessageID  string
}

type SetStatusParams struct {
	Target             model.ConversationStatus
	AssignedOperatorID string
}

type VisitorAccess struct {
	ConversationID string
	SessionToken   string
}

// allowedTransitions is the full transition relation of the registry.
// resolved is terminal; a repeated resolve is absorbed before this map is
// consulted.
var allowedTransitions = map[model.ConversationStatus][]model.ConversationStatus{
	model.ConversationStatusActive:     {model.ConversationStatusWaiting, model.ConversationStatusResolved},
	model.ConversationStatusWaiting:    {model.ConversationStatusInProgress, model.ConversationStatusResolved},
	model.ConversationStatusInProgress: {model.ConversationStatusWaiting, model.ConversationStatusResolved},
	model.ConversationStatusResolved:   {},
}

func transitionAllowed(from, to model.ConversationStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

const defaultVisitorTokenTTL = 7 * 24 * time.Hour

// Service carries the visitor token secret as injected state; nothing here
// reads process-level configuration.
type Service struct {
	repo        Repository
	now         func() time.Time
	tokenSecret []byte
	tokenTTL    time.Duration
}

type visitorTokenClaims struct {
	ConversationID string `json:"conversationId"`
	SessionToken   string `json:"sessionToken"`
	IssuedAt       int64  `json:"iat"`
	ExpiresAt      int64  `json:"exp"`
}

func New(db *database.Database, visitorSecret []byte) *Service {
	return NewWithRepository(NewDynamoRepository(db), visitorSecret, time.Now)
}

func NewWithRepository(repo Repository, visitorSecret []byte, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(visitorSecret))
	copy(secret, visitorSecret)
	return &Service{
		repo:        repo,
		now:         now,
		tokenSecret: secret,
		tokenTTL:    defaultVisitorTokenTTL,
	}
}

// Create opens a new conversation in status active with the visitor's first
// message at sequence 1 and returns a signed visitor token for it.
func (s *Service) Create(ctx context.Context, params CreateParams) (CreateResult, error) {
	sessionToken := strings.TrimSpace(params.SessionToken)
	body := strings.TrimSpace(params.Body)

	if sessionToken == "" {
		return CreateResult{}, errs.New(errs.CodeValidation, "sessionToken is required", nil)
	}
	if body == "" {
		return CreateResult{}, errs.New(errs.CodeValidation, "message body is required", nil)
	}

	if params.EnforceUniqueSession {
		if existing, err := s.repo.FindActiveConversationBySession(ctx, sessionToken); err == nil {
			return CreateResult{}, errs.New(errs.CodeConflict,
				fmt.Sprintf("session already has open conversation %s", existing.ConversationID), nil)
		} else if !errors.Is(err, ErrNotFound) {
			return CreateResult{}, errs.New(errs.CodeStoreUnavailable, "failed to check session", err)
		}
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)
	conversationID := uuid.NewString()

	conversation := model.ConversationItem{
		ConversationID: conversationID,
		SessionToken:   sessionToken,
		Status:         model.ConversationStatusActive,
		Priority:       model.PriorityNormal,
		LastSeq:        1,
		Metadata:       cloneStringMap(params.Metadata),
		CreatedAt:      nowStr,
		UpdatedAt:      nowStr,
		LastMessageAt:  nowStr,
	}

	messageID := uuid.NewString()
	message := model.MessageItem{
		PK:             model.MessagePK(conversationID, messageID),
		MessageID:      messageID,
		ConversationID: conversationID,
		Seq:            1,
		Type:           model.MessageTypeUser,
		Body:           body,
		CreatedAt:      nowStr,
	}

	// one transaction: a conversation is never visible without its opening
	// message
	if err := s.repo.CreateConversationWithFirstMessage(ctx, conversation, message); err != nil {
		return CreateResult{}, errs.New(errs.CodeStoreUnavailable, "failed to create conversation", err)
	}

	token, err := s.signVisitorToken(visitorTokenClaims{
		ConversationID: conversationID,
		SessionToken:   sessionToken,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(s.tokenTTL).Unix(),
	})
	if err != nil {
		return CreateResult{}, errs.New(errs.CodeInternal, "failed to issue visitor token", err)
	}

	return CreateResult{
		Conversation: conversation,
		VisitorToken: token,
		Message:      message,
	}, nil
}

func (s *Service) Get(ctx context.Context, conversationID string) (model.ConversationItem, error) {
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
	return conversation, nil
}

// SetStatus moves a conversation through the registry state machine.
// Resolving an already-resolved conversation is a no-op that returns the
// stored row unchanged, so the terminal state stays idempotent. Entering
// in_progress requires an operator; leaving it clears the assignment.
func (s *Service) SetStatus(ctx context.Context, conversationID string, params SetStatusParams) (model.ConversationItem, error) {
	conversation, err := s.Get(ctx, conversationID)
	if err != nil {
		return model.ConversationItem{}, err
	}

	if conversation.Status == model.ConversationStatusResolved &&
		params.Target == model.ConversationStatusResolved {
		return conversation, nil
	}

	if !transitionAllowed(conversation.Status, params.Target) {
		return model.ConversationItem{}, errs.New(errs.CodeInvalidTransition,
			fmt.Sprintf("cannot move conversation from %s to %s", conversation.Status, params.Target), nil)
	}

	if params.Target == model.ConversationStatusInProgress && params.AssignedOperatorID == "" {
		return model.ConversationItem{}, errs.New(errs.CodeValidation, "operator is required to start handling", nil)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	update := UpdateStatusParams{
		Status:    params.Target,
		UpdatedAt: nowStr,
	}
	switch params.Target {
	case model.ConversationStatusInProgress:
		update.AssignedOperatorID = params.AssignedOperatorID
	case model.ConversationStatusResolved:
		update.ClearAssignment = true
		update.ResolvedAt = nowStr
	default:
		update.ClearAssignment = true
	}

	updated, err := s.repo.UpdateConversationStatus(ctx, conversationID, update)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, errs.New(errs.CodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, errs.New(errs.CodeStoreUnavailable, "failed to update conversation", err)
	}
	return updated, nil
}

// TouchLastMessage advances lastMessageAt, never rewinds it. Out-of-order
// touches are absorbed silently.
func (s *Service) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	if err := s.repo.TouchLastMessage(ctx, conversationID, at.UTC().Format(time.RFC3339)); err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return errs.New(errs.CodeNotFound, "conversation not found", err)
		}
		return errs.New(errs.CodeStoreUnavailable, "failed to update conversation", err)
	}
	return nil
}

// AppendMessage adds one message to the log. The sequence number is allocated
// from the conversation row, so two concurrent appends can never share one.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, params AppendMessageParams) (model.MessageItem, error) {
	body := strings.TrimSpace(params.Body)

	if !model.ValidMessageType(params.Type) {
		return model.MessageItem{}, errs.New(errs.CodeValidation,
			fmt.Sprintf("unknown message type %q", params.Type), nil)
	}
	if body == "" {
		return model.MessageItem{}, errs.New(errs.CodeValidation, "message body is required", nil)
	}
	if params.Type == model.MessageTypeRecommendation {
		if params.Confidence < 0 || params.Confidence > 1 {
			return model.MessageItem{}, errs.New(errs.CodeValidation, "confidence must be between 0 and 1", nil)
		}
	}

	conversation, err := s.Get(ctx, conversationID)
	if err != nil {
		return model.MessageItem{}, err
	}

	if conversation.Status == model.ConversationStatusResolved {
		switch params.Type {
		case model.MessageTypeAdmin, model.MessageTypeSystem:
			// closing notes are still allowed
		default:
			return model.MessageItem{}, errs.New(errs.CodeInvalidTransition,
				"conversation is resolved", nil)
		}
	}

	seq, err := s.repo.AllocateMessageSeq(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.MessageItem{}, errs.New(errs.CodeNotFound, "conversation not found", err)
		}
		return model.MessageItem{}, errs.New(errs.CodeStoreUnavailable, "failed to allocate sequence", err)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	messageID := uuid.NewString()
	message := model.MessageItem{
		PK:               model.MessagePK(conversationID, messageID),
		MessageID:        messageID,
		ConversationID:   conversationID,
		Seq:              seq,
		Type:             params.Type,
		Body:             body,
		AuthorOperatorID: strings.TrimSpace(params.AuthorOperatorID),
		ParentMessageID:  strings.TrimSpace(params.ParentMessageID),
		CreatedAt:        nowStr,
	}
	if params.Type == model.MessageTypeRecommendation {
		message.Confidence = params.Confidence
	}

	if err := s.repo.CreateMessageWithActivity(ctx, message, nowStr); err != nil {
		return model.MessageItem{}, errs.New(errs.CodeStoreUnavailable, "failed to store message", err)
	}

	return message, nil
}

// ListMessages returns the full log ordered by sequence.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]model.MessageItem, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, errs.New(errs.CodeStoreUnavailable, "failed to list messages", err)
	}
	return messages, nil
}

// ListMessagesSince returns every message with sequence strictly greater than
// afterSeq, ordered by sequence. afterSeq 0 is equivalent to the full log.
func (s *Service) ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64) ([]model.MessageItem, error) {
	if afterSeq < 0 {
		return nil, errs.New(errs.CodeValidation, "cursor must not be negative", nil)
	}
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.repo.ListMessagesSince(ctx, conversationID, afterSeq)
	if err != nil {
		return nil, errs.New(errs.CodeStoreUnavailable, "failed to list messages", err)
	}
	return messages, nil
}

// DeleteMessagesOfType purges every message of the given type from one
// conversation and returns how many rows went away. The log is otherwise
// append-only; this exists for recommendation drafts.
func (s *Service) DeleteMessagesOfType(ctx context.Context, conversationID string, messageType model.MessageType) (int, error) {
	if !model.ValidMessageType(messageType) {
		return 0, errs.New(errs.CodeValidation, fmt.Sprintf("unknown message type %q", messageType), nil)
	}

	deleted, err := s.repo.DeleteMessagesOfType(ctx, conversationID, messageType)
	if err != nil {
		return 0, errs.New(errs.CodeStoreUnavailable, "failed to delete messages", err)
	}
	return deleted, nil
}

// ValidateVisitorAccess verifies the signed visitor token and returns the
// conversation it grants access to.
func (s *Service) ValidateVisitorAccess(token string) (VisitorAccess, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return VisitorAccess{}, errs.New(errs.CodeUnauthorized, "visitor token required", nil)
	}

	claims, err := s.verifyVisitorToken(token)
	if err != nil {
		return VisitorAccess{}, errs.New(errs.CodeUnauthorized, "invalid visitor token", err)
	}

	return VisitorAccess{
		ConversationID: claims.ConversationID,
		SessionToken:   claims.SessionToken,
	}, nil
}

func (s *Service) signVisitorToken(claims visitorTokenClaims) (string, error) {
	if len(s.tokenSecret) == 0 {
		return "", errors.New("visitor token secret not configured")
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, s.tokenSecret)
	if _, err := mac.Write(payload); err != nil {
		return "", err
	}
	signature := mac.Sum(nil)

	payloadPart := base64.RawURLEncoding.EncodeToString(payload)
	sigPart := base64.RawURLEncoding.EncodeToString(signature)

	return fmt.Sprintf("%s.%s", payloadPart, sigPart), nil
}

func (s *Service) verifyVisitorToken(token string) (visitorTokenClaims, error) {
	if len(s.tokenSecret) == 0 {
		return visitorTokenClaims{}, errors.New("visitor token secret not configured")
	}

	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return visitorTokenClaims{}, errors.New("invalid token format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return visitorTokenClaims{}, fmt.Errorf("decode payload: %w", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return visitorTokenClaims{}, fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, s.tokenSecret)
	if _, err := mac.Write(payload); err != nil {
		return visitorTokenClaims{}, fmt.Errorf("sign payload: %w", err)
	}

	if !hmac.Equal(sig, mac.Sum(nil)) {
		return visitorTokenClaims{}, errors.New("signature mismatch")
	}

	var claims visitorTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return visitorTokenClaims{}, fmt.Errorf("unmarshal claims: %w", err)
	}

	nowTime := s.now().UTC()
	if claims.ExpiresAt != 0 && nowTime.Unix() > claims.ExpiresAt {
		return visitorTokenClaims{}, errors.New("token expired")
	}

	return claims, nil
}

func cloneStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
