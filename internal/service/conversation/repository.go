package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("conversation repository: not found")

const byConversationIndex = "byConversation"

type UpdateStatusParams struct {
	Status             model.ConversationStatus
	AssignedOperatorID string
	ClearAssignment    bool
	ResolvedAt         string
	UpdatedAt          string
}

type Repository interface {
	CreateConversationWithFirstMessage(ctx context.Context, conversation model.ConversationItem, message model.MessageItem) error
	GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error)
	FindActiveConversationBySession(ctx context.Context, sessionToken string) (model.ConversationItem, error)
	UpdateConversationStatus(ctx context.Context, conversationID string, params UpdateStatusParams) (model.ConversationItem, error)
	TouchLastMessage(ctx context.Context, conversationID, at string) error
	AllocateMessageSeq(ctx context.Context, conversationID string) (int64, error)
	CreateMessageWithActivity(ctx context.Context, message model.MessageItem, at string) error
	ListMessages(ctx context.Context, conversationID string) ([]model.MessageItem, error)
	ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64) ([]model.MessageItem, error)
	DeleteMessagesOfType(ctx context.Context, conversationID string, messageType model.MessageType) (int, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func conversationKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
	}
}

// CreateConversationWithFirstMessage writes the conversation row and its
// opening message in one transaction; a partial create is never visible.
func (r *DynamoRepository) CreateConversationWithFirstMessage(ctx context.Context, conversation model.ConversationItem, message model.MessageItem) error {
	conversationAV, err := attributevalue.MarshalMap(conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	messageAV, err := attributevalue.MarshalMap(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return r.db.Client.TransactWriteItems(ctx, []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(model.ConversationsTable),
				Item:                conversationAV,
				ConditionExpression: aws.String("attribute_not_exists(conversationId)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           aws.String(model.MessagesTable),
				Item:                messageAV,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
	})
}

func (r *DynamoRepository) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.GetItem(ctx, model.ConversationsTable, conversationKey(conversationID), &conversation)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.ConversationItem{}, ErrNotFound
		}
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) FindActiveConversationBySession(ctx context.Context, sessionToken string) (model.ConversationItem, error) {
	items, err := r.db.Client.ScanAllWithFilter(
		ctx,
		model.ConversationsTable,
		"sessionToken = :session AND #status <> :resolved",
		map[string]types.AttributeValue{
			":session":  &types.AttributeValueMemberS{Value: sessionToken},
			":resolved": &types.AttributeValueMemberS{Value: string(model.ConversationStatusResolved)},
		},
		map[string]string{"#status": "status"},
	)
	if err != nil {
		return model.ConversationItem{}, err
	}
	if len(items) == 0 {
		return model.ConversationItem{}, ErrNotFound
	}

	var conversation model.ConversationItem
	if err := attributevalue.UnmarshalMap(items[0], &conversation); err != nil {
		return model.ConversationItem{}, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return conversation, nil
}

func (r *DynamoRepository) UpdateConversationStatus(ctx context.Context, conversationID string, params UpdateStatusParams) (model.ConversationItem, error) {
	setParts := []string{"#status = :status", "updatedAt = :updatedAt"}
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(params.Status)},
		":updatedAt": &types.AttributeValueMemberS{Value: params.UpdatedAt},
	}
	names := map[string]string{"#status": "status"}

	if params.AssignedOperatorID != "" {
		setParts = append(setParts, "assignedOperatorId = :operator")
		values[":operator"] = &types.AttributeValueMemberS{Value: params.AssignedOperatorID}
	}
	if params.ResolvedAt != "" {
		setParts = append(setParts, "resolvedAt = :resolvedAt")
		values[":resolvedAt"] = &types.AttributeValueMemberS{Value: params.ResolvedAt}
	}

	updateExpr := "SET " + strings.Join(setParts, ", ")
	if params.ClearAssignment {
		updateExpr += " REMOVE assignedOperatorId"
	}

	var updated model.ConversationItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		updateExpr,
		"attribute_exists(conversationId)",
		values,
		names,
		&updated,
	)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.ConversationItem{}, ErrNotFound
		}
		return model.ConversationItem{}, err
	}
	return updated, nil
}

// TouchLastMessage only moves lastMessageAt forward. A stale timestamp trips
// the condition and surfaces as database.ErrConditionFailed.
func (r *DynamoRepository) TouchLastMessage(ctx context.Context, conversationID, at string) error {
	return r.db.Client.UpdateItemConditional(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET lastMessageAt = :at, updatedAt = :at",
		"attribute_exists(conversationId) AND lastMessageAt < :at",
		map[string]types.AttributeValue{
			":at": &types.AttributeValueMemberS{Value: at},
		},
		nil,
		nil,
	)
}

// AllocateMessageSeq increments the conversation's counter atomically and
// returns the new value. Concurrent callers each get a distinct sequence.
func (r *DynamoRepository) AllocateMessageSeq(ctx context.Context, conversationID string) (int64, error) {
	var updated model.ConversationItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET lastSeq = if_not_exists(lastSeq, :zero) + :one",
		"attribute_exists(conversationId)",
		map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
		nil,
		&updated,
	)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return updated.LastSeq, nil
}

// CreateMessageWithActivity writes the message and bumps the conversation's
// activity timestamps in one transaction, so a visible message always comes
// with an updated conversation row.
func (r *DynamoRepository) CreateMessageWithActivity(ctx context.Context, message model.MessageItem, at string) error {
	messageAV, err := attributevalue.MarshalMap(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return r.db.Client.TransactWriteItems(ctx, []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(model.MessagesTable),
				Item:                messageAV,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
		{
			Update: &types.Update{
				TableName:           aws.String(model.ConversationsTable),
				Key:                 conversationKey(message.ConversationID),
				UpdateExpression:    aws.String("SET lastMessageAt = :at, updatedAt = :at"),
				ConditionExpression: aws.String("attribute_exists(conversationId)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":at": &types.AttributeValueMemberS{Value: at},
				},
			},
		},
	})
}

func (r *DynamoRepository) ListMessages(ctx context.Context, conversationID string) ([]model.MessageItem, error) {
	return r.queryMessages(ctx, "conversationId = :cid", map[string]types.AttributeValue{
		":cid": &types.AttributeValueMemberS{Value: conversationID},
	})
}

func (r *DynamoRepository) ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64) ([]model.MessageItem, error) {
	return r.queryMessages(ctx, "conversationId = :cid AND seq > :after", map[string]types.AttributeValue{
		":cid":   &types.AttributeValueMemberS{Value: conversationID},
		":after": &types.AttributeValueMemberN{Value: strconv.FormatInt(afterSeq, 10)},
	})
}

func (r *DynamoRepository) queryMessages(ctx context.Context, keyCondExpr string, values map[string]types.AttributeValue) ([]model.MessageItem, error) {
	items, err := r.db.Client.QueryAll(
		ctx,
		model.MessagesTable,
		aws.String(byConversationIndex),
		keyCondExpr,
		values,
		nil,
	)
	if err != nil {
		return nil, err
	}

	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, message)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Seq < messages[j].Seq
	})
	return messages, nil
}

func (r *DynamoRepository) DeleteMessagesOfType(ctx context.Context, conversationID string, messageType model.MessageType) (int, error) {
	messages, err := r.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	keys := make([]map[string]types.AttributeValue, 0)
	for _, message := range messages {
		if message.Type != messageType {
			continue
		}
		keys = append(keys, map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: message.PK},
		})
	}

	if err := r.db.Client.BatchDeleteItems(ctx, model.MessagesTable, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
