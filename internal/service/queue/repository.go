package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("queue repository: not found")

type UpdateQueueEntryParams struct {
	Status             model.ConversationStatus
	AssignedOperatorID string
	ClearAssignment    bool
	QueuedAt           string
	ResolvedAt         string
}

type Repository interface {
	GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error)
	MarkConversationWaiting(ctx context.Context, conversationID string, priority model.Priority, at string) error
	ClaimConversation(ctx context.Context, conversationID, operatorID, at string) (model.ConversationItem, error)
	ReleaseConversation(ctx context.Context, conversationID, operatorID, at string) (model.ConversationItem, error)
	ResolveConversation(ctx context.Context, conversationID, at string) (model.ConversationItem, error)
	PutQueueEntry(ctx context.Context, entry model.QueueEntryItem) error
	GetQueueEntry(ctx context.Context, conversationID string) (model.QueueEntryItem, error)
	UpdateQueueEntry(ctx context.Context, conversationID string, params UpdateQueueEntryParams) error
	ListQueueEntriesByStatus(ctx context.Context, status model.ConversationStatus) ([]model.QueueEntryItem, error)
	ListQueueEntries(ctx context.Context) ([]model.QueueEntryItem, error)
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

func (r *DynamoRepository) MarkConversationWaiting(ctx context.Context, conversationID string, priority model.Priority, at string) error {
	return r.db.Client.UpdateItemConditional(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET #status = :waiting, priority = :priority, updatedAt = :at REMOVE assignedOperatorId",
		"#status = :active",
		map[string]types.AttributeValue{
			":waiting":  &types.AttributeValueMemberS{Value: string(model.ConversationStatusWaiting)},
			":active":   &types.AttributeValueMemberS{Value: string(model.ConversationStatusActive)},
			":priority": &types.AttributeValueMemberS{Value: string(priority)},
			":at":       &types.AttributeValueMemberS{Value: at},
		},
		map[string]string{"#status": "status"},
		nil,
	)
}

// ClaimConversation is the single write that decides a claim race. The
// condition only holds while the conversation is waiting and unassigned, so
// at most one concurrent caller ever gets past it.
func (r *DynamoRepository) ClaimConversation(ctx context.Context, conversationID, operatorID, at string) (model.ConversationItem, error) {
	var claimed model.ConversationItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET #status = :inProgress, assignedOperatorId = :operator, updatedAt = :at",
		"#status = :waiting AND attribute_not_exists(assignedOperatorId)",
		map[string]types.AttributeValue{
			":inProgress": &types.AttributeValueMemberS{Value: string(model.ConversationStatusInProgress)},
			":waiting":    &types.AttributeValueMemberS{Value: string(model.ConversationStatusWaiting)},
			":operator":   &types.AttributeValueMemberS{Value: operatorID},
			":at":         &types.AttributeValueMemberS{Value: at},
		},
		map[string]string{"#status": "status"},
		&claimed,
	)
	if err != nil {
		return model.ConversationItem{}, err
	}
	return claimed, nil
}

func (r *DynamoRepository) ReleaseConversation(ctx context.Context, conversationID, operatorID, at string) (model.ConversationItem, error) {
	var released model.ConversationItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET #status = :waiting, updatedAt = :at REMOVE assignedOperatorId",
		"#status = :inProgress AND assignedOperatorId = :operator",
		map[string]types.AttributeValue{
			":waiting":    &types.AttributeValueMemberS{Value: string(model.ConversationStatusWaiting)},
			":inProgress": &types.AttributeValueMemberS{Value: string(model.ConversationStatusInProgress)},
			":operator":   &types.AttributeValueMemberS{Value: operatorID},
			":at":         &types.AttributeValueMemberS{Value: at},
		},
		map[string]string{"#status": "status"},
		&released,
	)
	if err != nil {
		return model.ConversationItem{}, err
	}
	return released, nil
}

func (r *DynamoRepository) ResolveConversation(ctx context.Context, conversationID, at string) (model.ConversationItem, error) {
	var resolved model.ConversationItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.ConversationsTable,
		conversationKey(conversationID),
		"SET #status = :resolved, resolvedAt = :at, updatedAt = :at REMOVE assignedOperatorId",
		"attribute_exists(conversationId) AND #status <> :resolved",
		map[string]types.AttributeValue{
			":resolved": &types.AttributeValueMemberS{Value: string(model.ConversationStatusResolved)},
			":at":       &types.AttributeValueMemberS{Value: at},
		},
		map[string]string{"#status": "status"},
		&resolved,
	)
	if err != nil {
		return model.ConversationItem{}, err
	}
	return resolved, nil
}

func (r *DynamoRepository) PutQueueEntry(ctx context.Context, entry model.QueueEntryItem) error {
	return r.db.Client.PutItem(ctx, model.QueueEntriesTable, entry)
}

func (r *DynamoRepository) GetQueueEntry(ctx context.Context, conversationID string) (model.QueueEntryItem, error) {
	var entry model.QueueEntryItem
	err := r.db.Client.GetItem(ctx, model.QueueEntriesTable, conversationKey(conversationID), &entry)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.QueueEntryItem{}, ErrNotFound
		}
		return model.QueueEntryItem{}, err
	}
	return entry, nil
}

func (r *DynamoRepository) UpdateQueueEntry(ctx context.Context, conversationID string, params UpdateQueueEntryParams) error {
	setParts := []string{"#status = :status"}
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(params.Status)},
	}
	names := map[string]string{"#status": "status"}

	if params.AssignedOperatorID != "" {
		setParts = append(setParts, "assignedOperatorId = :operator")
		values[":operator"] = &types.AttributeValueMemberS{Value: params.AssignedOperatorID}
	}
	if params.QueuedAt != "" {
		setParts = append(setParts, "queuedAt = :queuedAt")
		values[":queuedAt"] = &types.AttributeValueMemberS{Value: params.QueuedAt}
	}
	if params.ResolvedAt != "" {
		setParts = append(setParts, "resolvedAt = :resolvedAt")
		values[":resolvedAt"] = &types.AttributeValueMemberS{Value: params.ResolvedAt}
	}

	updateExpr := "SET " + strings.Join(setParts, ", ")
	if params.ClearAssignment {
		updateExpr += " REMOVE assignedOperatorId"
	}

	return r.db.Client.UpdateItem(
		ctx,
		model.QueueEntriesTable,
		conversationKey(conversationID),
		updateExpr,
		values,
		names,
		nil,
	)
}

func (r *DynamoRepository) ListQueueEntriesByStatus(ctx context.Context, status model.ConversationStatus) ([]model.QueueEntryItem, error) {
	items, err := r.db.Client.ScanAllWithFilter(
		ctx,
		model.QueueEntriesTable,
		"#status = :status",
		map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		map[string]string{"#status": "status"},
	)
	if err != nil {
		return nil, err
	}
	return unmarshalEntries(items)
}

func (r *DynamoRepository) ListQueueEntries(ctx context.Context) ([]model.QueueEntryItem, error) {
	items, err := r.db.Client.ScanAllWithFilter(
		ctx,
		model.QueueEntriesTable,
		"attribute_exists(conversationId)",
		nil,
		nil,
	)
	if err != nil {
		return nil, err
	}
	return unmarshalEntries(items)
}

func unmarshalEntries(items []map[string]types.AttributeValue) ([]model.QueueEntryItem, error) {
	entries := make([]model.QueueEntryItem, 0, len(items))
	for _, item := range items {
		var entry model.QueueEntryItem
		if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
