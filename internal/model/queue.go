package model

// QueueEntryItem mirrors the waiting/in_progress subset of the conversation
// status. Entries are never removed: resolution marks them resolved and keeps
// the row for audit and latency stats.
type QueueEntryItem struct {
	ConversationID     string             `dynamodbav:"conversationId"`
	Status             ConversationStatus `dynamodbav:"status"`
	Priority           Priority           `dynamodbav:"priority"`
	QueuedAt           string             `dynamodbav:"queuedAt"`
	AssignedOperatorID string             `dynamodbav:"assignedOperatorId,omitempty"`
	ResolvedAt         string             `dynamodbav:"resolvedAt,omitempty"`
}
