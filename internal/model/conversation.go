package model

type ConversationStatus string

const (
	ConversationStatusActive     ConversationStatus = "active"
	ConversationStatusWaiting    ConversationStatus = "waiting"
	ConversationStatusInProgress ConversationStatus = "in_progress"
	ConversationStatusResolved   ConversationStatus = "resolved"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityRank maps a priority to its ordering weight; unknown values sort
// as normal so a malformed row never jumps the queue.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type ConversationItem struct {
	ConversationID     string             `dynamodbav:"conversationId"`
	SessionToken       string             `dynamodbav:"sessionToken"`
	Status             ConversationStatus `dynamodbav:"status"`
	Priority           Priority           `dynamodbav:"priority"`
	AssignedOperatorID string             `dynamodbav:"assignedOperatorId,omitempty"`
	LastSeq            int64              `dynamodbav:"lastSeq"`
	Metadata           map[string]string  `dynamodbav:"metadata,omitempty"`
	CreatedAt          string             `dynamodbav:"createdAt"`
	UpdatedAt          string             `dynamodbav:"updatedAt"`
	LastMessageAt      string             `dynamodbav:"lastMessageAt"`
	ResolvedAt         string             `dynamodbav:"resolvedAt,omitempty"`
}
