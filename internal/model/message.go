package model

import "fmt"

type MessageType string

const (
	MessageTypeUser           MessageType = "user"
	MessageTypeAssistant      MessageType = "assistant"
	MessageTypeAdmin          MessageType = "admin"
	MessageTypeSystem         MessageType = "system"
	MessageTypeRecommendation MessageType = "llm_recommendation"
)

func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeUser, MessageTypeAssistant, MessageTypeAdmin, MessageTypeSystem, MessageTypeRecommendation:
		return true
	}
	return false
}

func MessagePK(conversationID, messageID string) string {
	return fmt.Sprintf("%s#%s", conversationID, messageID)
}

// MessageItem rows are immutable once written; the only permitted deletion is
// the purge of llm_recommendation drafts during approval or discard.
// Seq is allocated from the conversation row and is strictly increasing per
// conversation, which makes it both the ordering key and the sync cursor.
type MessageItem struct {
	PK               string      `dynamodbav:"pk"`
	MessageID        string      `dynamodbav:"messageId"`
	ConversationID   string      `dynamodbav:"conversationId"`
	Seq              int64       `dynamodbav:"seq"`
	Type             MessageType `dynamodbav:"type"`
	Body             string      `dynamodbav:"body"`
	Confidence       float64     `dynamodbav:"confidence,omitempty"`
	AuthorOperatorID string      `dynamodbav:"authorOperatorId,omitempty"`
	ParentMessageID  string      `dynamodbav:"parentMessageId,omitempty"`
	CreatedAt        string      `dynamodbav:"createdAt"`
}
