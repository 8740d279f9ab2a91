package dto

type ConversationMetadata struct {
	ConversationID     string            `json:"conversationId"`
	Status             string            `json:"status"`
	Priority           string            `json:"priority"`
	AssignedOperatorID string            `json:"assignedOperatorId,omitempty"`
	CreatedAt          string            `json:"createdAt"`
	UpdatedAt          string            `json:"updatedAt"`
	LastMessageAt      string            `json:"lastMessageAt"`
	ResolvedAt         string            `json:"resolvedAt,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type MessageResponse struct {
	MessageID        string  `json:"messageId"`
	ConversationID   string  `json:"conversationId"`
	Seq              int64   `json:"seq"`
	Type             string  `json:"type"`
	Body             string  `json:"body"`
	Confidence       float64 `json:"confidence,omitempty"`
	AuthorOperatorID string  `json:"authorOperatorId,omitempty"`
	ParentMessageID  string  `json:"parentMessageId,omitempty"`
	CreatedAt        string  `json:"createdAt"`
}

type CreateConversationRequest struct {
	SessionToken string               `json:"sessionToken"`
	Message      CreateMessagePayload `json:"message"`
	Metadata     map[string]string    `json:"metadata,omitempty"`
}

type CreateMessagePayload struct {
	Body string `json:"body"`
}

type CreateConversationResponse struct {
	Conversation ConversationMetadata `json:"conversation"`
	VisitorToken string               `json:"visitorToken"`
	Message      MessageResponse      `json:"message"`
}

type PostVisitorMessageRequest struct {
	Body         string `json:"body"`
	VisitorToken string `json:"visitorToken"`
}

type PostOperatorMessageRequest struct {
	Body string `json:"body"`
	Type string `json:"type,omitempty"`
}

type EscalateConversationRequest struct {
	Priority     string `json:"priority,omitempty"`
	Reason       string `json:"reason,omitempty"`
	VisitorToken string `json:"visitorToken"`
}

type SyncResponse struct {
	Status             string            `json:"status"`
	AssignedOperatorID string            `json:"assignedOperatorId,omitempty"`
	Cursor             int64             `json:"cursor"`
	Messages           []MessageResponse `json:"messages"`
}

type ConversationResponse struct {
	Conversation ConversationMetadata `json:"conversation"`
}
