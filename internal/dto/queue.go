package dto

type QueueEntryResponse struct {
	Conversation ConversationMetadata `json:"conversation"`
	QueuedAt     string               `json:"queuedAt"`
}

type ListQueueResponse struct {
	Entries []QueueEntryResponse `json:"entries"`
}

type QueueStatsResponse struct {
	Waiting              int     `json:"waiting"`
	InProgress           int     `json:"inProgress"`
	ResolvedToday        int     `json:"resolvedToday"`
	AvgResolutionSeconds float64 `json:"avgResolutionSeconds"`
}

type RecommendationResponse struct {
	Draft *MessageResponse `json:"draft"`
}

type ApproveRecommendationRequest struct {
	Content  string `json:"content,omitempty"`
	KeepOpen bool   `json:"keepOpen,omitempty"`
}

type ApproveRecommendationResponse struct {
	Message      MessageResponse      `json:"message"`
	Conversation ConversationMetadata `json:"conversation"`
}

type DiscardRecommendationResponse struct {
	Deleted int `json:"deleted"`
}
