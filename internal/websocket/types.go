package websocket

// Room groups the live connections following one conversation: the visitor's
// widget plus any operator consoles.
type Room struct {
	ConversationID string               `json:"conversationId"`
	Clients        map[string]*WSClient `json:"clients"`
}

type WSMessage struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}
