// Live message fanout. Both servers run a handler over the same Redis
// instance: a message published on one node reaches clients connected to the
// other.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	hub         *Hub
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewHandler(hub *Hub, redisClient *redis.Client, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:         hub,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (h *Handler) subscribeToConversationChannel(conversationID string) {
	if _, exists := h.hub.room(conversationID); !exists {
		h.logger.Warn("room not found for subscription", zap.String("conversationId", conversationID))
		return
	}

	subscriber := h.redisClient.Subscribe(context.Background(), channelName(conversationID))
	defer subscriber.Close()

	ch := subscriber.Channel()
	for msg := range ch {
		h.hub.Broadcast <- &WSMessage{
			Content:        msg.Payload,
			ConversationID: conversationID,
			Timestamp:      time.Now().Unix(),
		}
	}
}

// EnsureRoom creates the room for a conversation and subscribes it to the
// Redis channel once.
func (h *Handler) EnsureRoom(conversationID string) {
	if !h.hub.createRoom(conversationID) {
		return
	}
	setRooms(h.hub.roomCount())

	go h.subscribeToConversationChannel(conversationID)
}

// Join upgrades the request and attaches the client to the conversation's
// room.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request, conversationID, clientID string) {
	h.EnsureRoom(conversationID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cl := &WSClient{
		Conn:           conn,
		Message:        make(chan *WSMessage, 10),
		ID:             clientID,
		ConversationID: conversationID,
		logger:         h.logger,
		done:           make(chan struct{}),
	}

	h.hub.Register <- cl

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.readMessage(h.hub)
}

// Publish pushes a payload to every client following the conversation, on
// any server node.
func (h *Handler) Publish(ctx context.Context, conversationID string, payload interface{}) error {
	if conversationID == "" {
		return fmt.Errorf("websocket publish: conversationId required")
	}

	messageJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("websocket publish: marshal payload: %w", err)
	}

	if err := h.redisClient.Publish(ctx, channelName(conversationID), string(messageJSON)).Err(); err != nil {
		return fmt.Errorf("websocket publish: redis publish: %w", err)
	}
	return nil
}

func channelName(conversationID string) string {
	return "conversation:" + conversationID
}
