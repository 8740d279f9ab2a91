package websocket

import "sync"

type Hub struct {
	// rooms is written from request goroutines and read from the Run loop
	// and the Redis subscriber goroutines, so every access holds mu.
	mu         sync.RWMutex
	rooms      map[string]*Room
	Register   chan *WSClient
	Unregister chan *WSClient
	Broadcast  chan *WSMessage
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		Register:   make(chan *WSClient),
		Unregister: make(chan *WSClient),
		Broadcast:  make(chan *WSMessage),
	}
}

func (h *Hub) room(conversationID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[conversationID]
	return room, ok
}

// createRoom adds the room if absent and reports whether it was created.
func (h *Hub) createRoom(conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rooms[conversationID]; exists {
		return false
	}
	h.rooms[conversationID] = &Room{
		ConversationID: conversationID,
		Clients:        make(map[string]*WSClient),
	}
	return true
}

func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			room, ok := h.room(client.ConversationID)
			if !ok {
				continue
			}
			room.Clients[client.ID] = client
			incConnections()

		case client := <-h.Unregister:
			room, ok := h.room(client.ConversationID)
			if !ok {
				continue
			}
			if _, ok := room.Clients[client.ID]; ok {
				delete(room.Clients, client.ID)
				close(client.Message)
				decConnections()
			}

		case message := <-h.Broadcast:
			room, ok := h.room(message.ConversationID)
			if !ok {
				continue
			}
			delivered := 0
			for _, client := range room.Clients {
				select {
				case client.Message <- message:
					delivered++
				default:
					// slow consumer, drop the connection
					close(client.Message)
					delete(room.Clients, client.ID)
					decConnections()
				}
			}
			if delivered > 0 {
				addDelivered(delivered)
			}
		}
	}
}
