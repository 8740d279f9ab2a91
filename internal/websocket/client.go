package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSClient struct {
	Conn           *websocket.Conn
	Message        chan *WSMessage
	ID             string
	ConversationID string
	logger         *zap.Logger
	done           chan struct{}
	mu             sync.Mutex
	isClosed       bool
}

func (cl *WSClient) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteMessage(websocket.PingMessage, nil)
			cl.mu.Unlock()

			if err != nil {
				cl.logger.Debug("ping failed", zap.String("client", cl.ID), zap.Error(err))
				return
			}
		}
	}
}

func (cl *WSClient) writeMessage() {
	defer func() {
		cl.mu.Lock()
		cl.isClosed = true
		cl.Conn.Close()
		cl.mu.Unlock()
	}()

	for {
		select {
		case <-cl.done:
			return
		case msg, ok := <-cl.Message:
			if !ok {
				return
			}

			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteJSON(msg)
			cl.mu.Unlock()

			if err != nil {
				cl.logger.Debug("write failed", zap.String("client", cl.ID), zap.Error(err))
				return
			}
		}
	}
}

func (cl *WSClient) readMessage(hub *Hub) {
	defer func() {
		if r := recover(); r != nil {
			cl.logger.Error("panic in reader", zap.Any("panic", r))
		}

		if cl.done != nil {
			close(cl.done)
		}

		hub.Unregister <- cl
		cl.logger.Debug("client disconnected",
			zap.String("client", cl.ID),
			zap.String("conversationId", cl.ConversationID),
		)
	}()

	cl.Conn.SetReadLimit(512 * 1024)

	for {
		_, message, err := cl.Conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				if closeErr.Code == websocket.CloseNormalClosure ||
					closeErr.Code == websocket.CloseGoingAway ||
					closeErr.Code == websocket.CloseNoStatusReceived {
					break
				}
			}
			cl.logger.Debug("read failed", zap.String("client", cl.ID), zap.Error(err))
			break
		}

		hub.Broadcast <- &WSMessage{
			Content:        string(message),
			ConversationID: cl.ConversationID,
			Timestamp:      time.Now().Unix(),
		}
	}
}
