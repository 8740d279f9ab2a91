package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"support-desk-backend/internal/dto"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/conversation"
	"support-desk-backend/internal/service/escalation"
	syncservice "support-desk-backend/internal/service/sync"
	"support-desk-backend/internal/websocket"

	"github.com/google/uuid"
)

// WidgetEndpoints serves the embeddable chat widget. Everything here is
// authenticated with the visitor token minted at conversation creation,
// never with an operator JWT.
type WidgetEndpoints interface {
	HandleConversations(w http.ResponseWriter, r *http.Request) error
	HandleConversationResources(w http.ResponseWriter, r *http.Request) error
}

type widgetPaths struct {
	conversations      string
	conversationPrefix string
}

type widgetEndpoints struct {
	conversations *conversation.Service
	sync          *syncservice.Service
	escalation    *escalation.Service
	handler       *websocket.Handler
	paths         widgetPaths
}

func NewWidgetEndpoints(
	conversations *conversation.Service,
	sync *syncservice.Service,
	esc *escalation.Service,
	handler *websocket.Handler,
	prefix string,
) WidgetEndpoints {
	return &widgetEndpoints{
		conversations: conversations,
		sync:          sync,
		escalation:    esc,
		handler:       handler,
		paths: widgetPaths{
			conversations:      prefix + "/conversations",
			conversationPrefix: prefix + "/conversations/",
		},
	}
}

func (e *widgetEndpoints) HandleConversations(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: e.handleCreateConversation,
	})
}

// HandleConversationResources routes {id}/messages, {id}/escalate and {id}/ws.
func (e *widgetEndpoints) HandleConversationResources(w http.ResponseWriter, r *http.Request) error {
	conversationID, action, err := splitResourcePath(r.URL.Path, e.paths.conversationPrefix)
	if err != nil {
		return err
	}

	switch action {
	case "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return e.handleSync(w, r, conversationID)
			},
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return e.handlePostMessage(w, r, conversationID)
			},
		})
	case "escalate":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return e.handleEscalate(w, r, conversationID)
			},
		})
	case "ws":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return e.handleWebsocket(w, r, conversationID)
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found.",
			ErrorLog:   fmt.Errorf("unknown widget resource %q", action),
		}
	}
}

func (e *widgetEndpoints) handleCreateConversation(w http.ResponseWriter, r *http.Request) error {
	var req dto.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body.",
			ErrorLog:   fmt.Errorf("decode create conversation: %w", err),
		}
	}

	result, err := e.conversations.Create(r.Context(), conversation.CreateParams{
		SessionToken:         req.SessionToken,
		Body:                 req.Message.Body,
		Metadata:             req.Metadata,
		EnforceUniqueSession: true,
	})
	if err != nil {
		return serviceError(err)
	}

	if e.handler != nil {
		e.handler.EnsureRoom(result.Conversation.ConversationID)
	}

	return WriteJSON(w, http.StatusCreated, dto.CreateConversationResponse{
		Conversation: toConversationMetadata(result.Conversation),
		VisitorToken: result.VisitorToken,
		Message:      toMessageResponse(result.Message),
	})
}

func (e *widgetEndpoints) handleSync(w http.ResponseWriter, r *http.Request, conversationID string) error {
	if err := e.authorizeVisitor(r, conversationID, visitorTokenFromRequest(r)); err != nil {
		return err
	}

	after, hasCursor, err := cursorFromQuery(r)
	if err != nil {
		return err
	}

	var snapshot syncservice.Snapshot
	if hasCursor {
		snapshot, err = e.sync.FetchSince(r.Context(), conversationID, after, false)
	} else {
		snapshot, err = e.sync.FetchFull(r.Context(), conversationID, false)
	}
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toSyncResponse(snapshot))
}

func (e *widgetEndpoints) handlePostMessage(w http.ResponseWriter, r *http.Request, conversationID string) error {
	var req dto.PostVisitorMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body.",
			ErrorLog:   fmt.Errorf("decode visitor message: %w", err),
		}
	}

	token := req.VisitorToken
	if token == "" {
		token = visitorTokenFromRequest(r)
	}
	if err := e.authorizeVisitor(r, conversationID, token); err != nil {
		return err
	}

	message, err := e.conversations.AppendMessage(r.Context(), conversationID, conversation.AppendMessageParams{
		Type: model.MessageTypeUser,
		Body: req.Body,
	})
	if err != nil {
		return serviceError(err)
	}

	e.broadcastMessage(r, conversationID, message)

	return WriteJSON(w, http.StatusCreated, toMessageResponse(message))
}

func (e *widgetEndpoints) handleEscalate(w http.ResponseWriter, r *http.Request, conversationID string) error {
	var req dto.EscalateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body.",
			ErrorLog:   fmt.Errorf("decode escalate: %w", err),
		}
	}

	token := req.VisitorToken
	if token == "" {
		token = visitorTokenFromRequest(r)
	}
	if err := e.authorizeVisitor(r, conversationID, token); err != nil {
		return err
	}

	updated, err := e.escalation.Escalate(r.Context(), escalation.EscalateParams{
		ConversationID: conversationID,
		Priority:       model.Priority(req.Priority),
		Reason:         req.Reason,
	})
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.ConversationResponse{
		Conversation: toConversationMetadata(updated),
	})
}

func (e *widgetEndpoints) handleWebsocket(w http.ResponseWriter, r *http.Request, conversationID string) error {
	if err := e.authorizeVisitor(r, conversationID, visitorTokenFromRequest(r)); err != nil {
		return err
	}
	if e.handler == nil {
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Realtime updates unavailable.",
			ErrorLog:   fmt.Errorf("websocket handler not configured"),
		}
	}

	clientID := "visitor-" + uuid.New().String()
	e.handler.Join(w, r, conversationID, clientID)

	return nil
}

func (e *widgetEndpoints) authorizeVisitor(r *http.Request, conversationID, token string) error {
	access, err := e.conversations.ValidateVisitorAccess(token)
	if err != nil {
		return serviceError(err)
	}
	if access.ConversationID != conversationID {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Token does not grant access to this conversation.",
			ErrorLog:   fmt.Errorf("visitor token for %s used on %s", access.ConversationID, conversationID),
		}
	}
	return nil
}

func (e *widgetEndpoints) broadcastMessage(r *http.Request, conversationID string, message model.MessageItem) {
	if e.handler == nil {
		return
	}
	_ = e.handler.Publish(r.Context(), conversationID, toMessageResponse(message))
}

func visitorTokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("visitorToken"); token != "" {
		return token
	}
	return r.Header.Get("X-Visitor-Token")
}

// cursorFromQuery parses ?after=N. A missing parameter means a full fetch.
func cursorFromQuery(r *http.Request) (int64, bool, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return 0, false, nil
	}

	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid after cursor.",
			ErrorLog:   fmt.Errorf("parse after cursor %q: %w", raw, err),
		}
	}

	return after, true, nil
}

// splitResourcePath extracts "{id}/{action}" from the request path.
func splitResourcePath(path, prefix string) (string, string, error) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found.",
			ErrorLog:   fmt.Errorf("malformed resource path %q", path),
		}
	}
	return parts[0], parts[1], nil
}
