package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"support-desk-backend/internal/api/middleware"
	"support-desk-backend/internal/dto"
	"support-desk-backend/internal/events"
	"support-desk-backend/internal/identity"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/conversation"
	"support-desk-backend/internal/service/escalation"
	"support-desk-backend/internal/service/queue"
	syncservice "support-desk-backend/internal/service/sync"
	"support-desk-backend/internal/websocket"
)

// OperatorEndpoints serves the operator dashboard. Every route is registered
// behind the operator JWT middleware; handlers read the resolved identity off
// the request context.
type OperatorEndpoints interface {
	HandleQueue(w http.ResponseWriter, r *http.Request) error
	HandleQueueResources(w http.ResponseWriter, r *http.Request) error
	HandleConversationResources(w http.ResponseWriter, r *http.Request) error
}

type operatorPaths struct {
	queue              string
	queuePrefix        string
	conversationPrefix string
}

type operatorEndpoints struct {
	conversations *conversation.Service
	queue         *queue.Service
	sync          *syncservice.Service
	escalation    *escalation.Service
	handler       *websocket.Handler
	events        events.Publisher
	paths         operatorPaths
}

func NewOperatorEndpoints(
	conversations *conversation.Service,
	queueService *queue.Service,
	sync *syncservice.Service,
	esc *escalation.Service,
	handler *websocket.Handler,
	publisher events.Publisher,
	prefix string,
) OperatorEndpoints {
	return &operatorEndpoints{
		conversations: conversations,
		queue:         queueService,
		sync:          sync,
		escalation:    esc,
		handler:       handler,
		events:        publisher,
		paths: operatorPaths{
			queue:              prefix + "/queue",
			queuePrefix:        prefix + "/queue/",
			conversationPrefix: prefix + "/conversations/",
		},
	}
}

func (e *operatorEndpoints) HandleQueue(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: e.handleListQueue,
	})
}

// HandleQueueResources routes /queue/stats and /queue/{id}/{claim|release|resolve}.
func (e *operatorEndpoints) HandleQueueResources(w http.ResponseWriter, r *http.Request) error {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, e.paths.queuePrefix), "/")

	if rest == "stats" {
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: e.handleQueueStats,
		})
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found.",
			ErrorLog:   fmt.Errorf("malformed queue path %q", r.URL.Path),
		}
	}
	conversationID, action := parts[0], parts[1]

	var handler func(http.ResponseWriter, *http.Request) error
	switch action {
	case "claim":
		handler = func(w http.ResponseWriter, r *http.Request) error {
			return e.handleClaim(w, r, conversationID)
		}
	case "release":
		handler = func(w http.ResponseWriter, r *http.Request) error {
			return e.handleRelease(w, r, conversationID)
		}
	case "resolve":
		handler = func(w http.ResponseWriter, r *http.Request) error {
			return e.handleResolve(w, r, conversationID)
		}
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found.",
			ErrorLog:   fmt.Errorf("unknown queue action %q", action),
		}
	}

	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: handler,
	})
}

// HandleConversationResources routes {id}/messages, {id}/recommendations and
// {id}/ws for operators.
func (e *operatorEndpoints) HandleConversationResources(w http.ResponseWriter, r *http.Request) error {
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
	case "recommendations":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return e.handleRecommend(w, r, conversationID)
			},
		})
	case "recommendations/approve":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return e.handleApprove(w, r, conversationID)
			},
		})
	case "recommendations/discard":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return e.handleDiscard(w, r, conversationID)
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
			ErrorLog:   fmt.Errorf("unknown operator resource %q", action),
		}
	}
}

func (e *operatorEndpoints) handleListQueue(w http.ResponseWriter, r *http.Request) error {
	waiting, err := e.queue.ListWaiting(r.Context())
	if err != nil {
		return serviceError(err)
	}

	entries := make([]dto.QueueEntryResponse, len(waiting))
	for i, entry := range waiting {
		entries[i] = dto.QueueEntryResponse{
			Conversation: toConversationMetadata(entry.Conversation),
			QueuedAt:     entry.Entry.QueuedAt,
		}
	}

	return WriteJSON(w, http.StatusOK, dto.ListQueueResponse{Entries: entries})
}

func (e *operatorEndpoints) handleQueueStats(w http.ResponseWriter, r *http.Request) error {
	stats, err := e.queue.GetStats(r.Context())
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.QueueStatsResponse{
		Waiting:              stats.Waiting,
		InProgress:           stats.InProgress,
		ResolvedToday:        stats.ResolvedToday,
		AvgResolutionSeconds: stats.AvgResolutionSeconds,
	})
}

func (e *operatorEndpoints) handleClaim(w http.ResponseWriter, r *http.Request, conversationID string) error {
	operator, err := operatorIdentity(r)
	if err != nil {
		return err
	}

	conv, err := e.queue.Claim(r.Context(), conversationID, operator.OperatorID)
	if err != nil {
		return serviceError(err)
	}

	e.publishEvent(r, events.RoutingKeyClaimed, conv, operator.OperatorID)
	return WriteJSON(w, http.StatusOK, dto.ConversationResponse{Conversation: toConversationMetadata(conv)})
}

func (e *operatorEndpoints) handleRelease(w http.ResponseWriter, r *http.Request, conversationID string) error {
	operator, err := operatorIdentity(r)
	if err != nil {
		return err
	}

	conv, err := e.queue.Release(r.Context(), conversationID, operator.OperatorID)
	if err != nil {
		return serviceError(err)
	}

	e.publishEvent(r, events.RoutingKeyReleased, conv, operator.OperatorID)
	return WriteJSON(w, http.StatusOK, dto.ConversationResponse{Conversation: toConversationMetadata(conv)})
}

func (e *operatorEndpoints) handleResolve(w http.ResponseWriter, r *http.Request, conversationID string) error {
	operator, err := operatorIdentity(r)
	if err != nil {
		return err
	}

	conv, err := e.queue.Resolve(r.Context(), conversationID)
	if err != nil {
		return serviceError(err)
	}

	e.publishEvent(r, events.RoutingKeyResolved, conv, operator.OperatorID)
	return WriteJSON(w, http.StatusOK, dto.ConversationResponse{Conversation: toConversationMetadata(conv)})
}

func (e *operatorEndpoints) handleSync(w http.ResponseWriter, r *http.Request, conversationID string) error {
	after, hasCursor, err := cursorFromQuery(r)
	if err != nil {
		return err
	}

	var snapshot syncservice.Snapshot
	if hasCursor {
		snapshot, err = e.sync.FetchSince(r.Context(), conversationID, after, true)
	} else {
		snapshot, err = e.sync.FetchFull(r.Context(), conversationID, true)
	}
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toSyncResponse(snapshot))
}

func (e *operatorEndpoints) handlePostMessage(w http.ResponseWriter, r *http.Request, conversationID string) error {
	operator, err := operatorIdentity(r)
	if err != nil {
		return err
	}

	var req dto.PostOperatorMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body.",
			ErrorLog:   fmt.Errorf("decode operator message: %w", err),
		}
	}

	messageType := model.MessageTypeAdmin
	if req.Type != "" {
		messageType = model.MessageType(req.Type)
		if messageType != model.MessageTypeAdmin && messageType != model.MessageTypeSystem {
			return &HTTPError{
				StatusCode: http.StatusBadRequest,
				Message:    "Operators can only post admin or system messages.",
				ErrorLog:   fmt.Errorf("operator posted message type %q", req.Type),
			}
		}
	}

	message, err := e.conversations.AppendMessage(r.Context(), conversationID, conversation.AppendMessageParams{
		Type:             messageType,
		Body:             req.Body,
		AuthorOperatorID: operator.OperatorID,
	})
	if err != nil {
		return serviceError(err)
	}

	e.broadcastMessage(r, conversationID, message)

	return WriteJSON(w, http.StatusCreated, toMessageResponse(message))
}

func (e *operatorEndpoints) handleRecommend(w http.ResponseWriter, r *http.Request, conversationID string) error {
	if _, err := operatorIdentity(r); err != nil {
		return err
	}

	draft, err := e.escalation.Recommend(r.Context(), conversationID)
	if err != nil {
		return serviceError(err)
	}

	resp := dto.RecommendationResponse{}
	if draft != nil {
		converted := toMessageResponse(*draft)
		resp.Draft = &converted
	}
	return WriteJSON(w, http.StatusOK, resp)
}

func (e *operatorEndpoints) handleApprove(w http.ResponseWriter, r *http.Request, conversationID string) error {
	operator, err := operatorIdentity(r)
	if err != nil {
		return err
	}

	var req dto.ApproveRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body.",
			ErrorLog:   fmt.Errorf("decode approve: %w", err),
		}
	}

	reply, err := e.escalation.Approve(r.Context(), escalation.ApproveParams{
		ConversationID: conversationID,
		OperatorID:     operator.OperatorID,
		Content:        req.Content,
		KeepOpen:       req.KeepOpen,
	})
	if err != nil {
		return serviceError(err)
	}

	conv, err := e.conversations.Get(r.Context(), conversationID)
	if err != nil {
		return serviceError(err)
	}

	e.broadcastMessage(r, conversationID, reply)

	return WriteJSON(w, http.StatusOK, dto.ApproveRecommendationResponse{
		Message:      toMessageResponse(reply),
		Conversation: toConversationMetadata(conv),
	})
}

func (e *operatorEndpoints) handleDiscard(w http.ResponseWriter, r *http.Request, conversationID string) error {
	operator, err := operatorIdentity(r)
	if err != nil {
		return err
	}

	deleted, err := e.escalation.Discard(r.Context(), conversationID, operator.OperatorID)
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.DiscardRecommendationResponse{Deleted: deleted})
}

func (e *operatorEndpoints) handleWebsocket(w http.ResponseWriter, r *http.Request, conversationID string) error {
	operator, err := operatorIdentity(r)
	if err != nil {
		return err
	}
	if e.handler == nil {
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Realtime updates unavailable.",
			ErrorLog:   fmt.Errorf("websocket handler not configured"),
		}
	}

	e.handler.Join(w, r, conversationID, "operator-"+operator.OperatorID)
	return nil
}

func (e *operatorEndpoints) broadcastMessage(r *http.Request, conversationID string, message model.MessageItem) {
	if e.handler == nil {
		return
	}
	_ = e.handler.Publish(r.Context(), conversationID, toMessageResponse(message))
}

func (e *operatorEndpoints) publishEvent(r *http.Request, routingKey string, conv model.ConversationItem, operatorID string) {
	if e.events == nil {
		return
	}
	_ = e.events.Publish(r.Context(), routingKey, events.Event{
		ConversationID: conv.ConversationID,
		OperatorID:     operatorID,
		Priority:       string(conv.Priority),
		OccurredAt:     conv.UpdatedAt,
	})
}

func operatorIdentity(r *http.Request) (identity.Identity, error) {
	operator, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		return identity.Identity{}, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Operator identity missing.",
			ErrorLog:   fmt.Errorf("no operator identity on request context"),
		}
	}
	return operator, nil
}
