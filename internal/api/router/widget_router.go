package router

import (
	"net/http"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/endpoints"
	"support-desk-backend/internal/service/conversation"
	"support-desk-backend/internal/service/escalation"
	"support-desk-backend/internal/service/queue"
	syncservice "support-desk-backend/internal/service/sync"
)

// WidgetRoutes wires the visitor-facing routes. No operator middleware here;
// the endpoints check visitor tokens themselves.
func WidgetRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		conversations := conversation.New(s.Database(), s.VisitorSecret())
		queueService := queue.New(s.Database(), s.Logger(), s.StatsTTL())
		syncService := syncservice.New(conversations)
		esc := escalation.New(conversations, queueService, nil, s.Events(), s.Logger())

		e := endpoints.NewWidgetEndpoints(conversations, syncService, esc, s.Handler(), prefix)

		mux.HandleFunc(prefix+"/conversations", s.MakeHTTPHandleFunc(e.HandleConversations))
		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(e.HandleConversationResources))
	}
}
