package router

import (
	"net/http"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/endpoints"
	"support-desk-backend/internal/api/middleware"
	"support-desk-backend/internal/service/conversation"
	"support-desk-backend/internal/service/escalation"
	"support-desk-backend/internal/service/queue"
	syncservice "support-desk-backend/internal/service/sync"
)

// OperatorRoutes wires the dashboard routes behind the operator JWT
// middleware.
func OperatorRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		conversations := conversation.New(s.Database(), s.VisitorSecret())
		queueService := queue.New(s.Database(), s.Logger(), s.StatsTTL())
		syncService := syncservice.New(conversations)
		esc := escalation.New(conversations, queueService, s.Generator(), s.Events(), s.Logger())

		e := endpoints.NewOperatorEndpoints(conversations, queueService, syncService, esc, s.Handler(), s.Events(), prefix)

		auth := middleware.RequireOperator(s.IdentityProvider())

		mux.HandleFunc(prefix+"/queue", s.MakeHTTPHandleFunc(e.HandleQueue, auth))
		mux.HandleFunc(prefix+"/queue/", s.MakeHTTPHandleFunc(e.HandleQueueResources, auth))
		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(e.HandleConversationResources, auth))
	}
}
