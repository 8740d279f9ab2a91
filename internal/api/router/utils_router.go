package router

import (
	"net/http"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/endpoints"
)

func UtilsRoutes() api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		e := endpoints.NewUtilsEndpoints()

		mux.HandleFunc("/health", s.MakeHTTPHandleFunc(e.Health))
	}
}
