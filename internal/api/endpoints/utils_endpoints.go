package endpoints

import "net/http"

type UtilsEndpoints interface {
	Health(w http.ResponseWriter, r *http.Request) error
}

type utilsEndpoints struct{}

func NewUtilsEndpoints() UtilsEndpoints {
	return &utilsEndpoints{}
}

func (e *utilsEndpoints) Health(w http.ResponseWriter, r *http.Request) error {
	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "ok"})
}
