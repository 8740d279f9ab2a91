package middleware

import (
	"context"
	"net/http"

	"support-desk-backend/internal/identity"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// RequireOperator rejects requests without a valid operator token and stores
// the resolved identity on the request context. Inactive or unprivileged
// operators get 403.
func RequireOperator(provider *identity.Provider) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, err := provider.FromAuthorizationHeader(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !id.Privileged() {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, id)
			next(w, r.WithContext(ctx))
		}
	}
}

// OperatorFromContext returns the identity RequireOperator stored, if any.
func OperatorFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(operatorContextKey).(identity.Identity)
	return id, ok
}
