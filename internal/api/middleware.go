package api

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const actorKey ctxKey = 0

// actorID returns the authenticated user id placed by requireAuth.
func actorID(ctx context.Context) string {
	id, _ := ctx.Value(actorKey).(string)
	return id
}

// requireAuth validates the bearer token and stores the acting user's id
// in the request context. Websocket clients may pass the token as a query
// parameter since browsers cannot set headers on upgrade requests.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else if q := r.URL.Query().Get("token"); q != "" {
			token = q
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := s.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
