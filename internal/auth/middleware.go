package auth

import (
	"context"
	"net/http"
	"strings"

	"llm-gateway/internal/logger"
)

type contextKey string

const accountContextKey contextKey = "account"

// Middleware rejects requests without a valid token and stashes the
// account id in the request context. EventSource clients cannot set
// headers, so a token query parameter is accepted as a fallback.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		} else if token := r.URL.Query().Get("token"); token != "" {
			tokenString = token
		}

		if tokenString == "" {
			sendError(w, http.StatusUnauthorized, "Missing authorization token", nil)
			return
		}

		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			logger.Log.WithError(err).Debug("Token validation failed")
			sendError(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, claims.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ContextWithAccountID stashes an account id the way the middleware does.
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountContextKey, accountID)
}

// AccountIDFromContext returns the authenticated account id, if any.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountContextKey).(string)
	return id, ok
}
