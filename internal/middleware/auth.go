package middleware

import (
	"context"
	"net/http"
	"strings"

	"cardwise-api/internal/auth"
)

type contextKey string

// userIDKey carries the authenticated user id through the request context.
const userIDKey contextKey = "user_id"

// UserIDFromContext returns the authenticated user id, or "" when the
// request carried no valid token.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RequireAuth rejects requests without a valid Bearer token and stores the
// token's user id in the request context.
func RequireAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := userIDFromHeader(tokens, r)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "authentication required"}`))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the user id when a valid token is present but lets
// anonymous requests through. Used by the feedback and missing-card routes.
func OptionalAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, ok := userIDFromHeader(tokens, r); ok {
				r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userIDFromHeader(tokens *auth.TokenService, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	tokenStr, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenStr == "" {
		return "", false
	}
	userID, err := tokens.ParseToken(tokenStr)
	if err != nil {
		return "", false
	}
	return userID, true
}
