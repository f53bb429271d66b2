package auth

import (
	"context"
	"net/http"
)

// contextKey is an unexported type for context keys in this package, so
// no other package can read or shadow the values we store.
type contextKey string

const userIDKey contextKey = "userID"

// SessionCookie is the name of the HttpOnly cookie carrying the JWT.
const SessionCookie = "token"

// RequireAuth enforces authentication on protected routes. It reads the
// JWT from the session cookie, validates it, and stores the userID in
// the request context. Missing or invalid tokens end the request with
// 401 Unauthorized.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				http.Error(w, `{"error":"unauthorized","message":"valid authentication required"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth extracts the user identity if a valid session cookie is
// present, but never blocks the request. Score submission uses this:
// a logged-in player submits under their account, everyone else falls
// back to a device id.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil && userID != "" {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext retrieves the authenticated user's ID from the
// request context. Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// extractUserID reads the session cookie and validates the JWT inside.
func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", err
	}

	return tokens.Validate(cookie.Value)
}
