package httpserver

import (
	"context"
	"net/http"
	"strings"

	"chatsync/internal/domain"
	"chatsync/internal/security"
	"chatsync/internal/service"
)

type contextKey string

const (
	claimsContextKey contextKey = "claims"
	userContextKey   contextKey = "currentUser"
)

// CallerID returns the authenticated profile id, or "" outside AuthMiddleware.
func CallerID(r *http.Request) string {
	if c, ok := r.Context().Value(claimsContextKey).(*security.Claims); ok {
		return c.UserID()
	}
	return ""
}

// CurrentUser extracts the caller's profile from context, if any.
func CurrentUser(r *http.Request) *domain.Profile {
	if u, ok := r.Context().Value(userContextKey).(*domain.Profile); ok {
		return u
	}
	return nil
}

// AuthMiddleware validates the Bearer token and attaches its claims to the context.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProvisionMiddleware makes sure the caller has a profile, creating one
// named after the token on first contact.
func ProvisionMiddleware(profiles *service.ProfileService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := r.Context().Value(claimsContextKey).(*security.Claims)
			if claims == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			user, err := profiles.Ensure(r.Context(), claims.UserID(), claims.Username)
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
