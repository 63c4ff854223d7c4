// Package middleware provides HTTP middleware for the assistant API.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user id.
	UserIDKey ContextKey = "user_id"
	// ScopesKey is the context key for JWT scopes.
	ScopesKey ContextKey = "scopes"
)

// ScopeAdmin grants access to store-wide statistics.
const ScopeAdmin = "assistant:admin"

// Claims represents JWT claims. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope"`
}

// Auth creates JWT authentication middleware. Tokens must be HMAC signed
// with jwtSecret and carry a subject.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			noteUser(r.Context(), claims.Subject)
			ctx := WithUserID(r.Context(), claims.Subject)
			ctx = context.WithValue(ctx, ScopesKey, claims.Scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID gets the user id from context.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetScopes gets scopes from context.
func GetScopes(ctx context.Context) []string {
	v, _ := ctx.Value(ScopesKey).([]string)
	return v
}

// HasScope checks if the context has a specific scope.
func HasScope(ctx context.Context, scope string) bool {
	return slices.Contains(GetScopes(ctx), scope)
}

// RequireScope creates middleware that requires a specific scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
