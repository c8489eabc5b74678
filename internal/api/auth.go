package api

import (
	"context"
	"net/http"
	"strings"

	"mediarelay/internal/auth"
)

type contextKey string

const claimsContextKey contextKey = "adminClaims"

// ContextWithClaims stores verified admin claims in the provided context.
func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves verified admin claims from context if present.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// ExtractToken pulls the bearer token from the Authorization header. An empty
// result means the header was absent or not a bearer scheme.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthenticateRequest validates the bearer token on the request and returns
// the admin claims. Every failure collapses into auth.ErrInvalidToken so the
// response cannot reveal which check rejected the caller.
func (h *Handler) AuthenticateRequest(r *http.Request) (*auth.Claims, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return h.Tokens.Verify(token)
}

// requireAdmin resolves the caller from middleware-populated context, falling
// back to verifying the request directly. It writes the single generic 401 on
// failure.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return claims, true
	}
	claims, err := h.AuthenticateRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidToken)
		return nil, false
	}
	return claims, true
}
