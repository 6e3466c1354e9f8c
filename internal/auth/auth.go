// Package auth is the thin stand-in for the identity-provider collaborator:
// it resolves bearer tokens to users and their quota tier, and binds a
// session reference to the request context.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/benchrunr/api/internal/config"
	"github.com/benchrunr/api/internal/session"
	"github.com/benchrunr/api/internal/types"
)

type contextKey struct{}

// Resolver maps bearer tokens to user identities.
type Resolver struct {
	tokens map[string]config.TokenInfo
	store  *session.Store
}

// NewResolver creates a resolver over the configured token table.
func NewResolver(cfg *config.Config, store *session.Store) *Resolver {
	return &Resolver{tokens: cfg.Tokens, store: store}
}

// Middleware authenticates the request and stores a strong session
// reference in the context. The reference is released when the request
// ends, so only the session store keeps sessions alive between requests.
func (rv *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		info, ok := rv.tokens[token]
		if token == "" || !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{
				Message: "missing or unknown token",
				Code:    http.StatusUnauthorized,
			})
			return
		}

		ref := rv.store.Acquire(info.User, info.Starred)
		defer ref.Release()

		ctx := context.WithValue(r.Context(), contextKey{}, ref)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RefFrom returns the session reference bound to the request context. The
// reference is valid for the lifetime of the request; handlers that need it
// beyond that (deferred timers) must downgrade or clone it.
func RefFrom(ctx context.Context) *session.Ref {
	ref, _ := ctx.Value(contextKey{}).(*session.Ref)
	return ref
}

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter for websocket clients that cannot set
// headers.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
