package middleware

import (
	"errors"
	"net/http"

	"github.com/moveops-platform/apps/migrator/internal/auth"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

type AuthMiddleware struct {
	Keys store.APIKeyStore
}

// RequireAPIKey resolves the bearer token to an API key and stores the key's
// owner and scopes on the request context.
func (m AuthMiddleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r)
		if !ok {
			unauthorized(w, r, "Authentication required")
			return
		}

		key, err := m.Keys.GetAPIKeyByHash(r.Context(), auth.HashToken(token))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				unauthorized(w, r, "API key is invalid")
				return
			}
			writeError(w, r, http.StatusInternalServerError, codeInternal, "Failed to load API key", nil)
			return
		}

		ctx := WithActor(r.Context(), Actor{
			KeyID:   key.ID,
			OwnerID: key.OwnerID,
			KeyName: key.Name,
			Scopes:  key.Scopes,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
