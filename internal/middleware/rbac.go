package middleware

import "net/http"

// RequireScope rejects requests whose API key does not grant scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "Authentication required")
				return
			}
			if !actor.HasScope(scope) {
				writeError(w, r, http.StatusForbidden, codeForbidden, "API key lacks the required scope", map[string]string{"scope": scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
