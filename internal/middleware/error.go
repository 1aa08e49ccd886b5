package middleware

import (
	"encoding/json"
	"net/http"
)

// Error codes shared by the middleware chain. Handlers use the same envelope
// through httpx.
const (
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeRateLimited      = "rate_limited"
	codePayloadTooLarge  = "payload_too_large"
	codeOriginNotAllowed = "origin_not_allowed"
	codeInternal         = "internal_error"
)

type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"requestId"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error:     errorBody{Code: code, Message: message, Details: details},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="migrator"`)
	writeError(w, r, http.StatusUnauthorized, codeUnauthorized, message, nil)
}
