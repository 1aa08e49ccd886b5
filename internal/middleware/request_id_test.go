package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDKeepsOrReplacesHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{"caller id kept", "req-123", true},
		{"missing id minted", "", false},
		{"control characters replaced", "abc\nforged log line", false},
		{"oversized id replaced", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tc.header != "" {
				req.Header.Set(HeaderRequestID, tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			got := rr.Header().Get(HeaderRequestID)
			if got != seen {
				t.Fatalf("header %q and context %q differ", got, seen)
			}
			if tc.keep && got != tc.header {
				t.Fatalf("expected %q to be kept, got %q", tc.header, got)
			}
			if !tc.keep && (got == tc.header || len(got) != 36) {
				t.Fatalf("expected a minted uuid, got %q", got)
			}
		})
	}
}
