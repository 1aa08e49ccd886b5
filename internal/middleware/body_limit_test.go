package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// chunked hides the length so only MaxBytesReader can enforce the cap.
type chunked struct{ io.Reader }

func TestBodyLimitOverrides(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router := BodyLimit(2, BodyLimitOverride{PathPrefix: "/migrations", MaxBytes: 10})(handler)

	cases := []struct {
		name   string
		path   string
		body   io.Reader
		status int
	}{
		{"override applies on /api path", "/api/migrations", strings.NewReader("12345"), http.StatusOK},
		{"override applies unmounted", "/migrations/dry-run", strings.NewReader("12345"), http.StatusOK},
		{"default limit applies elsewhere", "/api/health", strings.NewReader("12345"), http.StatusRequestEntityTooLarge},
		{"undeclared length is still capped", "/api/migrations", chunked{strings.NewReader(strings.Repeat("x", 20))}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, tc.body)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestBodyLimitRefusesDeclaredLength(t *testing.T) {
	called := false
	router := BodyLimit(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/migrations", strings.NewReader("123456"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if called {
		t.Fatal("handler should not run for an oversized declared body")
	}
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	var env errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error.Code != codePayloadTooLarge {
		t.Fatalf("expected %s, got %s", codePayloadTooLarge, env.Error.Code)
	}
}
