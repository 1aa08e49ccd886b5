package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateTokenIsPrefixedAndUnique(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(a, TokenPrefix) || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
	if HashToken(a) == HashToken(b) || HashToken(a) != HashToken(a) {
		t.Fatalf("hash must be deterministic and distinct")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer mig_abc":   "mig_abc",
		"bearer   mig_abc": "mig_abc",
		"Basic Zm9vOmJhcg": "",
		"Bearer ":          "",
		"":                 "",
	}
	for header, want := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		got, ok := BearerToken(req)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q, %v", header, got, ok)
		}
	}
}
