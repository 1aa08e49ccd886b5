package addressval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/moveops-platform/apps/migrator/internal/address"
)

const googleBody = `{
  "result": {
    "verdict": {"addressComplete": true, "hasInferredComponents": true},
    "address": {"postalAddress": {"addressLines": ["123 MAIN ST"], "locality": "SPRINGFIELD", "administrativeArea": "IL", "postalCode": "62701-1234"}},
    "geocode": {"location": {"latitude": 39.8, "longitude": -89.6}},
    "uspsData": {"county": "SANGAMON", "dpvConfirmation": "Y"}
  }
}`

func TestGoogleValidateParsesVerdict(t *testing.T) {
	var gotKey string
	var gotBody googleRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(googleBody))
	}))
	defer srv.Close()

	g, err := NewGoogle("secret", srv.Client())
	if err != nil {
		t.Fatalf("new google: %v", err)
	}
	g.WithEndpoint(srv.URL)

	res, err := g.Validate(context.Background(), address.Parts{Street: "123 Main Street", City: "Springfield", State: "IL", Zip: "62701"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if gotKey != "secret" || !gotBody.EnableUspsCass || gotBody.Address.RegionCode != "US" {
		t.Fatalf("unexpected request key=%q body=%+v", gotKey, gotBody)
	}
	if !res.Valid || res.Confidence != 0.85 || res.DPVCode != "Y" || res.Source != SourceGoogle {
		t.Fatalf("unexpected result %+v", res)
	}
	std := res.Standardized
	if std.Street != "123 MAIN ST" || std.Zip != "62701" || std.Zip4 != "1234" || std.County != "SANGAMON" {
		t.Fatalf("unexpected standardized address %+v", std)
	}
	if std.Latitude == nil || *std.Latitude != 39.8 {
		t.Fatalf("expected latitude, got %v", std.Latitude)
	}
}

func TestGoogleValidateReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	g, _ := NewGoogle("secret", srv.Client())
	g.WithEndpoint(srv.URL)
	if _, err := g.Validate(context.Background(), address.Parts{Street: "1 Main St"}); err == nil {
		t.Fatal("expected error for 403")
	}
}

func TestNewGoogleRequiresKey(t *testing.T) {
	if _, err := NewGoogle(" ", nil); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestRetryClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), 3, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestRetryClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), 3, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestConfidence(t *testing.T) {
	cases := []struct {
		complete, inferred, unconfirmed bool
		want                            float64
	}{
		{true, false, false, 1.0},
		{true, true, false, 0.85},
		{true, true, true, 0.6},
		{false, true, false, 0.4},
		{false, false, true, 0.2},
	}
	for _, tc := range cases {
		if got := Confidence(tc.complete, tc.inferred, tc.unconfirmed); got != tc.want {
			t.Fatalf("Confidence(%v,%v,%v) = %v, want %v", tc.complete, tc.inferred, tc.unconfirmed, got, tc.want)
		}
	}
}

func TestMock(t *testing.T) {
	res, err := Mock{}.Validate(context.Background(), address.Parts{Street: "12 Oak Avenue", City: "Austin", State: "tx", Zip: "78701-0001"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid || res.Standardized.State != "TX" || res.Standardized.Zip4 != "0001" {
		t.Fatalf("unexpected mock result %+v", res)
	}
	res, _ = Mock{}.Validate(context.Background(), address.Parts{Street: "1 A", City: "X"})
	if res.Valid {
		t.Fatal("expected short address to be invalid")
	}
}
