package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRecordBatchCountsOutcomes(t *testing.T) {
	RecordBatch("client", 3, 0, 1, 0, 10*time.Millisecond)
	body := scrape(t)
	if !strings.Contains(body, `migration_rows_total{entity="client",outcome="inserted"} 3`) {
		t.Fatalf("inserted rows not exported:\n%s", body)
	}
	if strings.Contains(body, `migration_rows_total{entity="client",outcome="error"}`) {
		t.Fatalf("zero deltas should not create series")
	}
}

func TestSubmitAndJobCounters(t *testing.T) {
	RecordSubmit("order", "created")
	JobStarted()
	JobFinished("order", "completed", time.Second)
	body := scrape(t)
	for _, want := range []string{
		`migration_jobs_submitted_total{entity="order",result="created"} 1`,
		`migration_jobs_finished_total{entity="order",status="completed"} 1`,
		`migration_jobs_running 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
}
