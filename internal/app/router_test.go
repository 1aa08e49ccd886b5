package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/audit"
	"github.com/moveops-platform/apps/migrator/internal/auth"
	"github.com/moveops-platform/apps/migrator/internal/blobstore"
	"github.com/moveops-platform/apps/migrator/internal/config"
	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

type routerEnv struct {
	router     http.Handler
	mem        *store.Memory
	controller *migration.Controller
}

func testConfig() config.Config {
	return config.Config{
		Env:                   "test",
		CORSAllowedOrigins:    []string{"http://localhost:3000"},
		APIMaxBodyBytes:       1 << 20,
		MigrationMaxFileBytes: 1 << 20,
		SubmitRatePerMin:      100,
		RateLimitMaxIPs:       100,
		MetricsEnabled:        true,
	}
}

func newRouterEnv(t *testing.T, cfg config.Config) routerEnv {
	t.Helper()
	mem := store.NewMemory()
	blobs, err := blobstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local blobstore: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	processor := migration.NewProcessor(migration.ProcessorConfig{
		Jobs:     mem,
		Blobs:    blobs,
		Resolver: migration.NewResolver(mem, logger),
		Logger:   logger,
	})
	controller := migration.NewController(context.Background(), migration.ControllerConfig{
		Jobs:      mem,
		Entities:  mem,
		Blobs:     blobs,
		Processor: processor,
		Audit:     audit.NewLogger(mem),
		Logger:    logger,
	})

	router, err := NewRouter(Deps{Config: cfg, Keys: mem, Migrations: controller, Logger: logger})
	if err != nil {
		t.Fatalf("create router: %v", err)
	}
	return routerEnv{router: router, mem: mem, controller: controller}
}

func (e routerEnv) seedKey(t *testing.T, owner uuid.UUID, scopes ...string) string {
	t.Helper()
	token, err := auth.GenerateToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	key := &store.APIKey{OwnerID: owner, Name: "test", TokenHash: auth.HashToken(token), Scopes: scopes}
	if err := e.mem.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("seed api key: %v", err)
	}
	return token
}

func request(t *testing.T, router http.Handler, method, path, token string, body io.Reader, contentType string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	resBody, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, resBody
}

func uploadBody(t *testing.T, content string, options map[string]any) (io.Reader, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "contacts.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	encoded, _ := json.Marshal(options)
	if err := mw.WriteField("options", string(encoded)); err != nil {
		t.Fatalf("write options: %v", err)
	}
	_ = mw.Close()
	return &body, mw.FormDataContentType()
}

var contactUpload = map[string]any{
	"entity": "contact",
	"mapping": []map[string]any{
		{"sourceColumn": "Email", "targetField": "email"},
		{"sourceColumn": "First", "targetField": "first_name"},
	},
}

func submit(t *testing.T, env routerEnv, token string) string {
	t.Helper()
	body, ct := uploadBody(t, "Email,First\nada@example.com,Ada\n", contactUpload)
	status, resBody := request(t, env.router, http.MethodPost, "/api/migrations", token, body, ct)
	if status != http.StatusAccepted {
		t.Fatalf("submit expected 202, got %d (%s)", status, string(resBody))
	}
	var payload struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(resBody, &payload); err != nil {
		t.Fatalf("parse submit body: %v", err)
	}
	env.controller.Wait()
	return payload.JobID
}

func TestHealthIsPublic(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	status, body := request(t, env.router, http.MethodGet, "/api/health", "", nil, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", status, string(body))
	}
}

func TestMigrationsRequireAPIKey(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	status, body := request(t, env.router, http.MethodGet, "/api/migrations", "", nil, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (%s)", status, string(body))
	}
	status, _ = request(t, env.router, http.MethodGet, "/api/migrations", "mig_unknown", nil, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", status)
	}
}

func TestAuthAttemptsLimitedPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRatePerMin = 2
	env := newRouterEnv(t, cfg)

	for i := 0; i < 2; i++ {
		if status, _ := request(t, env.router, http.MethodGet, "/api/migrations", "mig_guess", nil, ""); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, status)
		}
	}
	status, _ := request(t, env.router, http.MethodGet, "/api/migrations", "mig_guess", nil, "")
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if status, _ := request(t, env.router, http.MethodGet, "/api/health", "", nil, ""); status != http.StatusOK {
		t.Fatalf("health should not be limited, got %d", status)
	}
}

func TestReadOnlyKeyCannotSubmit(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	token := env.seedKey(t, uuid.New(), auth.ScopeRead)

	body, ct := uploadBody(t, "Email\nada@example.com\n", contactUpload)
	status, resBody := request(t, env.router, http.MethodPost, "/api/migrations", token, body, ct)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", status, string(resBody))
	}

	status, _ = request(t, env.router, http.MethodGet, "/api/migrations", token, nil, "")
	if status != http.StatusOK {
		t.Fatalf("expected list to succeed with read scope, got %d", status)
	}
}

func TestOwnerIsolation(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	tokenA := env.seedKey(t, uuid.New(), "*")
	tokenB := env.seedKey(t, uuid.New(), "*")

	jobID := submit(t, env, tokenA)

	status, body := request(t, env.router, http.MethodGet, "/api/migrations/"+jobID, tokenA, nil, "")
	if status != http.StatusOK {
		t.Fatalf("owner read expected 200, got %d (%s)", status, string(body))
	}
	status, _ = request(t, env.router, http.MethodGet, "/api/migrations/"+jobID, tokenB, nil, "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for another owner's job, got %d", status)
	}
	status, _ = request(t, env.router, http.MethodPost, "/api/migrations/"+jobID+"/cancel", tokenB, nil, "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 cancelling another owner's job, got %d", status)
	}
}

func TestPresetsRouteIsNotAJobID(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	token := env.seedKey(t, uuid.New(), auth.ScopeRead)
	status, body := request(t, env.router, http.MethodGet, "/api/migrations/presets", token, nil, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", status, string(body))
	}
}

func TestRequestValidatorRejectsBadParams(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	token := env.seedKey(t, uuid.New(), "*")

	status, body := request(t, env.router, http.MethodGet, "/api/migrations/not-a-uuid", token, nil, "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad job id, got %d (%s)", status, string(body))
	}
	status, _ = request(t, env.router, http.MethodGet, "/api/migrations?limit=0", token, nil, "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit=0, got %d", status)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if envelope.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", envelope.Error.Code)
	}
}

func TestSubmitRateLimitPerOwner(t *testing.T) {
	cfg := testConfig()
	cfg.SubmitRatePerMin = 1
	env := newRouterEnv(t, cfg)
	token := env.seedKey(t, uuid.New(), "*")

	submit(t, env, token)

	body, ct := uploadBody(t, "Email\nsecond@example.com\n", contactUpload)
	status, resBody := request(t, env.router, http.MethodPost, "/api/migrations", token, body, ct)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d (%s)", status, string(resBody))
	}

	other := env.seedKey(t, uuid.New(), "*")
	submit(t, env, other)
}

func TestUploadOverBodyLimitIsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MigrationMaxFileBytes = 64
	env := newRouterEnv(t, cfg)
	token := env.seedKey(t, uuid.New(), "*")

	big := "Email\n" + string(bytes.Repeat([]byte("a@example.com\n"), 200))
	body, ct := uploadBody(t, big, contactUpload)
	status, resBody := request(t, env.router, http.MethodPost, "/api/migrations", token, body, ct)
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%s)", status, string(resBody))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	token := env.seedKey(t, uuid.New(), "*")
	submit(t, env, token)

	status, body := request(t, env.router, http.MethodGet, "/metrics", "", nil, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !bytes.Contains(body, []byte("migration_jobs_submitted_total")) {
		t.Fatalf("expected migration metrics in output")
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newRouterEnv(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("expected request id echo, got %q", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff header")
	}
}
