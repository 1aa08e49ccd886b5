package app

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	openapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	"github.com/moveops-platform/apps/migrator/internal/auth"
	"github.com/moveops-platform/apps/migrator/internal/config"
	"github.com/moveops-platform/apps/migrator/internal/handlers"
	"github.com/moveops-platform/apps/migrator/internal/httpx"
	"github.com/moveops-platform/apps/migrator/internal/metrics"
	"github.com/moveops-platform/apps/migrator/internal/middleware"
	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

//go:embed openapi.yaml
var openapiSpec []byte

// multipartOverhead covers the options part and multipart framing on top of
// the file itself.
const multipartOverhead = 1 << 20

type Deps struct {
	Config     config.Config
	Keys       store.APIKeyStore
	Migrations *migration.Controller
	Logger     *slog.Logger
}

func LoadSpec() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return doc, nil
}

func NewRouter(deps Deps) (http.Handler, error) {
	doc, err := LoadSpec()
	if err != nil {
		return nil, err
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.Env))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.BodyLimit(cfg.APIMaxBodyBytes, middleware.BodyLimitOverride{
		PathPrefix: "/migrations",
		MaxBytes:   cfg.MigrationMaxFileBytes + multipartOverhead,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	api := chi.NewRouter()
	api.Use(openapimiddleware.OapiRequestValidatorWithOptions(doc, &openapimiddleware.Options{
		SilenceServersWarning: true,
		Options: openapi3filter.Options{
			ExcludeRequestBody: true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			requestID := w.Header().Get(middleware.HeaderRequestID)
			httpx.WriteJSON(w, statusCode, httpx.ErrorEnvelope{
				Error:     httpx.ErrorBody{Code: "validation_error", Message: message},
				RequestID: requestID,
			})
		},
	}))

	h := handlers.NewServer(deps.Migrations, logger, cfg.MigrationMaxFileBytes)
	authMW := middleware.AuthMiddleware{Keys: deps.Keys}
	submitLimiter := middleware.NewOwnerRateLimiter(cfg.SubmitRatePerMin, time.Minute, cfg.RateLimitMaxIPs)

	api.Get("/health", h.GetHealth)

	api.Group(func(protected chi.Router) {
		if cfg.AuthRatePerMin > 0 {
			authLimiter := middleware.NewIPRateLimiterWithMaxEntries(cfg.AuthRatePerMin, time.Minute, cfg.RateLimitMaxIPs)
			protected.Use(authLimiter.Middleware("Too many requests from this address"))
		}
		protected.Use(authMW.RequireAPIKey)

		protected.Group(func(read chi.Router) {
			read.Use(middleware.RequireScope(auth.ScopeRead))
			read.Get("/migrations", h.GetMigrations)
			read.Get("/migrations/presets", h.GetMigrationsPresets)
			read.Get("/migrations/{jobId}", withJobID(h.GetMigrationsJobId))
			read.Get("/migrations/{jobId}/errors", withJobID(h.GetMigrationsJobIdErrors))
			read.Get("/migrations/{jobId}/progress", withJobID(h.GetMigrationsJobIdProgress))
		})

		protected.Group(func(write chi.Router) {
			write.Use(middleware.RequireScope(auth.ScopeWrite))
			write.With(submitLimiter.Middleware("Too many migration submissions")).Post("/migrations", h.PostMigrations)
			write.Post("/migrations/dry-run", h.PostMigrationsDryRun)
			write.Post("/migrations/{jobId}/cancel", withJobID(h.PostMigrationsJobIdCancel))
		})
	})

	r.Mount("/api", api)
	return r, nil
}

func withJobID(next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobId"))
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "jobId must be a UUID", map[string]string{"jobId": "uuid"})
			return
		}
		next(w, r, id)
	}
}
