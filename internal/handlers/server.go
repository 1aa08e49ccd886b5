package handlers

import (
	"log/slog"
	"net/http"

	"github.com/moveops-platform/apps/migrator/internal/httpx"
	"github.com/moveops-platform/apps/migrator/internal/middleware"
	"github.com/moveops-platform/apps/migrator/internal/migration"
)

type Server struct {
	Migrations     *migration.Controller
	Logger         *slog.Logger
	MaxUploadBytes int64
}

func NewServer(controller *migration.Controller, logger *slog.Logger, maxUploadBytes int64) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = migration.MaxContentBytes
	}
	return &Server{Migrations: controller, Logger: logger, MaxUploadBytes: maxUploadBytes}
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireActor returns the authenticated API key and a context carrying it
// for the audit log.
func requireActor(w http.ResponseWriter, r *http.Request) (middleware.Actor, *http.Request, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return middleware.Actor{}, r, false
	}
	keyID := actor.KeyID
	ctx := migration.WithActor(r.Context(), migration.Actor{
		KeyID:     &keyID,
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
	return actor, r.WithContext(ctx), true
}
