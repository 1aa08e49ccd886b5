package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
)

const (
	ActionMigrationSubmitted = "migration.submitted"
	ActionMigrationReused    = "migration.reused"
	ActionMigrationCancelled = "migration.cancelled"

	EntityMigrationJob = "migration_job"
)

type Logger struct {
	store store.AuditStore
}

func NewLogger(s store.AuditStore) *Logger {
	return &Logger{store: s}
}

type Entry struct {
	OwnerID    uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	RequestID  string
	Metadata   map[string]any
}

func (l *Logger) Log(ctx context.Context, entry Entry) error {
	if l == nil || l.store == nil {
		return nil
	}
	err := l.store.InsertAudit(ctx, store.AuditEntry{
		OwnerID:    entry.OwnerID,
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RequestID:  entry.RequestID,
		Metadata:   entry.Metadata,
	})
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
