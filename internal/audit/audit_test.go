package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
)

func TestLogWritesEntry(t *testing.T) {
	mem := store.NewMemory()
	owner, jobID := uuid.New(), uuid.New()

	err := NewLogger(mem).Log(context.Background(), Entry{
		OwnerID:    owner,
		Action:     ActionMigrationSubmitted,
		EntityType: EntityMigrationJob,
		EntityID:   &jobID,
		RequestID:  "req-1",
		Metadata:   map[string]any{"entity": "contact"},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	entries := mem.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.OwnerID != owner || got.Action != ActionMigrationSubmitted || got.EntityID == nil || *got.EntityID != jobID {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), Entry{Action: "x"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
