// Package progress publishes live job counters for polling clients.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/moveops-platform/apps/migrator/internal/store"
)

var ErrNotFound = errors.New("no progress recorded")

const defaultTTL = 24 * time.Hour

type Snapshot struct {
	JobID     uuid.UUID    `json:"jobId"`
	Status    store.Status `json:"status"`
	Totals    store.Totals `json:"totals"`
	Batch     int          `json:"batch"`
	Percent   float64      `json:"percent"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// NewSnapshot derives the completion percentage from totals.
func NewSnapshot(jobID uuid.UUID, status store.Status, totals store.Totals, batch int, at time.Time) Snapshot {
	percent := 0.0
	if totals.Total > 0 {
		percent = float64(totals.Processed()) * 100 / float64(totals.Total)
	} else if status == store.StatusCompleted {
		percent = 100
	}
	return Snapshot{JobID: jobID, Status: status, Totals: totals, Batch: batch, Percent: percent, UpdatedAt: at}
}

type Tracker interface {
	Publish(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, jobID uuid.UUID) (Snapshot, error)
}

func Key(jobID uuid.UUID) string {
	return "migration:progress:" + jobID.String()
}

type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Publish(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := r.client.Set(ctx, Key(snap.JobID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, jobID uuid.UUID) (Snapshot, error) {
	payload, err := r.client.Get(ctx, Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read progress: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode progress: %w", err)
	}
	return snap, nil
}

// Memory keeps the latest snapshot per job in process.
type Memory struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]Snapshot
}

func NewMemory() *Memory {
	return &Memory{snaps: map[uuid.UUID]Snapshot{}}
}

func (m *Memory) Publish(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.JobID] = snap
	return nil
}

func (m *Memory) Get(_ context.Context, jobID uuid.UUID) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[jobID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}
