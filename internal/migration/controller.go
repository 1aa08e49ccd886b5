package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/audit"
	"github.com/moveops-platform/apps/migrator/internal/blobstore"
	"github.com/moveops-platform/apps/migrator/internal/distlock"
	"github.com/moveops-platform/apps/migrator/internal/metrics"
	"github.com/moveops-platform/apps/migrator/internal/progress"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

const (
	submitLockTTL  = 30 * time.Second
	submitLockWait = 10 * time.Second
	interruptedMsg = "interrupted: server stopped while the job was processing"
)

// Actor identifies who triggered an operation, for the audit log.
type Actor struct {
	KeyID     *uuid.UUID
	RequestID string
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}

type ControllerConfig struct {
	Jobs            store.JobStore
	Entities        store.EntityStore
	Blobs           blobstore.Store
	Processor       *Processor
	Locker          distlock.Locker
	Progress        progress.Tracker
	Audit           *audit.Logger
	Logger          *slog.Logger
	MaxContentBytes int
	Now             func() time.Time
}

// Controller accepts submissions and owns the background runs they start.
type Controller struct {
	jobs      store.JobStore
	entities  store.EntityStore
	blobs     blobstore.Store
	processor *Processor
	locker    distlock.Locker
	progress  progress.Tracker
	audit     *audit.Logger
	logger    *slog.Logger
	maxBytes  int
	now       func() time.Time

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewController binds background runs to ctx: cancelling it stops running
// jobs at their next row.
func NewController(ctx context.Context, cfg ControllerConfig) *Controller {
	c := &Controller{
		jobs:      cfg.Jobs,
		entities:  cfg.Entities,
		blobs:     cfg.Blobs,
		processor: cfg.Processor,
		locker:    cfg.Locker,
		progress:  cfg.Progress,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		maxBytes:  cfg.MaxContentBytes,
		now:       cfg.Now,
		baseCtx:   ctx,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.maxBytes <= 0 || c.maxBytes > MaxContentBytes {
		c.maxBytes = MaxContentBytes
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.locker == nil {
		c.locker = distlock.NewLocalLocker()
	}
	if c.progress == nil {
		c.progress = progress.NewMemory()
	}
	return c
}

func (c *Controller) normalize(req *SubmitRequest) error {
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		req.Source = "csv"
	}
	if req.Strategy == "" {
		req.Strategy = store.StrategySkip
	}
	if err := validateRequest(*req); err != nil {
		return err
	}
	if len(req.Content) > c.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(req.Content), c.maxBytes)
	}
	return nil
}

// Submit creates a job for the upload, or returns the live job an identical
// earlier submission created. Processing continues in the background.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := c.normalize(&req); err != nil {
		metrics.RecordSubmit(string(req.Entity), "rejected")
		return SubmitResult{}, err
	}
	key, err := IdempotencyKey(req.Mapping, req.Content)
	if err != nil {
		return SubmitResult{}, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, submitLockWait)
	defer cancel()
	lock := c.locker.NewLock("migration:submit:"+req.OwnerID.String()+":"+key, submitLockTTL)
	if err := distlock.Wait(lockCtx, lock, 50*time.Millisecond); err != nil {
		return SubmitResult{}, fmt.Errorf("acquire submit lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("migration_submit_unlock_failed", "error", err)
		}
	}()

	if existing, err := c.jobs.FindReusableJob(ctx, req.OwnerID, key); err == nil {
		return c.reuse(ctx, req, existing), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return SubmitResult{}, fmt.Errorf("find existing job: %w", err)
	}

	mapping, err := encodeMapping(req.Mapping)
	if err != nil {
		return SubmitResult{}, err
	}
	job := &store.Job{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		Source:         req.Source,
		Entity:         req.Entity,
		Strategy:       req.Strategy,
		Mapping:        mapping,
		IdempotencyKey: key,
		FileName:       req.FileName,
		ContentHash:    ContentHash(req.Content),
		Status:         store.StatusPending,
	}
	job.ContentKey = contentKey(job.OwnerID, job.ID, req.FileName)

	if err := c.blobs.Put(ctx, job.ContentKey, req.Content); err != nil {
		return SubmitResult{}, fmt.Errorf("store upload: %w", err)
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		c.discardBlob(job.ContentKey)
		if errors.Is(err, store.ErrConflict) {
			if existing, findErr := c.jobs.FindReusableJob(ctx, req.OwnerID, key); findErr == nil {
				return c.reuse(ctx, req, existing), nil
			}
		}
		return SubmitResult{}, fmt.Errorf("create job: %w", err)
	}

	metrics.RecordSubmit(string(req.Entity), "created")
	c.record(ctx, job.OwnerID, audit.ActionMigrationSubmitted, job.ID, map[string]any{
		"entity":   string(job.Entity),
		"source":   job.Source,
		"strategy": string(job.Strategy),
		"fileName": job.FileName,
		"bytes":    len(req.Content),
	})
	c.logger.Info("migration_job_submitted", "job_id", job.ID, "owner_id", job.OwnerID, "entity", job.Entity, "bytes", len(req.Content))

	c.dispatch(job.ID)
	return SubmitResult{JobID: job.ID, Status: store.StatusPending}, nil
}

func (c *Controller) reuse(ctx context.Context, req SubmitRequest, existing store.Job) SubmitResult {
	metrics.RecordSubmit(string(req.Entity), "reused")
	c.record(ctx, existing.OwnerID, audit.ActionMigrationReused, existing.ID, map[string]any{
		"status": string(existing.Status),
	})
	c.logger.Info("migration_job_reused", "job_id", existing.ID, "owner_id", existing.OwnerID, "status", existing.Status)
	return SubmitResult{JobID: existing.ID, Reused: true, Status: existing.Status}
}

func (c *Controller) dispatch(jobID uuid.UUID) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.processor.Run(c.baseCtx, jobID); err != nil {
			c.logger.Warn("migration_job_run_error", "job_id", jobID, "error", err)
		}
	}()
}

// Wait blocks until every dispatched run has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Recover resumes pending jobs and fails processing jobs that no running
// worker holds, e.g. after a crash.
func (c *Controller) Recover(ctx context.Context) error {
	processing, err := c.jobs.ListJobsByStatus(ctx, store.StatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}
	for _, job := range processing {
		lock := c.locker.NewLock("migration:job:"+job.ID.String(), defaultJobLockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("probe job lock: %w", err)
		}
		if !acquired {
			continue
		}
		_, err = c.jobs.FinishJob(ctx, job.ID, store.JobResult{
			Status:       store.StatusFailed,
			Totals:       job.Totals,
			ErrorMessage: interruptedMsg,
			FinishedAt:   c.now(),
		})
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			c.logger.Warn("migration_job_unlock_failed", "job_id", job.ID, "error", releaseErr)
		}
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		c.logger.Warn("migration_job_interrupted", "job_id", job.ID)
	}

	pending, err := c.jobs.ListJobsByStatus(ctx, store.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		c.logger.Info("migration_job_resumed", "job_id", job.ID)
		c.dispatch(job.ID)
	}
	return nil
}

// GetJob returns the owner's job. Jobs of other owners are reported as not
// found.
func (c *Controller) GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (store.Job, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return store.Job{}, err
	}
	if job.OwnerID != ownerID {
		return store.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (c *Controller) ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]store.Job, error) {
	return c.jobs.ListJobs(ctx, ownerID, limit)
}

func (c *Controller) ListErrors(ctx context.Context, ownerID, jobID uuid.UUID, limit, offset int) ([]store.ErrorRecord, int, error) {
	if _, err := c.GetJob(ctx, ownerID, jobID); err != nil {
		return nil, 0, err
	}
	return c.jobs.ListErrors(ctx, jobID, limit, offset)
}

// Cancel marks a pending or processing job cancelled. A running job stops
// at its next batch boundary.
func (c *Controller) Cancel(ctx context.Context, ownerID, jobID uuid.UUID) (store.Job, error) {
	job, err := c.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return store.Job{}, err
	}
	if job.Status.Terminal() {
		return job, ErrJobTerminal
	}
	cancelled, err := c.jobs.CancelJob(ctx, jobID, c.now())
	if err != nil {
		return store.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	if !cancelled {
		current, _ := c.jobs.GetJob(ctx, jobID)
		return current, ErrJobTerminal
	}

	c.record(ctx, ownerID, audit.ActionMigrationCancelled, jobID, map[string]any{
		"previousStatus": string(job.Status),
	})
	c.logger.Info("migration_job_cancel_requested", "job_id", jobID, "previous_status", job.Status)
	return c.jobs.GetJob(ctx, jobID)
}

// Progress returns the latest published snapshot, falling back to the
// persisted totals when none was published.
func (c *Controller) Progress(ctx context.Context, ownerID, jobID uuid.UUID) (progress.Snapshot, error) {
	job, err := c.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	snap, err := c.progress.Get(ctx, jobID)
	if err == nil && !job.Status.Terminal() {
		return snap, nil
	}
	if err != nil && !errors.Is(err, progress.ErrNotFound) {
		c.logger.Warn("migration_progress_read_failed", "job_id", jobID, "error", err)
	}
	return progress.NewSnapshot(jobID, job.Status, job.Totals, -1, c.now()), nil
}

func (c *Controller) record(ctx context.Context, ownerID uuid.UUID, action string, jobID uuid.UUID, metadata map[string]any) {
	actor := actorFrom(ctx)
	err := c.audit.Log(ctx, audit.Entry{
		OwnerID:    ownerID,
		ActorID:    actor.KeyID,
		Action:     action,
		EntityType: audit.EntityMigrationJob,
		EntityID:   &jobID,
		RequestID:  actor.RequestID,
		Metadata:   metadata,
	})
	if err != nil {
		c.logger.Warn("migration_audit_failed", "action", action, "job_id", jobID, "error", err)
	}
}

func (c *Controller) discardBlob(key string) {
	if err := c.blobs.Delete(context.Background(), key); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		c.logger.Warn("migration_upload_cleanup_failed", "key", key, "error", err)
	}
}

func contentKey(ownerID, jobID uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if len(ext) > 8 {
		ext = ""
	}
	return "uploads/" + ownerID.String() + "/" + jobID.String() + ext
}
