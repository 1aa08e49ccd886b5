package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/blobstore"
	"github.com/moveops-platform/apps/migrator/internal/distlock"
	"github.com/moveops-platform/apps/migrator/internal/metrics"
	"github.com/moveops-platform/apps/migrator/internal/progress"
	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/tabular"
)

const defaultJobLockTTL = 30 * time.Minute

type ProcessorConfig struct {
	Jobs      store.JobStore
	Blobs     blobstore.Store
	Resolver  *Resolver
	Locker    distlock.Locker
	Progress  progress.Tracker
	Logger    *slog.Logger
	BatchSize int
	Now       func() time.Time
}

// Processor runs one job at a time through the resolvers, row by row in
// file order.
type Processor struct {
	jobs      store.JobStore
	blobs     blobstore.Store
	resolver  *Resolver
	locker    distlock.Locker
	progress  progress.Tracker
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		jobs:      cfg.Jobs,
		blobs:     cfg.Blobs,
		resolver:  cfg.Resolver,
		locker:    cfg.Locker,
		progress:  cfg.Progress,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.locker == nil {
		p.locker = distlock.NewLocalLocker()
	}
	if p.progress == nil {
		p.progress = progress.NewMemory()
	}
	return p
}

// Run claims and processes a pending job. A job that is locked elsewhere or
// no longer pending is left alone. The returned error is the job-fatal
// error, if any; it has already been recorded on the job.
func (p *Processor) Run(ctx context.Context, jobID uuid.UUID) error {
	lock := p.locker.NewLock("migration:job:"+jobID.String(), defaultJobLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire job lock: %w", err)
	}
	if !acquired {
		p.logger.Info("migration_job_locked", "job_id", jobID)
		return nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("migration_job_unlock_failed", "job_id", jobID, "error", err)
		}
	}()

	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	started := p.now()
	claimed, err := p.jobs.ClaimJob(ctx, jobID, started)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		p.logger.Info("migration_job_not_pending", "job_id", jobID)
		return nil
	}

	metrics.JobStarted()
	p.logger.Info("migration_job_started", "job_id", jobID, "entity", job.Entity, "source", job.Source, "strategy", job.Strategy)

	var totals store.Totals
	cancelled, runErr := p.process(ctx, job, &totals)

	result := store.JobResult{Status: store.StatusCompleted, Totals: totals, FinishedAt: p.now()}
	switch {
	case runErr != nil:
		result.Status = store.StatusFailed
		result.ErrorMessage = runErr.Error()
	case cancelled:
		result.Status = store.StatusCancelled
	}

	final, err := p.jobs.FinishJob(context.WithoutCancel(ctx), jobID, result)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		metrics.JobFinished(string(job.Entity), string(store.StatusFailed), p.now().Sub(started))
		return fmt.Errorf("finish job: %w", err)
	}
	p.publish(context.WithoutCancel(ctx), jobID, final, totals, -1)
	metrics.JobFinished(string(job.Entity), string(final), p.now().Sub(started))

	attrs := []any{
		"job_id", jobID,
		"status", final,
		"total", totals.Total,
		"inserted", totals.Inserted,
		"updated", totals.Updated,
		"skipped", totals.Skipped,
		"errors", totals.Errors,
		"duration_ms", p.now().Sub(started).Milliseconds(),
	}
	if runErr != nil {
		p.logger.Error("migration_job_failed", append(attrs, "error", runErr)...)
		return runErr
	}
	p.logger.Info("migration_job_finished", attrs...)
	return nil
}

// process walks the file in batches. It reports cancelled when an operator
// cancelled the job between batches.
func (p *Processor) process(ctx context.Context, job store.Job, totals *store.Totals) (bool, error) {
	content, err := p.blobs.Get(ctx, job.ContentKey)
	if err != nil {
		return false, fmt.Errorf("load upload: %w", err)
	}
	table, err := tabular.Parse(job.FileName, content)
	if err != nil {
		return false, fmt.Errorf("parse file: %w", err)
	}
	var mappings []Mapping
	if err := json.Unmarshal(job.Mapping, &mappings); err != nil {
		return false, fmt.Errorf("decode mapping: %w", err)
	}

	totals.Total = len(table.Rows)
	if err := p.jobs.UpdateTotals(ctx, job.ID, *totals); err != nil {
		return false, fmt.Errorf("persist totals: %w", err)
	}

	plan := compilePlan(mappings, table.Headers)
	for batch, start := 0, 0; start < len(table.Rows); batch, start = batch+1, start+p.batchSize {
		current, err := p.jobs.GetJob(ctx, job.ID)
		if err != nil {
			return false, fmt.Errorf("check job status: %w", err)
		}
		if current.Status == store.StatusCancelled {
			p.logger.Info("migration_job_cancel_observed", "job_id", job.ID, "batch", batch, "processed", totals.Processed())
			return true, nil
		}

		end := min(start+p.batchSize, len(table.Rows))
		batchStart := p.now()
		before := *totals
		for i := start; i < end; i++ {
			if err := p.processRow(ctx, job, plan, i, table.Rows[i], totals); err != nil {
				return false, err
			}
		}

		if err := p.jobs.UpdateTotals(ctx, job.ID, *totals); err != nil {
			return false, fmt.Errorf("persist totals: %w", err)
		}
		elapsed := p.now().Sub(batchStart)
		metrics.RecordBatch(string(job.Entity),
			totals.Inserted-before.Inserted,
			totals.Updated-before.Updated,
			totals.Skipped-before.Skipped,
			totals.Errors-before.Errors,
			elapsed,
		)
		p.publish(ctx, job.ID, store.StatusProcessing, *totals, batch)
		p.logger.Debug("migration_batch_done", "job_id", job.ID, "batch", batch, "rows", end-start, "duration_ms", elapsed.Milliseconds())
	}
	return false, nil
}

// processRow resolves one row. Row failures are recorded and swallowed;
// only store failures while recording them, or a cancelled context, escape.
func (p *Processor) processRow(ctx context.Context, job store.Job, plan plan, i int, raw tabular.Row, totals *store.Totals) error {
	index := i + 2
	row, err := plan.build(index, raw)
	var outcome Outcome
	if err == nil {
		outcome, err = p.resolver.Resolve(ctx, job.Entity, row, job.Source, job.Strategy, job.OwnerID)
	}
	if err == nil {
		outcome.apply(totals)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	totals.Errors++
	rec := &store.ErrorRecord{
		JobID:    job.ID,
		RowIndex: index,
		RawData:  map[string]string(raw),
		Message:  err.Error(),
	}
	var rowErr *RowError
	if errors.As(err, &rowErr) {
		rec.Field = rowErr.Field
		rec.MatchedOn = rowErr.MatchedOn
	}
	if err := p.jobs.InsertError(ctx, rec); err != nil {
		return fmt.Errorf("record row error: %w", err)
	}
	return nil
}

func (p *Processor) publish(ctx context.Context, jobID uuid.UUID, status store.Status, totals store.Totals, batch int) {
	snap := progress.NewSnapshot(jobID, status, totals, batch, p.now())
	if err := p.progress.Publish(ctx, snap); err != nil {
		p.logger.Warn("migration_progress_publish_failed", "job_id", jobID, "error", err)
	}
}
