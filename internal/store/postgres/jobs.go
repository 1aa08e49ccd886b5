package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
)

const jobColumns = `id, owner_id, source, entity, duplicate_strategy, mapping, idempotency_key,
	file_name, content_key, content_hash, status, total_rows, inserted_rows, updated_rows,
	skipped_rows, error_rows, COALESCE(error_message, ''), created_at, started_at, finished_at`

func scanJob(row rowScanner) (store.Job, error) {
	var (
		job     store.Job
		mapping []byte
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Source, &job.Entity, &job.Strategy, &mapping, &job.IdempotencyKey,
		&job.FileName, &job.ContentKey, &job.ContentHash, &job.Status,
		&job.Totals.Total, &job.Totals.Inserted, &job.Totals.Updated, &job.Totals.Skipped, &job.Totals.Errors,
		&job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return store.Job{}, err
	}
	job.Mapping = json.RawMessage(mapping)
	return job, nil
}

func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = store.StatusPending
	}
	mapping := []byte(job.Mapping)
	if len(mapping) == 0 {
		mapping = []byte("[]")
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO migration_jobs (id, owner_id, source, entity, duplicate_strategy, mapping,
			idempotency_key, file_name, content_key, content_hash, status, total_rows)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, job.ID, job.OwnerID, job.Source, string(job.Entity), string(job.Strategy), mapping,
		job.IdempotencyKey, job.FileName, job.ContentKey, job.ContentHash, string(job.Status), job.Totals.Total,
	).Scan(&job.CreatedAt)
	return mapErr("insert migration job", err)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (store.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM migration_jobs WHERE id = $1`, id))
	if err != nil {
		return store.Job{}, mapErr("get migration job", err)
	}
	return job, nil
}

func (s *Store) FindReusableJob(ctx context.Context, ownerID uuid.UUID, key string) (store.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM migration_jobs
		WHERE owner_id = $1 AND idempotency_key = $2 AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID, key))
	if err != nil {
		return store.Job{}, mapErr("find reusable job", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]store.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx, "list migration jobs", `
		SELECT `+jobColumns+`
		FROM migration_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
}

func (s *Store) ListJobsByStatus(ctx context.Context, status store.Status) ([]store.Job, error) {
	return s.queryJobs(ctx, "list jobs by status", `
		SELECT `+jobColumns+`
		FROM migration_jobs
		WHERE status = $1
		ORDER BY created_at
	`, string(status))
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]store.Job, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	jobs := make([]store.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return jobs, nil
}

func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	n, err := s.execAffected(ctx, "claim migration job", `
		UPDATE migration_jobs SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, startedAt)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) UpdateTotals(ctx context.Context, id uuid.UUID, totals store.Totals) error {
	n, err := s.execAffected(ctx, "update migration totals", `
		UPDATE migration_jobs
		SET total_rows = $2, inserted_rows = $3, updated_rows = $4, skipped_rows = $5, error_rows = $6
		WHERE id = $1
	`, id, totals.Total, totals.Inserted, totals.Updated, totals.Skipped, totals.Errors)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FinishJob(ctx context.Context, id uuid.UUID, result store.JobResult) (store.Status, error) {
	var status store.Status
	err := s.db.QueryRow(ctx, `
		UPDATE migration_jobs
		SET status = CASE WHEN status = 'processing' THEN $2 ELSE status END,
			error_message = CASE WHEN status = 'processing' THEN NULLIF($3, '') ELSE error_message END,
			total_rows = $4, inserted_rows = $5, updated_rows = $6, skipped_rows = $7, error_rows = $8,
			finished_at = $9
		WHERE id = $1 AND status IN ('processing', 'cancelled')
		RETURNING status
	`, id, string(result.Status), result.ErrorMessage,
		result.Totals.Total, result.Totals.Inserted, result.Totals.Updated, result.Totals.Skipped, result.Totals.Errors,
		result.FinishedAt,
	).Scan(&status)
	if err == nil {
		return status, nil
	}
	err = mapErr("finish migration job", err)
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	current, getErr := s.GetJob(ctx, id)
	if getErr != nil {
		return "", getErr
	}
	return current.Status, store.ErrConflict
}

func (s *Store) CancelJob(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	n, err := s.execAffected(ctx, "cancel migration job", `
		UPDATE migration_jobs SET status = 'cancelled', finished_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, at)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) InsertError(ctx context.Context, rec *store.ErrorRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	raw, err := json.Marshal(rec.RawData)
	if err != nil {
		return fmt.Errorf("marshal raw row: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO migration_errors (id, job_id, row_index, raw_data, message, field, matched_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, rec.ID, rec.JobID, rec.RowIndex, raw, rec.Message, nullString(rec.Field), nullString(rec.MatchedOn),
	).Scan(&rec.CreatedAt)
	return mapErr("insert migration error", err)
}

func (s *Store) ListErrors(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]store.ErrorRecord, int, error) {
	if limit <= 0 {
		limit = 100
	}
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM migration_errors WHERE job_id = $1`, jobID).Scan(&total); err != nil {
		return nil, 0, mapErr("count migration errors", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, job_id, row_index, raw_data, message, COALESCE(field, ''), COALESCE(matched_on, ''), created_at
		FROM migration_errors
		WHERE job_id = $1
		ORDER BY row_index, created_at
		LIMIT $2 OFFSET $3
	`, jobID, limit, offset)
	if err != nil {
		return nil, 0, mapErr("list migration errors", err)
	}
	defer rows.Close()

	records := make([]store.ErrorRecord, 0)
	for rows.Next() {
		var (
			rec store.ErrorRecord
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.RowIndex, &raw, &rec.Message, &rec.Field, &rec.MatchedOn, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan migration error: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.RawData); err != nil {
				return nil, 0, fmt.Errorf("decode raw row: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list migration errors: %w", err)
	}
	return records, total, nil
}
