package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/moveops-platform/apps/migrator/internal/httpx"
	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/presets"
	"github.com/moveops-platform/apps/migrator/internal/progress"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

const (
	multipartMemory = 32 << 20
	maxListLimit    = 200
)

type migrationOptionsPayload struct {
	Entity            store.Entity        `json:"entity"`
	Source            string              `json:"source"`
	DuplicateStrategy store.Strategy      `json:"duplicateStrategy"`
	Mapping           []migration.Mapping `json:"mapping"`
	Preset            string              `json:"preset"`
}

type submitResponse struct {
	JobID  openapi_types.UUID `json:"jobId"`
	Reused bool               `json:"reused"`
	Status store.Status       `json:"status"`
}

type jobResponse struct {
	ID                openapi_types.UUID `json:"id"`
	Status            store.Status       `json:"status"`
	Entity            store.Entity       `json:"entity"`
	Source            string             `json:"source"`
	DuplicateStrategy store.Strategy     `json:"duplicateStrategy"`
	FileName          string             `json:"fileName"`
	Totals            store.Totals       `json:"totals"`
	Processed         int                `json:"processed"`
	ErrorMessage      *string            `json:"errorMessage,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	StartedAt         *time.Time         `json:"startedAt,omitempty"`
	FinishedAt        *time.Time         `json:"finishedAt,omitempty"`
}

type errorRecordResponse struct {
	ID        openapi_types.UUID `json:"id"`
	RowIndex  int                `json:"rowIndex"`
	RawData   map[string]string  `json:"rawData"`
	Message   string             `json:"message"`
	Field     *string            `json:"field,omitempty"`
	MatchedOn *string            `json:"matchedOn,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

type errorListResponse struct {
	Errors []errorRecordResponse `json:"errors"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (s *Server) PostMigrations(w http.ResponseWriter, r *http.Request) {
	actor, r, ok := requireActor(w, r)
	if !ok {
		return
	}
	req, appErr := s.parseSubmission(r)
	if appErr != nil {
		appErr.Write(w, r)
		return
	}
	req.OwnerID = actor.OwnerID

	res, err := s.Migrations.Submit(r.Context(), req)
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.Reused {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, submitResponse{JobID: res.JobID, Reused: res.Reused, Status: res.Status})
}

func (s *Server) PostMigrationsDryRun(w http.ResponseWriter, r *http.Request) {
	actor, r, ok := requireActor(w, r)
	if !ok {
		return
	}
	req, appErr := s.parseSubmission(r)
	if appErr != nil {
		appErr.Write(w, r)
		return
	}
	req.OwnerID = actor.OwnerID

	res, err := s.Migrations.DryRun(r.Context(), req)
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) GetMigrations(w http.ResponseWriter, r *http.Request) {
	actor, r, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, appErr := queryInt(r, "limit", 50, 1, maxListLimit)
	if appErr != nil {
		appErr.Write(w, r)
		return
	}
	jobs, err := s.Migrations.ListJobs(r.Context(), actor.OwnerID, limit)
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, mapJob(job))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) GetMigrationsJobId(w http.ResponseWriter, r *http.Request, jobId openapi_types.UUID) {
	actor, r, ok := requireActor(w, r)
	if !ok {
		return
	}
	job, err := s.Migrations.GetJob(r.Context(), actor.OwnerID, jobId)
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapJob(job))
}

func (s *Server) GetMigrationsJobIdErrors(w http.ResponseWriter, r *http.Request, jobId openapi_types.UUID) {
	actor, r, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, appErr := queryInt(r, "limit", 100, 1, maxListLimit)
	if appErr != nil {
		appErr.Write(w, r)
		return
	}
	offset, appErr := queryInt(r, "offset", 0, 0, -1)
	if appErr != nil {
		appErr.Write(w, r)
		return
	}

	records, total, err := s.Migrations.ListErrors(r.Context(), actor.OwnerID, jobId, limit, offset)
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}
	out := make([]errorRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, mapErrorRecord(rec))
	}
	httpx.WriteJSON(w, http.StatusOK, errorListResponse{Errors: out, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) PostMigrationsJobIdCancel(w http.ResponseWriter, r *http.Request, jobId openapi_types.UUID) {
	actor, r, ok := requireActor(w, r)
	if !ok {
		return
	}
	job, err := s.Migrations.Cancel(r.Context(), actor.OwnerID, jobId)
	if err != nil {
		if errors.Is(err, migration.ErrJobTerminal) {
			httpx.WriteError(w, r, http.StatusConflict, "job_terminal", "Job has already finished", map[string]any{"status": job.Status})
			return
		}
		s.writeMigrationError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapJob(job))
}

func (s *Server) GetMigrationsJobIdProgress(w http.ResponseWriter, r *http.Request, jobId openapi_types.UUID) {
	actor, r, ok := requireActor(w, r)
	if !ok {
		return
	}
	snap, err := s.Migrations.Progress(r.Context(), actor.OwnerID, jobId)
	if err != nil {
		s.writeMigrationError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, progressResponse(snap))
}

func (s *Server) GetMigrationsPresets(w http.ResponseWriter, r *http.Request) {
	all, err := presets.All()
	if err != nil {
		s.Logger.Error("load presets", "error", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load presets", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"presets": all})
}

// parseSubmission reads the multipart upload. A named preset, or one
// detected from the headers, supplies the mapping when none is given.
func (s *Server) parseSubmission(r *http.Request) (migration.SubmitRequest, *httpx.Error) {
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		return migration.SubmitRequest{}, httpx.BadRequest("invalid_content_type", "Content-Type must be multipart/form-data", nil)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return migration.SubmitRequest{}, tooLarge(s.MaxUploadBytes)
		}
		return migration.SubmitRequest{}, httpx.BadRequest("invalid_multipart", "Failed to parse multipart form", nil)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return migration.SubmitRequest{}, httpx.BadRequest("missing_file", "file is required", nil)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, s.MaxUploadBytes+1))
	if err != nil {
		return migration.SubmitRequest{}, httpx.BadRequest("invalid_multipart", "Failed to read uploaded file", nil)
	}
	if int64(len(content)) > s.MaxUploadBytes {
		return migration.SubmitRequest{}, tooLarge(s.MaxUploadBytes)
	}

	var options migrationOptionsPayload
	if raw := strings.TrimSpace(r.FormValue("options")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return migration.SubmitRequest{}, httpx.BadRequest("invalid_options", "options must be valid JSON", nil)
		}
	}

	req := migration.SubmitRequest{
		FileName: header.Filename,
		Content:  content,
		Mapping:  options.Mapping,
		Entity:   options.Entity,
		Source:   options.Source,
		Strategy: options.DuplicateStrategy,
	}
	if len(req.Mapping) > 0 && options.Preset == "" {
		return req, nil
	}
	if _, err := presets.Apply(&req, options.Preset); err != nil {
		var verr *migration.ValidationError
		if errors.As(err, &verr) {
			return migration.SubmitRequest{}, httpx.BadRequest("validation_error", "Migration request is invalid", verr.Fields)
		}
		return migration.SubmitRequest{}, &httpx.Error{
			Status:  http.StatusInternalServerError,
			Code:    "internal_error",
			Message: "Failed to resolve preset",
		}
	}
	return req, nil
}

func (s *Server) writeMigrationError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *migration.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Migration request is invalid", verr.Fields)
	case errors.Is(err, migration.ErrPayloadTooLarge):
		tooLarge(s.MaxUploadBytes).Write(w, r)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "job_not_found", "Migration job was not found", nil)
	case errors.Is(err, migration.ErrJobTerminal):
		httpx.WriteError(w, r, http.StatusConflict, "job_terminal", "Job has already finished", nil)
	default:
		s.Logger.Error("migration_request_failed", "path", r.URL.Path, "error", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Migration request failed", nil)
	}
}

func tooLarge(limit int64) *httpx.Error {
	return &httpx.Error{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "payload_too_large",
		Message: "Uploaded file is too large",
		Details: map[string]int64{"maxBytes": limit},
	}
}

// queryInt reads an optional integer parameter. max < 0 means unbounded.
func queryInt(r *http.Request, name string, fallback, min, max int) (int, *httpx.Error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || (max >= 0 && v > max) {
		return 0, httpx.BadRequest("validation_error", name+" is out of range", map[string]string{name: raw})
	}
	return v, nil
}

func mapJob(job store.Job) jobResponse {
	out := jobResponse{
		ID:                job.ID,
		Status:            job.Status,
		Entity:            job.Entity,
		Source:            job.Source,
		DuplicateStrategy: job.Strategy,
		FileName:          job.FileName,
		Totals:            job.Totals,
		Processed:         job.Totals.Processed(),
		CreatedAt:         job.CreatedAt.UTC(),
		StartedAt:         utcPtr(job.StartedAt),
		FinishedAt:        utcPtr(job.FinishedAt),
	}
	if job.ErrorMessage != "" {
		msg := job.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}

func mapErrorRecord(rec store.ErrorRecord) errorRecordResponse {
	return errorRecordResponse{
		ID:        rec.ID,
		RowIndex:  rec.RowIndex,
		RawData:   rec.RawData,
		Message:   rec.Message,
		Field:     optional(rec.Field),
		MatchedOn: optional(rec.MatchedOn),
		CreatedAt: rec.CreatedAt.UTC(),
	}
}

func progressResponse(snap progress.Snapshot) map[string]any {
	return map[string]any{
		"jobId":     snap.JobID,
		"status":    snap.Status,
		"totals":    snap.Totals,
		"processed": snap.Totals.Processed(),
		"percent":   snap.Percent,
		"batch":     snap.Batch,
		"updatedAt": snap.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
