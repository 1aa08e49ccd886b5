package migration

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/moveops-platform/apps/migrator/internal/audit"
	"github.com/moveops-platform/apps/migrator/internal/blobstore"
	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/tabular"
)

var testNow = time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC)

type harness struct {
	mem        *store.Memory
	blobs      *blobstore.Local
	resolver   *Resolver
	processor  *Processor
	controller *Controller
	owner      uuid.UUID
}

type harnessOption func(*store.Memory, *ProcessorConfig, *ControllerConfig)

// wrapJobs routes job persistence through wrap(mem).
func wrapJobs(wrap func(*store.Memory) store.JobStore) harnessOption {
	return func(mem *store.Memory, p *ProcessorConfig, c *ControllerConfig) {
		jobs := wrap(mem)
		p.Jobs = jobs
		c.Jobs = jobs
	}
}

func withMaxBytes(n int) harnessOption {
	return func(_ *store.Memory, _ *ProcessorConfig, c *ControllerConfig) {
		c.MaxContentBytes = n
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	mem := store.NewMemory()
	blobs, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	logger := discardLogger()
	resolver := NewResolver(mem, logger, WithResolverClock(func() time.Time { return testNow }))
	pcfg := ProcessorConfig{Jobs: mem, Blobs: blobs, Resolver: resolver, Logger: logger, BatchSize: 2}
	ccfg := ControllerConfig{Jobs: mem, Entities: mem, Blobs: blobs, Audit: audit.NewLogger(mem), Logger: logger}
	for _, opt := range opts {
		opt(mem, &pcfg, &ccfg)
	}
	processor := NewProcessor(pcfg)
	ccfg.Processor = processor

	return &harness{
		mem:        mem,
		blobs:      blobs,
		resolver:   resolver,
		processor:  processor,
		controller: NewController(context.Background(), ccfg),
		owner:      uuid.New(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildRow maps a single CSV data line through mappings.
func buildRow(t *testing.T, mappings []Mapping, csv string) *Row {
	t.Helper()
	table, err := tabular.Parse("rows.csv", []byte(csv))
	require.NoError(t, err)
	require.NotEmpty(t, table.Rows)
	row, err := compilePlan(mappings, table.Headers).build(2, table.Rows[0])
	require.NoError(t, err)
	return row
}

func m(source, target string) Mapping {
	return Mapping{SourceColumn: source, TargetField: target}
}

func csvLines(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func (h *harness) submit(t *testing.T, entity store.Entity, strategy store.Strategy, mappings []Mapping, content []byte) SubmitResult {
	t.Helper()
	res, err := h.controller.Submit(context.Background(), SubmitRequest{
		OwnerID:  h.owner,
		FileName: "import.csv",
		Content:  content,
		Mapping:  mappings,
		Entity:   entity,
		Source:   "csv",
		Strategy: strategy,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) job(t *testing.T, id uuid.UUID) store.Job {
	t.Helper()
	job, err := h.mem.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func realClients(clients []store.Client) []store.Client {
	out := make([]store.Client, 0, len(clients))
	for _, c := range clients {
		if !c.IsPlaceholder {
			out = append(out, c)
		}
	}
	return out
}
