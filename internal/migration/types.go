// Package migration runs bulk imports of contacts, clients and orders from
// tabular files into the tenant store.
package migration

import (
	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
)

const (
	// MaxContentBytes is the largest upload accepted by Submit.
	MaxContentBytes = 50 << 20
	// DefaultBatchSize is the number of rows processed between status
	// checks and totals checkpoints.
	DefaultBatchSize = 500

	UnassignedContacts = "[Unassigned Contacts]"
	UnassignedOrders   = "[Unassigned Orders]"
)

// Mapping binds one source column to a target field. Targets prefixed with
// "props." land in the custom property bucket, targets prefixed with "_" are
// lookup-only hints, and an empty target ignores the column.
type Mapping struct {
	SourceColumn    string         `json:"sourceColumn" yaml:"sourceColumn" validate:"required"`
	TargetField     string         `json:"targetField" yaml:"targetField"`
	Transform       string         `json:"transform,omitempty" yaml:"transform"`
	TransformParams map[string]any `json:"transformParams,omitempty" yaml:"transformParams"`
	Required        bool           `json:"required,omitempty" yaml:"required"`
}

type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
)

func (o Outcome) apply(t *store.Totals) {
	switch o {
	case OutcomeInserted:
		t.Inserted++
	case OutcomeUpdated:
		t.Updated++
	default:
		t.Skipped++
	}
}

type SubmitRequest struct {
	OwnerID  uuid.UUID      `validate:"required"`
	FileName string         `validate:"max=255"`
	Content  []byte         `validate:"required,min=1"`
	Mapping  []Mapping      `validate:"required,min=1,dive"`
	Entity   store.Entity   `validate:"required,oneof=contact client order"`
	Source   string         `validate:"max=100"`
	Strategy store.Strategy `validate:"omitempty,oneof=skip update create"`
}

type SubmitResult struct {
	JobID  uuid.UUID    `json:"jobId"`
	Reused bool         `json:"reused"`
	Status store.Status `json:"status"`
}

// DryRunRequest describes a file to check without writing anything. The
// fields and their validation match SubmitRequest.
type DryRunRequest = SubmitRequest

type DryRunIssue struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

type DryRunDuplicate struct {
	Row       int    `json:"row"`
	MatchedOn string `json:"matchedOn"`
	Value     string `json:"value"`
}

type DryRunResult struct {
	Total       int               `json:"total"`
	WouldInsert int               `json:"wouldInsert"`
	WouldUpdate int               `json:"wouldUpdate"`
	WouldSkip   int               `json:"wouldSkip"`
	ErrorCount  int               `json:"errorCount"`
	Errors      []DryRunIssue     `json:"errors"`
	Duplicates  []DryRunDuplicate `json:"duplicates"`
}
