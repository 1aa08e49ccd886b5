// Package store defines the persistence contract of the migration engine and
// an in-memory implementation of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type JobStore interface {
	// CreateJob inserts a pending job. A live job with the same owner and
	// idempotency key yields ErrConflict.
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	// FindReusableJob returns the newest job for the key that has not failed.
	FindReusableJob(ctx context.Context, ownerID uuid.UUID, key string) (Job, error)
	ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]Job, error)
	ListJobsByStatus(ctx context.Context, status Status) ([]Job, error)
	// ClaimJob moves a pending job to processing. It reports false when the
	// job was not pending.
	ClaimJob(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	UpdateTotals(ctx context.Context, id uuid.UUID, totals Totals) error
	// FinishJob applies result to a processing or cancelled job and returns
	// the status the job ended in.
	FinishJob(ctx context.Context, id uuid.UUID, result JobResult) (Status, error)
	// CancelJob moves a pending or processing job to cancelled. It reports
	// false when the job was already terminal.
	CancelJob(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	InsertError(ctx context.Context, rec *ErrorRecord) error
	ListErrors(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]ErrorRecord, int, error)
}

type ClientStore interface {
	GetClient(ctx context.Context, ownerID, id uuid.UUID) (Client, error)
	FindClientByDomain(ctx context.Context, ownerID uuid.UUID, domain string) (Client, error)
	FindClientByNormalizedName(ctx context.Context, ownerID uuid.UUID, normalized string) (Client, error)
	// EnsurePlaceholderClient returns the owner's placeholder client with the
	// given name, creating it on first use.
	EnsurePlaceholderClient(ctx context.Context, ownerID uuid.UUID, name string) (Client, error)
	CreateClient(ctx context.Context, c *Client) error
	UpdateClient(ctx context.Context, c *Client) error
}

type ContactStore interface {
	FindContactByEmail(ctx context.Context, ownerID uuid.UUID, email string) (Contact, error)
	CreateContact(ctx context.Context, c *Contact) error
	UpdateContact(ctx context.Context, c *Contact) error
}

type OrderStore interface {
	FindOrderByExternalID(ctx context.Context, ownerID uuid.UUID, source, externalID string) (Order, error)
	FindOrderByNumber(ctx context.Context, ownerID uuid.UUID, orderNumber string) (Order, error)
	// CreateOrder yields ErrConflict on a duplicate external id or order
	// number.
	CreateOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error
	CountPropertyOrders(ctx context.Context, propertyID uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error)
	CountUnitOrders(ctx context.Context, unitID uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error)
}

type PropertyStore interface {
	// UpsertProperty inserts by (owner, addr_hash). An existing row keeps its
	// identity and only gains validation metadata it was missing.
	UpsertProperty(ctx context.Context, p *Property) error
	MergePropertyProps(ctx context.Context, id uuid.UUID, props Props) error
	UpsertUnit(ctx context.Context, u *PropertyUnit) error
	MergeUnitProps(ctx context.Context, id uuid.UUID, props Props) error
}

type EntityStore interface {
	ClientStore
	ContactStore
	OrderStore
	PropertyStore
}

type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error)
}

type AuditStore interface {
	InsertAudit(ctx context.Context, entry AuditEntry) error
}

type Store interface {
	JobStore
	EntityStore
	APIKeyStore
	AuditStore
}
