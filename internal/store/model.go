package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Entity string

const (
	EntityContact Entity = "contact"
	EntityClient  Entity = "client"
	EntityOrder   Entity = "order"
)

type Strategy string

const (
	StrategySkip   Strategy = "skip"
	StrategyUpdate Strategy = "update"
	StrategyCreate Strategy = "create"
)

const (
	ValidationVerified   = "verified"
	ValidationPartial    = "partial"
	ValidationUnverified = "unverified"
)

// Props is the free-form property bucket stored next to typed columns.
type Props map[string]any

// Merge copies src over p, creating p when needed.
func (p Props) Merge(src Props) Props {
	if len(src) == 0 {
		return p
	}
	if p == nil {
		p = Props{}
	}
	for k, v := range src {
		p[k] = v
	}
	return p
}

func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Props) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Props) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Props{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan props: unsupported type %T", src)
	}
	out := Props{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("scan props: %w", err)
		}
	}
	*p = out
	return nil
}

type Totals struct {
	Total    int `json:"total"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Processed is the number of rows with a recorded outcome.
func (t Totals) Processed() int {
	return t.Inserted + t.Updated + t.Skipped + t.Errors
}

type Job struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Source         string
	Entity         Entity
	Strategy       Strategy
	Mapping        json.RawMessage
	IdempotencyKey string
	FileName       string
	ContentKey     string
	ContentHash    string
	Status         Status
	Totals         Totals
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// JobResult closes out a run. Status only applies while the job is still
// processing; totals and finished_at are written either way.
type JobResult struct {
	Status       Status
	Totals       Totals
	ErrorMessage string
	FinishedAt   time.Time
}

type ErrorRecord struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	RowIndex  int
	RawData   map[string]string
	Message   string
	Field     string
	MatchedOn string
	CreatedAt time.Time
}

type Client struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Name            string
	NormalizedName  string
	Domain          string
	Phone           string
	Email           string
	Address         Props
	BillingAddress  Props
	PaymentTerms    *int
	PrimaryRoleCode string
	IsPlaceholder   bool
	Exclude         bool
	ExcludeReason   string
	Props           Props
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Contact struct {
	ID                     uuid.UUID
	OwnerID                uuid.UUID
	ClientID               uuid.UUID
	FirstName              string
	LastName               string
	Email                  string
	Phone                  string
	Title                  string
	PrimaryRoleCode        string
	Exclude                bool
	ExcludeReason          string
	NeedsCompanyAssignment bool
	Props                  Props
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Order struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Source          string
	ExternalID      string
	OrderNumber     string
	ClientID        uuid.UUID
	PropertyID      *uuid.UUID
	PropertyUnitID  *uuid.UUID
	Status          string
	Priority        string
	OrderType       string
	PropertyType    string
	PropertyAddress string
	PropertyCity    string
	PropertyState   string
	PropertyZip     string
	BorrowerName    string
	BorrowerEmail   string
	BorrowerPhone   string
	LoanNumber      string
	FeeAmount       decimal.NullDecimal
	TechFee         decimal.NullDecimal
	TotalAmount     decimal.NullDecimal
	DueDate         *time.Time
	InspectionDate  *time.Time
	CompletedDate   *time.Time
	CreatedBy       uuid.UUID
	Props           Props
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Property struct {
	ID                 uuid.UUID
	OwnerID            uuid.UUID
	AddrHash           string
	Street             string
	City               string
	State              string
	Zip                string
	Zip4               string
	County             string
	Latitude           *float64
	Longitude          *float64
	PropertyType       string
	ValidationStatus   string
	DPVCode            string
	VerifiedAt         *time.Time
	VerificationSource string
	Props              Props
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type PropertyUnit struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	PropertyID uuid.UUID
	UnitLabel  string
	UnitNorm   string
	Props      Props
	CreatedAt  time.Time
}

type APIKey struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	TokenHash string
	Scopes    []string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// HasScope reports whether the key grants scope. "*" grants everything.
func (k APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

type AuditEntry struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	RequestID  string
	Metadata   map[string]any
	CreatedAt  time.Time
}
