package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Store. It enforces the same uniqueness rules as
// the PostgreSQL schema.
type Memory struct {
	mu         sync.RWMutex
	now        func() time.Time
	jobs       map[uuid.UUID]*Job
	errors     map[uuid.UUID][]ErrorRecord
	clients    []*Client
	contacts   []*Contact
	orders     []*Order
	properties []*Property
	units      []*PropertyUnit
	apiKeys    map[string]APIKey
	audit      []AuditEntry
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		jobs:    map[uuid.UUID]*Job{},
		errors:  map[uuid.UUID][]ErrorRecord{},
		apiKeys: map[string]APIKey{},
	}
}

func (m *Memory) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.OwnerID == job.OwnerID && existing.IdempotencyKey == job.IdempotencyKey && existing.Status != StatusFailed {
			return ErrConflict
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

func (m *Memory) FindReusableJob(_ context.Context, ownerID uuid.UUID, key string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID || job.IdempotencyKey != key || job.Status == StatusFailed {
			continue
		}
		if found == nil || job.CreatedAt.After(found.CreatedAt) {
			found = job
		}
	}
	if found == nil {
		return Job{}, ErrNotFound
	}
	return *found, nil
}

func (m *Memory) ListJobs(_ context.Context, ownerID uuid.UUID, limit int) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0)
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListJobsByStatus(_ context.Context, status Status) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0)
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ClaimJob(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != StatusPending {
		return false, nil
	}
	job.Status = StatusProcessing
	job.StartedAt = &startedAt
	return true, nil
}

func (m *Memory) UpdateTotals(_ context.Context, id uuid.UUID, totals Totals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Totals = totals
	return nil
}

func (m *Memory) FinishJob(_ context.Context, id uuid.UUID, result JobResult) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return "", ErrNotFound
	}
	switch job.Status {
	case StatusProcessing:
		job.Status = result.Status
		job.ErrorMessage = result.ErrorMessage
	case StatusCancelled:
	default:
		return job.Status, ErrConflict
	}
	job.Totals = result.Totals
	finished := result.FinishedAt
	job.FinishedAt = &finished
	return job.Status, nil
}

func (m *Memory) CancelJob(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = StatusCancelled
	job.FinishedAt = &at
	return true, nil
}

func (m *Memory) InsertError(_ context.Context, rec *ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[rec.JobID]; !ok {
		return ErrNotFound
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.errors[rec.JobID] = append(m.errors[rec.JobID], *rec)
	return nil
}

func (m *Memory) ListErrors(_ context.Context, jobID uuid.UUID, limit, offset int) ([]ErrorRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.errors[jobID]
	total := len(all)
	if offset >= total {
		return []ErrorRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]ErrorRecord, end-offset)
	copy(out, all[offset:end])
	return out, total, nil
}

func (m *Memory) GetClient(_ context.Context, ownerID, id uuid.UUID) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.OwnerID == ownerID && c.ID == id {
			return copyClient(c), nil
		}
	}
	return Client{}, ErrNotFound
}

func (m *Memory) FindClientByDomain(_ context.Context, ownerID uuid.UUID, domain string) (Client, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return Client{}, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.OwnerID == ownerID && !c.IsPlaceholder && c.Domain == domain {
			return copyClient(c), nil
		}
	}
	return Client{}, ErrNotFound
}

func (m *Memory) FindClientByNormalizedName(_ context.Context, ownerID uuid.UUID, normalized string) (Client, error) {
	if normalized == "" {
		return Client{}, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.OwnerID == ownerID && !c.IsPlaceholder && c.NormalizedName == normalized {
			return copyClient(c), nil
		}
	}
	return Client{}, ErrNotFound
}

func (m *Memory) EnsurePlaceholderClient(_ context.Context, ownerID uuid.UUID, name string) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.OwnerID == ownerID && c.IsPlaceholder && c.Name == name {
			return copyClient(c), nil
		}
	}
	now := m.now()
	c := &Client{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Name:            name,
		PrimaryRoleCode: "unknown",
		IsPlaceholder:   true,
		Props:           Props{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.clients = append(m.clients, c)
	return copyClient(c), nil
}

func (m *Memory) CreateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt, m.now())
	stored := copyClient(c)
	m.clients = append(m.clients, &stored)
	return nil
}

func (m *Memory) UpdateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.clients {
		if existing.ID == c.ID && existing.OwnerID == c.OwnerID {
			c.UpdatedAt = m.now()
			stored := copyClient(c)
			m.clients[i] = &stored
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) FindContactByEmail(_ context.Context, ownerID uuid.UUID, email string) (Contact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Contact{}, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.contacts {
		if c.OwnerID == ownerID && c.Email == email {
			out := *c
			out.Props = c.Props.Clone()
			return out, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (m *Memory) CreateContact(_ context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt, m.now())
	stored := *c
	stored.Props = c.Props.Clone()
	m.contacts = append(m.contacts, &stored)
	return nil
}

func (m *Memory) UpdateContact(_ context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.contacts {
		if existing.ID == c.ID && existing.OwnerID == c.OwnerID {
			c.UpdatedAt = m.now()
			stored := *c
			stored.Props = c.Props.Clone()
			m.contacts[i] = &stored
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) FindOrderByExternalID(_ context.Context, ownerID uuid.UUID, source, externalID string) (Order, error) {
	if externalID == "" {
		return Order{}, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.OwnerID == ownerID && o.Source == source && o.ExternalID == externalID {
			return copyOrder(o), nil
		}
	}
	return Order{}, ErrNotFound
}

func (m *Memory) FindOrderByNumber(_ context.Context, ownerID uuid.UUID, orderNumber string) (Order, error) {
	if orderNumber == "" {
		return Order{}, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.OwnerID == ownerID && o.OrderNumber == orderNumber {
			return copyOrder(o), nil
		}
	}
	return Order{}, ErrNotFound
}

func (m *Memory) CreateOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.OwnerID != o.OwnerID {
			continue
		}
		if existing.Source == o.Source && existing.ExternalID == o.ExternalID {
			return ErrConflict
		}
		if existing.OrderNumber == o.OrderNumber {
			return ErrConflict
		}
	}
	stampNew(&o.ID, &o.CreatedAt, &o.UpdatedAt, m.now())
	stored := copyOrder(o)
	m.orders = append(m.orders, &stored)
	return nil
}

func (m *Memory) UpdateOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.orders {
		if existing.ID == o.ID && existing.OwnerID == o.OwnerID {
			o.UpdatedAt = m.now()
			stored := copyOrder(o)
			m.orders[i] = &stored
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CountPropertyOrders(_ context.Context, propertyID uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, o := range m.orders {
		if o.PropertyID != nil && *o.PropertyID == propertyID && countable(o, since, exclude) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountUnitOrders(_ context.Context, unitID uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, o := range m.orders {
		if o.PropertyUnitID != nil && *o.PropertyUnitID == unitID && countable(o, since, exclude) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) UpsertProperty(_ context.Context, p *Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.properties {
		if existing.OwnerID == p.OwnerID && existing.AddrHash == p.AddrHash {
			fillValidation(existing, p)
			existing.UpdatedAt = m.now()
			*p = *existing
			p.Props = existing.Props.Clone()
			return nil
		}
	}
	stampNew(&p.ID, &p.CreatedAt, &p.UpdatedAt, m.now())
	stored := *p
	stored.Props = p.Props.Clone()
	m.properties = append(m.properties, &stored)
	return nil
}

func (m *Memory) MergePropertyProps(_ context.Context, id uuid.UUID, props Props) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.properties {
		if p.ID == id {
			p.Props = p.Props.Merge(props)
			p.UpdatedAt = m.now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) UpsertUnit(_ context.Context, u *PropertyUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.units {
		if existing.PropertyID == u.PropertyID && existing.UnitNorm == u.UnitNorm {
			*u = *existing
			u.Props = existing.Props.Clone()
			return nil
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	stored := *u
	stored.Props = u.Props.Clone()
	m.units = append(m.units, &stored)
	return nil
}

func (m *Memory) MergeUnitProps(_ context.Context, id uuid.UUID, props Props) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.units {
		if u.ID == id {
			u.Props = u.Props.Merge(props)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CreateAPIKey(_ context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apiKeys[key.TokenHash]; exists {
		return ErrConflict
	}
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = m.now()
	}
	m.apiKeys[key.TokenHash] = *key
	return nil
}

func (m *Memory) GetAPIKeyByHash(_ context.Context, hash string) (APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.apiKeys[hash]
	if !ok || key.RevokedAt != nil {
		return APIKey{}, ErrNotFound
	}
	return key, nil
}

func (m *Memory) InsertAudit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	m.audit = append(m.audit, entry)
	return nil
}

// Clients returns a snapshot of every client for an owner, oldest first.
func (m *Memory) Clients(ownerID uuid.UUID) []Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Client, 0)
	for _, c := range m.clients {
		if c.OwnerID == ownerID {
			out = append(out, copyClient(c))
		}
	}
	return out
}

func (m *Memory) Contacts(ownerID uuid.UUID) []Contact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Contact, 0)
	for _, c := range m.contacts {
		if c.OwnerID == ownerID {
			contact := *c
			contact.Props = c.Props.Clone()
			out = append(out, contact)
		}
	}
	return out
}

func (m *Memory) Orders(ownerID uuid.UUID) []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			out = append(out, copyOrder(o))
		}
	}
	return out
}

func (m *Memory) Properties(ownerID uuid.UUID) []Property {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Property, 0)
	for _, p := range m.properties {
		if p.OwnerID == ownerID {
			prop := *p
			prop.Props = p.Props.Clone()
			out = append(out, prop)
		}
	}
	return out
}

func (m *Memory) Units(propertyID uuid.UUID) []PropertyUnit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PropertyUnit, 0)
	for _, u := range m.units {
		if u.PropertyID == propertyID {
			unit := *u
			unit.Props = u.Props.Clone()
			out = append(out, unit)
		}
	}
	return out
}

func (m *Memory) AuditEntries() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func stampNew(id *uuid.UUID, created, updated *time.Time, now time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func countable(o *Order, since time.Time, exclude *uuid.UUID) bool {
	if exclude != nil && o.ID == *exclude {
		return false
	}
	return !workDate(o).Before(since)
}

// workDate is when the work on an order happened, falling back to the
// import time for orders with no dates.
func workDate(o *Order) time.Time {
	switch {
	case o.CompletedDate != nil:
		return *o.CompletedDate
	case o.InspectionDate != nil:
		return *o.InspectionDate
	default:
		return o.CreatedAt
	}
}

func fillValidation(dst, src *Property) {
	if dst.ValidationStatus == ValidationVerified || src.ValidationStatus == "" || src.ValidationStatus == ValidationUnverified {
		return
	}
	dst.ValidationStatus = src.ValidationStatus
	dst.Zip4 = src.Zip4
	dst.County = src.County
	dst.Latitude = src.Latitude
	dst.Longitude = src.Longitude
	dst.DPVCode = src.DPVCode
	dst.VerifiedAt = src.VerifiedAt
	dst.VerificationSource = src.VerificationSource
}

func copyClient(c *Client) Client {
	out := *c
	out.Props = c.Props.Clone()
	out.Address = c.Address.Clone()
	out.BillingAddress = c.BillingAddress.Clone()
	return out
}

func copyOrder(o *Order) Order {
	out := *o
	out.Props = o.Props.Clone()
	return out
}
