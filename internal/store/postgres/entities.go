package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
)

const clientColumns = `id, owner_id, company_name, normalized_name, COALESCE(domain, ''), COALESCE(phone, ''),
	COALESCE(email, ''), address, billing_address, payment_terms, primary_role_code, is_placeholder,
	is_excluded, COALESCE(exclude_reason, ''), props, created_at, updated_at`

func scanClient(row rowScanner) (store.Client, error) {
	var c store.Client
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.NormalizedName, &c.Domain, &c.Phone,
		&c.Email, &c.Address, &c.BillingAddress, &c.PaymentTerms, &c.PrimaryRoleCode, &c.IsPlaceholder,
		&c.Exclude, &c.ExcludeReason, &c.Props, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) GetClient(ctx context.Context, ownerID, id uuid.UUID) (store.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE owner_id = $1 AND id = $2`, ownerID, id))
	if err != nil {
		return store.Client{}, mapErr("get client", err)
	}
	return c, nil
}

func (s *Store) FindClientByDomain(ctx context.Context, ownerID uuid.UUID, domain string) (store.Client, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return store.Client{}, store.ErrNotFound
	}
	c, err := scanClient(s.db.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE owner_id = $1 AND lower(domain) = $2 AND NOT is_placeholder
		ORDER BY created_at
		LIMIT 1
	`, ownerID, domain))
	if err != nil {
		return store.Client{}, mapErr("find client by domain", err)
	}
	return c, nil
}

func (s *Store) FindClientByNormalizedName(ctx context.Context, ownerID uuid.UUID, normalized string) (store.Client, error) {
	if normalized == "" {
		return store.Client{}, store.ErrNotFound
	}
	c, err := scanClient(s.db.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE owner_id = $1 AND normalized_name = $2 AND NOT is_placeholder
		ORDER BY created_at
		LIMIT 1
	`, ownerID, normalized))
	if err != nil {
		return store.Client{}, mapErr("find client by name", err)
	}
	return c, nil
}

func (s *Store) EnsurePlaceholderClient(ctx context.Context, ownerID uuid.UUID, name string) (store.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `
		INSERT INTO clients (id, owner_id, company_name, normalized_name, is_placeholder)
		VALUES ($1, $2, $3, '', TRUE)
		ON CONFLICT (owner_id, company_name) WHERE is_placeholder
		DO UPDATE SET updated_at = clients.updated_at
		RETURNING `+clientColumns, uuid.New(), ownerID, name))
	if err != nil {
		return store.Client{}, mapErr("ensure placeholder client", err)
	}
	return c, nil
}

func (s *Store) CreateClient(ctx context.Context, c *store.Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Props == nil {
		c.Props = store.Props{}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO clients (id, owner_id, company_name, normalized_name, domain, phone, email, address,
			billing_address, payment_terms, primary_role_code, is_placeholder, is_excluded, exclude_reason, props)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`, c.ID, c.OwnerID, c.Name, c.NormalizedName, nullString(c.Domain), nullString(c.Phone), nullString(c.Email),
		jsonOrNull(c.Address), jsonOrNull(c.BillingAddress), c.PaymentTerms, c.PrimaryRoleCode, c.IsPlaceholder,
		c.Exclude, nullString(c.ExcludeReason), c.Props,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr("insert client", err)
}

func (s *Store) UpdateClient(ctx context.Context, c *store.Client) error {
	err := s.db.QueryRow(ctx, `
		UPDATE clients
		SET company_name = $3, normalized_name = $4, domain = $5, phone = $6, email = $7, address = $8,
			billing_address = $9, payment_terms = $10, primary_role_code = $11, is_excluded = $12,
			exclude_reason = $13, props = $14, updated_at = now()
		WHERE owner_id = $1 AND id = $2
		RETURNING updated_at
	`, c.OwnerID, c.ID, c.Name, c.NormalizedName, nullString(c.Domain), nullString(c.Phone), nullString(c.Email),
		jsonOrNull(c.Address), jsonOrNull(c.BillingAddress), c.PaymentTerms, c.PrimaryRoleCode, c.Exclude,
		nullString(c.ExcludeReason), c.Props,
	).Scan(&c.UpdatedAt)
	return mapErr("update client", err)
}

const contactColumns = `id, owner_id, client_id, COALESCE(first_name, ''), COALESCE(last_name, ''),
	COALESCE(email, ''), COALESCE(phone, ''), COALESCE(title, ''), primary_role_code, is_excluded,
	COALESCE(exclude_reason, ''), needs_company_assignment, props, created_at, updated_at`

func (s *Store) FindContactByEmail(ctx context.Context, ownerID uuid.UUID, email string) (store.Contact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return store.Contact{}, store.ErrNotFound
	}
	var c store.Contact
	err := s.db.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE owner_id = $1 AND lower(email) = $2
		ORDER BY created_at
		LIMIT 1
	`, ownerID, email).Scan(&c.ID, &c.OwnerID, &c.ClientID, &c.FirstName, &c.LastName,
		&c.Email, &c.Phone, &c.Title, &c.PrimaryRoleCode, &c.Exclude,
		&c.ExcludeReason, &c.NeedsCompanyAssignment, &c.Props, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return store.Contact{}, mapErr("find contact by email", err)
	}
	return c, nil
}

func (s *Store) CreateContact(ctx context.Context, c *store.Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Props == nil {
		c.Props = store.Props{}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO contacts (id, owner_id, client_id, first_name, last_name, email, phone, title,
			primary_role_code, is_excluded, exclude_reason, needs_company_assignment, props)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, c.ID, c.OwnerID, c.ClientID, nullString(c.FirstName), nullString(c.LastName), nullString(c.Email),
		nullString(c.Phone), nullString(c.Title), c.PrimaryRoleCode, c.Exclude, nullString(c.ExcludeReason),
		c.NeedsCompanyAssignment, c.Props,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr("insert contact", err)
}

func (s *Store) UpdateContact(ctx context.Context, c *store.Contact) error {
	err := s.db.QueryRow(ctx, `
		UPDATE contacts
		SET client_id = $3, first_name = $4, last_name = $5, email = $6, phone = $7, title = $8,
			primary_role_code = $9, is_excluded = $10, exclude_reason = $11, needs_company_assignment = $12,
			props = $13, updated_at = now()
		WHERE owner_id = $1 AND id = $2
		RETURNING updated_at
	`, c.OwnerID, c.ID, c.ClientID, nullString(c.FirstName), nullString(c.LastName), nullString(c.Email),
		nullString(c.Phone), nullString(c.Title), c.PrimaryRoleCode, c.Exclude, nullString(c.ExcludeReason),
		c.NeedsCompanyAssignment, c.Props,
	).Scan(&c.UpdatedAt)
	return mapErr("update contact", err)
}

const orderColumns = `id, owner_id, source, external_id, order_number, client_id, property_id, property_unit_id,
	status, COALESCE(priority, ''), COALESCE(order_type, ''), COALESCE(property_type, ''),
	COALESCE(property_address, ''), COALESCE(property_city, ''), COALESCE(property_state, ''),
	COALESCE(property_zip, ''), COALESCE(borrower_name, ''), COALESCE(borrower_email, ''),
	COALESCE(borrower_phone, ''), COALESCE(loan_number, ''), fee_amount, tech_fee, total_amount,
	due_date, inspection_date, completed_date, created_by, props, created_at, updated_at`

func scanOrder(row rowScanner) (store.Order, error) {
	var o store.Order
	err := row.Scan(&o.ID, &o.OwnerID, &o.Source, &o.ExternalID, &o.OrderNumber, &o.ClientID, &o.PropertyID, &o.PropertyUnitID,
		&o.Status, &o.Priority, &o.OrderType, &o.PropertyType,
		&o.PropertyAddress, &o.PropertyCity, &o.PropertyState,
		&o.PropertyZip, &o.BorrowerName, &o.BorrowerEmail,
		&o.BorrowerPhone, &o.LoanNumber, &o.FeeAmount, &o.TechFee, &o.TotalAmount,
		&o.DueDate, &o.InspectionDate, &o.CompletedDate, &o.CreatedBy, &o.Props, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) FindOrderByExternalID(ctx context.Context, ownerID uuid.UUID, source, externalID string) (store.Order, error) {
	if externalID == "" {
		return store.Order{}, store.ErrNotFound
	}
	o, err := scanOrder(s.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 AND source = $2 AND external_id = $3
	`, ownerID, source, externalID))
	if err != nil {
		return store.Order{}, mapErr("find order by external id", err)
	}
	return o, nil
}

func (s *Store) FindOrderByNumber(ctx context.Context, ownerID uuid.UUID, orderNumber string) (store.Order, error) {
	if orderNumber == "" {
		return store.Order{}, store.ErrNotFound
	}
	o, err := scanOrder(s.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 AND order_number = $2
	`, ownerID, orderNumber))
	if err != nil {
		return store.Order{}, mapErr("find order by number", err)
	}
	return o, nil
}

func orderArgs(o *store.Order) []any {
	return []any{
		o.ID, o.OwnerID, o.Source, o.ExternalID, o.OrderNumber, o.ClientID, uuidArg(o.PropertyID), uuidArg(o.PropertyUnitID),
		o.Status, nullString(o.Priority), nullString(o.OrderType), nullString(o.PropertyType),
		nullString(o.PropertyAddress), nullString(o.PropertyCity), nullString(o.PropertyState),
		nullString(o.PropertyZip), nullString(o.BorrowerName), nullString(o.BorrowerEmail),
		nullString(o.BorrowerPhone), nullString(o.LoanNumber), o.FeeAmount, o.TechFee, o.TotalAmount,
		timeArg(o.DueDate), timeArg(o.InspectionDate), timeArg(o.CompletedDate), o.CreatedBy, o.Props,
	}
}

func (s *Store) CreateOrder(ctx context.Context, o *store.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Props == nil {
		o.Props = store.Props{}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO orders (id, owner_id, source, external_id, order_number, client_id, property_id, property_unit_id,
			status, priority, order_type, property_type,
			property_address, property_city, property_state,
			property_zip, borrower_name, borrower_email,
			borrower_phone, loan_number, fee_amount, tech_fee, total_amount,
			due_date, inspection_date, completed_date, created_by, props)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28)
		RETURNING created_at, updated_at
	`, orderArgs(o)...).Scan(&o.CreatedAt, &o.UpdatedAt)
	return mapErr("insert order", err)
}

func (s *Store) UpdateOrder(ctx context.Context, o *store.Order) error {
	err := s.db.QueryRow(ctx, `
		UPDATE orders
		SET source = $3, external_id = $4, order_number = $5, client_id = $6, property_id = $7,
			property_unit_id = $8, status = $9, priority = $10, order_type = $11, property_type = $12,
			property_address = $13, property_city = $14, property_state = $15,
			property_zip = $16, borrower_name = $17, borrower_email = $18,
			borrower_phone = $19, loan_number = $20, fee_amount = $21, tech_fee = $22, total_amount = $23,
			due_date = $24, inspection_date = $25, completed_date = $26, created_by = $27, props = $28,
			updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING updated_at
	`, orderArgs(o)...).Scan(&o.UpdatedAt)
	return mapErr("update order", err)
}

func (s *Store) CountPropertyOrders(ctx context.Context, propertyID uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error) {
	return s.countOrders(ctx, "property_id", propertyID, since, exclude)
}

func (s *Store) CountUnitOrders(ctx context.Context, unitID uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error) {
	return s.countOrders(ctx, "property_unit_id", unitID, since, exclude)
}

// countOrders dates each order by its completion, then inspection, then
// import time, so historical rows land outside the window.
func (s *Store) countOrders(ctx context.Context, column string, id uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM orders
		WHERE `+column+` = $1
			AND COALESCE(completed_date::timestamptz, inspection_date::timestamptz, created_at) >= $2
			AND ($3::uuid IS NULL OR id <> $3::uuid)
	`, id, since, uuidArg(exclude)).Scan(&count)
	if err != nil {
		return 0, mapErr(fmt.Sprintf("count orders by %s", column), err)
	}
	return count, nil
}

const propertyColumns = `id, owner_id, addr_hash, street, city, state, zip, COALESCE(zip4, ''), COALESCE(county, ''),
	latitude, longitude, COALESCE(property_type, ''), validation_status, COALESCE(dpv_code, ''), verified_at,
	COALESCE(verification_source, ''), props, created_at, updated_at`

// upgradeValidation is true when the incoming row carries better validation
// metadata than the stored one.
const upgradeValidation = `(properties.validation_status <> 'verified' AND EXCLUDED.validation_status <> 'unverified')`

func keepOrUpgrade(column string) string {
	return fmt.Sprintf("%[1]s = CASE WHEN %[2]s THEN EXCLUDED.%[1]s ELSE properties.%[1]s END", column, upgradeValidation)
}

func (s *Store) UpsertProperty(ctx context.Context, p *store.Property) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Props == nil {
		p.Props = store.Props{}
	}
	if p.ValidationStatus == "" {
		p.ValidationStatus = store.ValidationUnverified
	}
	updates := []string{
		keepOrUpgrade("zip4"), keepOrUpgrade("county"), keepOrUpgrade("latitude"), keepOrUpgrade("longitude"),
		keepOrUpgrade("dpv_code"), keepOrUpgrade("verified_at"), keepOrUpgrade("verification_source"),
		keepOrUpgrade("validation_status"),
		"property_type = COALESCE(properties.property_type, EXCLUDED.property_type)",
		"updated_at = now()",
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO properties (id, owner_id, addr_hash, street, city, state, zip, zip4, county, latitude, longitude,
			property_type, validation_status, dpv_code, verified_at, verification_source, props)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (owner_id, addr_hash) DO UPDATE SET `+strings.Join(updates, ", ")+`
		RETURNING `+propertyColumns,
		p.ID, p.OwnerID, p.AddrHash, p.Street, p.City, p.State, p.Zip, nullString(p.Zip4), nullString(p.County),
		p.Latitude, p.Longitude, nullString(p.PropertyType), p.ValidationStatus, nullString(p.DPVCode),
		timeArg(p.VerifiedAt), nullString(p.VerificationSource), p.Props,
	).Scan(&p.ID, &p.OwnerID, &p.AddrHash, &p.Street, &p.City, &p.State, &p.Zip, &p.Zip4, &p.County,
		&p.Latitude, &p.Longitude, &p.PropertyType, &p.ValidationStatus, &p.DPVCode, &p.VerifiedAt,
		&p.VerificationSource, &p.Props, &p.CreatedAt, &p.UpdatedAt)
	return mapErr("upsert property", err)
}

func (s *Store) MergePropertyProps(ctx context.Context, id uuid.UUID, props store.Props) error {
	n, err := s.execAffected(ctx, "merge property props", `
		UPDATE properties SET props = props || $2::jsonb, updated_at = now() WHERE id = $1
	`, id, props)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertUnit(ctx context.Context, u *store.PropertyUnit) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Props == nil {
		u.Props = store.Props{}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO property_units (id, owner_id, property_id, unit_label, unit_norm, props)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (property_id, unit_norm) DO UPDATE SET unit_label = property_units.unit_label
		RETURNING id, owner_id, property_id, unit_label, unit_norm, props, created_at
	`, u.ID, u.OwnerID, u.PropertyID, u.UnitLabel, u.UnitNorm, u.Props,
	).Scan(&u.ID, &u.OwnerID, &u.PropertyID, &u.UnitLabel, &u.UnitNorm, &u.Props, &u.CreatedAt)
	return mapErr("upsert property unit", err)
}

func (s *Store) MergeUnitProps(ctx context.Context, id uuid.UUID, props store.Props) error {
	n, err := s.execAffected(ctx, "merge unit props", `
		UPDATE property_units SET props = props || $2::jsonb WHERE id = $1
	`, id, props)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func jsonOrNull(p store.Props) any {
	if len(p) == 0 {
		return nil
	}
	return p
}
