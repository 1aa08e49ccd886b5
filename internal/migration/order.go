package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moveops-platform/apps/migrator/internal/address"
	"github.com/moveops-platform/apps/migrator/internal/addressval"
	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/transform"
)

const priorWorkYears = 3

var orderColumns = fieldSet(
	"external_id", "order_number", "status", "priority", "order_type", "property_type",
	"property_address", "property_city", "property_state", "property_zip", "original_address", "unit",
	"borrower_name", "borrower_email", "borrower_phone", "loan_number",
	"fee_amount", "tech_fee", "total_amount", "due_date", "inspection_date", "completed_date",
	"client_id", "lender_name", "has_units", "is_multiunit", "source",
)

// propertyLink is what the address cascade produced for one order row.
type propertyLink struct {
	propertyID *uuid.UUID
	unitID     *uuid.UUID
}

// ResolveOrder imports a work order. The row may cascade into a property
// and a unit; only client resolution can fail the row once identifiers are
// known.
func (r *Resolver) ResolveOrder(ctx context.Context, row *Row, source string, strategy store.Strategy, ownerID uuid.UUID) (Outcome, error) {
	now := r.now()
	externalID := row.String("external_id")
	orderNumber := row.String("order_number")
	if externalID == "" && orderNumber == "" {
		return "", rowErrorf("external_id", "order rows need an external id or an order number")
	}
	if externalID == "" {
		externalID = orderNumber
	}
	if orderNumber == "" {
		orderNumber = fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102150405"), strings.ToUpper(transform.ShortHash(externalID, 6)))
	}

	var existing *store.Order
	if strategy != store.StrategyCreate {
		found, _, err := r.findOrder(ctx, ownerID, source, externalID, orderNumber)
		switch {
		case err == nil:
			existing = &found
		case !errors.Is(err, store.ErrNotFound):
			return "", err
		}
	}
	if existing != nil && strategy == store.StrategySkip {
		return OutcomeSkipped, nil
	}

	clientID, placeholder, err := r.orderClient(ctx, row, ownerID)
	if err != nil {
		return "", err
	}

	props := row.extraProps(orderColumns)
	parts, unitLabel := orderAddress(row)
	if unitLabel != "" {
		props["unit"] = unitLabel
	}
	propertyType := normalizeEnum(row.String("property_type"))
	hasUnits := boolField(row, "has_units") || boolField(row, "is_multiunit")
	link := r.linkProperty(ctx, ownerID, parts, unitLabel, propertyType, hasUnits)

	var excludeID *uuid.UUID
	if existing != nil {
		excludeID = &existing.ID
	}
	if link.unitID != nil {
		if cache, ok := r.priorWork(ctx, r.store.CountUnitOrders, *link.unitID, excludeID, now); ok {
			props["uspap_unit"] = cache
			r.mergeUnitCache(ctx, *link.unitID, cache)
		}
	}

	if existing != nil {
		o := *existing
		if !placeholder || o.ClientID == uuid.Nil {
			o.ClientID = clientID
		}
		fillOrder(&o, row, parts, propertyType, now, true)
		if link.propertyID != nil {
			o.PropertyID = link.propertyID
			o.PropertyUnitID = link.unitID
			if cache, ok := r.priorWork(ctx, r.store.CountPropertyOrders, *link.propertyID, &o.ID, now); ok {
				props["uspap"] = cache
			}
		}
		o.Props = o.Props.Merge(props)
		if err := r.store.UpdateOrder(ctx, &o); err != nil {
			return "", fmt.Errorf("update order: %w", err)
		}
		return OutcomeUpdated, nil
	}

	o := &store.Order{
		OwnerID:        ownerID,
		Source:         source,
		ExternalID:     externalID,
		OrderNumber:    orderNumber,
		ClientID:       clientID,
		PropertyID:     link.propertyID,
		PropertyUnitID: link.unitID,
		CreatedBy:      ownerID,
		Props:          props,
	}
	fillOrder(o, row, parts, propertyType, now, false)
	if err := r.store.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, store.ErrConflict) {
			_, matchedOn, findErr := r.findOrder(ctx, ownerID, source, externalID, orderNumber)
			if findErr != nil {
				matchedOn = "external_id"
			}
			return "", &RowError{Field: matchedOn, MatchedOn: matchedOn, Err: fmt.Errorf("order already exists: %w", err)}
		}
		return "", fmt.Errorf("create order: %w", err)
	}

	if link.propertyID != nil {
		r.cacheBuildingWork(ctx, o, now)
	}
	return OutcomeInserted, nil
}

// cacheBuildingWork is the second write after insert: the order must exist
// before the building history can be attached to it.
func (r *Resolver) cacheBuildingWork(ctx context.Context, o *store.Order, now time.Time) {
	cache, ok := r.priorWork(ctx, r.store.CountPropertyOrders, *o.PropertyID, &o.ID, now)
	if !ok {
		return
	}
	o.Props = o.Props.Merge(store.Props{"uspap": cache})
	if err := r.store.UpdateOrder(ctx, o); err != nil {
		r.logger.Warn("migration_prior_work_cache_failed", "order_id", o.ID, "error", err)
		return
	}
	if err := r.store.MergePropertyProps(ctx, *o.PropertyID, store.Props{"uspap": cache}); err != nil {
		r.logger.Warn("migration_prior_work_cache_failed", "property_id", *o.PropertyID, "error", err)
	}
}

func (r *Resolver) mergeUnitCache(ctx context.Context, unitID uuid.UUID, cache store.Props) {
	if err := r.store.MergeUnitProps(ctx, unitID, store.Props{"uspap": cache}); err != nil {
		r.logger.Warn("migration_prior_work_cache_failed", "unit_id", unitID, "error", err)
	}
}

type orderCounter func(ctx context.Context, id uuid.UUID, since time.Time, exclude *uuid.UUID) (int, error)

func (r *Resolver) priorWork(ctx context.Context, count orderCounter, id uuid.UUID, exclude *uuid.UUID, now time.Time) (store.Props, bool) {
	n, err := count(ctx, id, now.AddDate(-priorWorkYears, 0, 0), exclude)
	if err != nil {
		r.logger.Warn("migration_prior_work_count_failed", "id", id, "error", err)
		return nil, false
	}
	return store.Props{"prior_work_3y": n, "as_of": now.UTC().Format(time.RFC3339)}, true
}

// findOrder checks (owner, source, external id) first, then the order
// number. matchedOn names the key that hit.
func (r *Resolver) findOrder(ctx context.Context, ownerID uuid.UUID, source, externalID, orderNumber string) (store.Order, string, error) {
	o, err := r.store.FindOrderByExternalID(ctx, ownerID, source, externalID)
	if err == nil {
		return o, "external_id", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Order{}, "", fmt.Errorf("find order by external id: %w", err)
	}
	o, err = r.store.FindOrderByNumber(ctx, ownerID, orderNumber)
	if err == nil {
		return o, "order_number", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Order{}, "", fmt.Errorf("find order by number: %w", err)
	}
	return store.Order{}, "", store.ErrNotFound
}

// orderClient walks the client hints in priority order and falls back to
// the owner's unassigned-orders placeholder.
func (r *Resolver) orderClient(ctx context.Context, row *Row, ownerID uuid.UUID) (uuid.UUID, bool, error) {
	if raw := row.String("client_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			c, err := r.store.GetClient(ctx, ownerID, id)
			if err == nil {
				return c.ID, false, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return uuid.Nil, false, fmt.Errorf("get client: %w", err)
			}
		}
	}

	hints := []string{
		row.Lookup("_client_name"),
		row.Lookup("_amc_client"),
		firstNonEmpty(row.Lookup("_lender_client"), row.String("lender_name")),
	}
	for _, hint := range hints {
		if hint == "" {
			continue
		}
		c, _, err := r.findClient(ctx, ownerID, "", hint)
		if err == nil {
			return c.ID, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, false, err
		}
	}

	if domain := transform.ExtractDomain(row.String("borrower_email")); domain != "" {
		c, err := r.store.FindClientByDomain(ctx, ownerID, domain)
		if err == nil {
			return c.ID, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, false, fmt.Errorf("find client by borrower domain: %w", err)
		}
	}

	placeholder, err := r.store.EnsurePlaceholderClient(ctx, ownerID, UnassignedOrders)
	if err != nil {
		return uuid.Nil, false, &RowError{Field: "client_id", Err: fmt.Errorf("no client for order and placeholder unavailable: %w", err)}
	}
	return placeholder.ID, true, nil
}

// orderAddress returns the building-level address and any unit label found
// on the street line. A free-text original address is parsed only when the
// row has no structured street.
func orderAddress(row *Row) (address.Parts, string) {
	parts := address.Parts{
		Street: row.String("property_address"),
		City:   row.String("property_city"),
		State:  strings.ToUpper(row.String("property_state")),
		Zip:    row.String("property_zip"),
	}
	if parts.Street == "" {
		original := transform.AsString(row.FieldOrProp("original_address"))
		if parsed, ok := address.Parse(original); ok {
			parts = parsed
		} else {
			parts.Street = original
		}
	}
	building, unit := address.ExtractUnit(parts.Street)
	parts.Street = building
	if explicit := row.String("unit"); explicit != "" {
		unit = explicit
	}
	return parts, unit
}

// linkProperty upserts the building and, when the unit is genuine, the unit.
// Every failure here degrades to an order without that link.
func (r *Resolver) linkProperty(ctx context.Context, ownerID uuid.UUID, parts address.Parts, unitLabel, propertyType string, hasUnits bool) propertyLink {
	if parts.Street == "" {
		return propertyLink{}
	}
	zip, zip4 := address.Zip5(parts.Zip)
	prop := &store.Property{
		OwnerID:          ownerID,
		Street:           parts.Street,
		City:             parts.City,
		State:            parts.State,
		Zip:              zip,
		Zip4:             zip4,
		PropertyType:     propertyType,
		ValidationStatus: store.ValidationUnverified,
		Props:            store.Props{},
	}
	hashParts := parts

	if res, ok := r.standardize(ctx, parts); ok {
		std := res.Standardized
		street, _ := address.ExtractUnit(std.Street)
		prop.Street, prop.City, prop.State = street, std.City, std.State
		prop.Zip, prop.Zip4 = std.Zip, std.Zip4
		prop.County = std.County
		prop.Latitude, prop.Longitude = std.Latitude, std.Longitude
		prop.DPVCode = res.DPVCode
		prop.VerificationSource = res.Source
		verifiedAt := r.now()
		prop.VerifiedAt = &verifiedAt
		prop.ValidationStatus = store.ValidationPartial
		if res.Confidence >= 0.8 {
			prop.ValidationStatus = store.ValidationVerified
		}
		hashParts = address.Parts{Street: street, City: std.City, State: std.State, Zip: std.Zip}
	}
	prop.AddrHash = address.Hash(hashParts)

	if err := r.store.UpsertProperty(ctx, prop); err != nil {
		r.logger.Warn("migration_property_upsert_failed", "owner_id", ownerID, "addr_hash", prop.AddrHash, "error", err)
		return propertyLink{}
	}
	link := propertyLink{propertyID: &prop.ID}

	unitNorm := address.NormalizeUnit(unitLabel)
	if !address.ShouldCreateUnit(unitNorm, propertyType, hasUnits) {
		return link
	}
	unit := &store.PropertyUnit{
		OwnerID:    ownerID,
		PropertyID: prop.ID,
		UnitLabel:  unitLabel,
		UnitNorm:   unitNorm,
		Props:      store.Props{},
	}
	if err := r.store.UpsertUnit(ctx, unit); err != nil {
		r.logger.Warn("migration_unit_upsert_failed", "property_id", prop.ID, "unit", unitNorm, "error", err)
		return link
	}
	link.unitID = &unit.ID
	return link
}

func (r *Resolver) standardize(ctx context.Context, parts address.Parts) (addressval.Result, bool) {
	if r.validator == nil || !parts.Complete() {
		return addressval.Result{}, false
	}
	vctx, cancel := context.WithTimeout(ctx, r.validationTimeout)
	defer cancel()

	res, err := r.validator.Validate(vctx, parts)
	if err != nil {
		r.logger.Warn("migration_address_validation_failed", "street", parts.Street, "error", err)
		return addressval.Result{}, false
	}
	if !res.Valid || res.Standardized == nil {
		return res, false
	}
	return res, true
}

// fillOrder copies the typed order fields from the row. On update only the
// fields present in the row are overwritten.
func fillOrder(o *store.Order, row *Row, parts address.Parts, propertyType string, now time.Time, update bool) {
	set := func(dst *string, value string) {
		if value != "" || !update {
			*dst = value
		}
	}
	setDate := func(dst **time.Time, field string) {
		if d, ok := transform.AsDate(row.Fields[field]); ok {
			*dst = &d
		} else if !update {
			*dst = nil
		}
	}
	setMoney := func(dst *decimal.NullDecimal, field string) {
		if amount, ok := transform.AsMoney(row.Fields[field]); ok {
			*dst = decimal.NullDecimal{Decimal: amount, Valid: true}
		} else if !update {
			*dst = decimal.NullDecimal{}
		}
	}

	set(&o.PropertyAddress, parts.Street)
	set(&o.PropertyCity, parts.City)
	set(&o.PropertyState, parts.State)
	set(&o.PropertyZip, parts.Zip)
	set(&o.PropertyType, propertyType)
	set(&o.OrderType, normalizeEnum(row.String("order_type")))
	set(&o.BorrowerName, row.String("borrower_name"))
	set(&o.BorrowerEmail, transform.NormalizeEmail(row.String("borrower_email")))
	set(&o.BorrowerPhone, row.String("borrower_phone"))
	set(&o.LoanNumber, row.String("loan_number"))

	if priority := normalizeEnum(row.String("priority")); priority != "" {
		o.Priority = priority
	} else if !update {
		o.Priority = "normal"
	}

	setDate(&o.DueDate, "due_date")
	setDate(&o.InspectionDate, "inspection_date")
	setDate(&o.CompletedDate, "completed_date")

	setMoney(&o.FeeAmount, "fee_amount")
	setMoney(&o.TechFee, "tech_fee")
	setMoney(&o.TotalAmount, "total_amount")
	if !row.Has("total_amount") && (row.Has("fee_amount") || row.Has("tech_fee")) {
		o.TotalAmount = decimal.NullDecimal{
			Decimal: o.FeeAmount.Decimal.Add(o.TechFee.Decimal),
			Valid:   true,
		}
	}

	explicit := normalizeEnum(row.String("status"))
	dated := row.Has("completed_date") || row.Has("inspection_date") || row.Has("due_date")
	if !update || explicit != "" || dated {
		o.Status = DeriveStatus(explicit, o.CompletedDate, o.InspectionDate, o.DueDate, now)
	}
}

// DeriveStatus keeps an explicit status and otherwise infers one from the
// order dates: completed > in_progress > scheduled > assigned > new.
func DeriveStatus(explicit string, completed, inspection, due *time.Time, now time.Time) string {
	if explicit != "" {
		return explicit
	}
	switch {
	case completed != nil:
		return "completed"
	case inspection != nil && inspection.Before(now):
		return "in_progress"
	case inspection != nil:
		return "scheduled"
	case due != nil:
		return "assigned"
	default:
		return "new"
	}
}

// normalizeEnum folds "Multi Family" and "multi-family" to "multi_family".
func normalizeEnum(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	for strings.Contains(v, "__") {
		v = strings.ReplaceAll(v, "__", "_")
	}
	return v
}

func boolField(row *Row, field string) bool {
	b, ok := transform.AsBool(row.Fields[field])
	return ok && b
}
