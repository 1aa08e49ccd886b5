package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/transform"
)

var clientColumns = fieldSet(
	"company_name", "name", "domain", "phone", "email", "payment_terms",
	"role", "primary_role_code", "source",
)

// ResolveClient imports an organization row. Matching tries the lower-cased
// domain first and falls back to the normalized company name.
func (r *Resolver) ResolveClient(ctx context.Context, row *Row, source string, strategy store.Strategy, ownerID uuid.UUID) (Outcome, error) {
	name := firstNonEmpty(row.String("company_name"), row.String("name"))
	domain := lowerDomain(row.String("domain"))
	if name == "" && domain == "" {
		return "", rowErrorf("company_name", "client rows need a company name or domain")
	}

	props := row.extraProps(clientColumns)
	if rowSource := row.String("source"); rowSource != "" {
		props["import_source"] = rowSource
	} else if _, ok := props["import_source"]; !ok && source != "" {
		props["import_source"] = source
	}
	role, hasRole := assignRole(row, props)

	var existing *store.Client
	if strategy != store.StrategyCreate {
		found, _, err := r.findClient(ctx, ownerID, domain, name)
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

	var paymentTerms *int
	if days, ok := transform.AsInt(row.Fields["payment_terms"]); ok {
		paymentTerms = &days
	}

	if existing != nil {
		c := *existing
		if name != "" {
			c.Name = name
			c.NormalizedName = transform.CompanyKey(name)
		}
		setIfPresent(&c.Domain, domain)
		setIfPresent(&c.Phone, row.String("phone"))
		setIfPresent(&c.Email, transform.NormalizeEmail(row.String("email")))
		if paymentTerms != nil {
			c.PaymentTerms = paymentTerms
		}
		c.Address = c.Address.Merge(row.Nested["address"])
		c.BillingAddress = c.BillingAddress.Merge(row.Nested["billing_address"])
		if hasRole {
			c.PrimaryRoleCode = role.code
			c.Exclude = role.exclude
			c.ExcludeReason = role.reason
		}
		c.Props = c.Props.Merge(props)
		if err := r.store.UpdateClient(ctx, &c); err != nil {
			return "", fmt.Errorf("update client: %w", err)
		}
		return OutcomeUpdated, nil
	}

	displayName := firstNonEmpty(name, domain)
	c := &store.Client{
		OwnerID:         ownerID,
		Name:            displayName,
		NormalizedName:  transform.CompanyKey(displayName),
		Domain:          domain,
		Phone:           row.String("phone"),
		Email:           transform.NormalizeEmail(row.String("email")),
		Address:         row.Nested["address"].Clone(),
		BillingAddress:  row.Nested["billing_address"].Clone(),
		PaymentTerms:    paymentTerms,
		PrimaryRoleCode: role.code,
		Exclude:         role.exclude,
		ExcludeReason:   role.reason,
		Props:           props,
	}
	if err := r.store.CreateClient(ctx, c); err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	return OutcomeInserted, nil
}
