package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/transform"
)

var contactColumns = fieldSet(
	"first_name", "last_name", "email", "phone", "title",
	"role", "primary_role_code", "company_name", "domain",
)

// ResolveContact imports a contact row keyed on its lower-cased email. Rows
// without an email are always inserted.
func (r *Resolver) ResolveContact(ctx context.Context, row *Row, strategy store.Strategy, ownerID uuid.UUID) (Outcome, error) {
	email := transform.NormalizeEmail(row.String("email"))
	props := row.extraProps(contactColumns)
	role, hasRole := assignRole(row, props)

	var existing *store.Contact
	if email != "" && strategy != store.StrategyCreate {
		found, err := r.store.FindContactByEmail(ctx, ownerID, email)
		switch {
		case err == nil:
			existing = &found
		case !errors.Is(err, store.ErrNotFound):
			return "", fmt.Errorf("find contact: %w", err)
		}
	}
	if existing != nil && strategy == store.StrategySkip {
		return OutcomeSkipped, nil
	}

	clientID, matched, err := r.contactClient(ctx, row, email, ownerID)
	if err != nil {
		return "", err
	}
	needsAssignment := false
	if !matched && existing != nil && existing.ClientID != uuid.Nil {
		clientID = existing.ClientID
		needsAssignment = existing.NeedsCompanyAssignment
	} else if !matched {
		placeholder, err := r.store.EnsurePlaceholderClient(ctx, ownerID, UnassignedContacts)
		if err != nil {
			return "", fmt.Errorf("ensure placeholder client: %w", err)
		}
		clientID = placeholder.ID
		needsAssignment = true
	}

	if existing != nil {
		c := *existing
		c.Email = email
		c.ClientID = clientID
		c.NeedsCompanyAssignment = needsAssignment
		setIfPresent(&c.FirstName, row.String("first_name"))
		setIfPresent(&c.LastName, row.String("last_name"))
		setIfPresent(&c.Phone, row.String("phone"))
		setIfPresent(&c.Title, row.String("title"))
		if hasRole {
			c.PrimaryRoleCode = role.code
			c.Exclude = role.exclude
			c.ExcludeReason = role.reason
		}
		c.Props = c.Props.Merge(props)
		if err := r.store.UpdateContact(ctx, &c); err != nil {
			return "", fmt.Errorf("update contact: %w", err)
		}
		return OutcomeUpdated, nil
	}

	c := &store.Contact{
		OwnerID:                ownerID,
		ClientID:               clientID,
		FirstName:              row.String("first_name"),
		LastName:               row.String("last_name"),
		Email:                  email,
		Phone:                  row.String("phone"),
		Title:                  row.String("title"),
		PrimaryRoleCode:        role.code,
		Exclude:                role.exclude,
		ExcludeReason:          role.reason,
		NeedsCompanyAssignment: needsAssignment,
		Props:                  props,
	}
	if err := r.store.CreateContact(ctx, c); err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	return OutcomeInserted, nil
}

// contactClient resolves the contact's organization. Explicit hints match
// on domain then name and create the client when nothing matches. Without
// hints only the email domain is tried.
func (r *Resolver) contactClient(ctx context.Context, row *Row, email string, ownerID uuid.UUID) (uuid.UUID, bool, error) {
	domain := lowerDomain(firstNonEmpty(row.Lookup("_client_domain"), row.String("domain")))
	name := firstNonEmpty(row.Lookup("_client_name"), row.String("company_name"))

	if domain != "" || name != "" {
		c, _, err := r.findClient(ctx, ownerID, domain, name)
		if err == nil {
			return c.ID, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, false, err
		}
		created := &store.Client{
			OwnerID:         ownerID,
			Name:            firstNonEmpty(name, domain),
			NormalizedName:  transform.CompanyKey(firstNonEmpty(name, domain)),
			Domain:          domain,
			PrimaryRoleCode: "unknown",
			Props:           store.Props{"created_from": "contact_import"},
		}
		if err := r.store.CreateClient(ctx, created); err != nil {
			return uuid.Nil, false, fmt.Errorf("create client from hint: %w", err)
		}
		return created.ID, true, nil
	}

	if emailDomain := transform.ExtractDomain(email); emailDomain != "" {
		c, err := r.store.FindClientByDomain(ctx, ownerID, emailDomain)
		if err == nil {
			return c.ID, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, false, fmt.Errorf("find client by email domain: %w", err)
		}
	}
	return uuid.Nil, false, nil
}

func setIfPresent(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
