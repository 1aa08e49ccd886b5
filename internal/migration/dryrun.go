package migration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/tabular"
	"github.com/moveops-platform/apps/migrator/internal/transform"
)

// maxDryRunSamples caps the issues and duplicates listed in a dry run.
const maxDryRunSamples = 25

var (
	emailFields = []string{"email", "borrower_email"}
	phoneFields = []string{"phone", "borrower_phone"}
	dateFields  = []string{"due_date", "inspection_date", "completed_date"}
	moneyFields = []string{"fee_amount", "tech_fee", "total_amount"}

	orderEnums = []struct {
		field   string
		allowed []string
	}{
		{"status", []string{"new", "assigned", "scheduled", "in_progress", "in_review", "revisions", "completed", "delivered", "cancelled"}},
		{"priority", []string{"rush", "high", "normal", "low"}},
		{"order_type", []string{"purchase", "refinance", "home_equity", "estate", "divorce", "tax_appeal", "other"}},
		{"property_type", []string{"single_family", "condo", "multi_family", "townhouse", "commercial", "land", "manufactured"}},
	}
)

// DryRun checks a file against the mapping and the current store without
// writing anything.
func (c *Controller) DryRun(ctx context.Context, req DryRunRequest) (DryRunResult, error) {
	if err := c.normalize(&req); err != nil {
		return DryRunResult{}, err
	}
	table, err := tabular.Parse(req.FileName, req.Content)
	if err != nil {
		return DryRunResult{}, &ValidationError{Fields: map[string]string{"file": err.Error()}}
	}

	result := DryRunResult{
		Total:      len(table.Rows),
		Errors:     []DryRunIssue{},
		Duplicates: []DryRunDuplicate{},
	}
	plan := compilePlan(req.Mapping, table.Headers)
	seen := map[string]int{}

	for i, raw := range table.Rows {
		if err := ctx.Err(); err != nil {
			return DryRunResult{}, err
		}
		index := i + 2
		row, buildErr := plan.build(index, raw)

		issues := checkRow(row, req.Entity)
		if buildErr != nil {
			var rowErr *RowError
			field := ""
			if errors.As(buildErr, &rowErr) {
				field = rowErr.Field
			}
			issues = append([]DryRunIssue{{Row: index, Field: field, Message: buildErr.Error()}}, issues...)
		}
		if len(issues) > 0 {
			result.ErrorCount++
			for _, issue := range issues {
				if len(result.Errors) < maxDryRunSamples {
					result.Errors = append(result.Errors, issue)
				}
			}
			continue
		}

		matchedOn, value, err := c.findDuplicate(ctx, row, req)
		if err != nil {
			return DryRunResult{}, err
		}
		if matchedOn == "" {
			matchedOn, value = inFileDuplicate(seen, row, req.Entity, index)
		}
		if matchedOn == "" {
			result.WouldInsert++
			continue
		}
		if len(result.Duplicates) < maxDryRunSamples {
			result.Duplicates = append(result.Duplicates, DryRunDuplicate{Row: index, MatchedOn: matchedOn, Value: value})
		}
		switch req.Strategy {
		case store.StrategyUpdate:
			result.WouldUpdate++
		case store.StrategyCreate:
			result.WouldInsert++
		default:
			result.WouldSkip++
		}
	}
	return result, nil
}

// checkRow validates field types and order enumerations.
func checkRow(row *Row, entity store.Entity) []DryRunIssue {
	var issues []DryRunIssue
	add := func(field string, value any, format string, args ...any) {
		issues = append(issues, DryRunIssue{Row: row.Index, Field: field, Value: transform.AsString(value), Message: fmt.Sprintf(format, args...)})
	}

	for _, field := range emailFields {
		if v := row.String(field); v != "" && validate().Var(v, "email") != nil {
			add(field, v, "invalid email address")
		}
	}
	for _, field := range phoneFields {
		if v := row.String(field); v != "" {
			if digits := len(transform.NormalizePhone(v)); digits < 10 || digits > 15 {
				add(field, v, "phone number must have 10 to 15 digits")
			}
		}
	}
	for _, field := range dateFields {
		if v := row.Fields[field]; v != nil {
			if _, ok := transform.AsDate(v); !ok {
				add(field, v, "invalid date")
			}
		}
	}
	for _, field := range moneyFields {
		if v := row.Fields[field]; v != nil {
			if _, ok := transform.AsMoney(v); !ok {
				add(field, v, "invalid amount")
			}
		}
	}
	if v := row.Fields["payment_terms"]; v != nil {
		if _, ok := transform.AsInt(v); !ok {
			add("payment_terms", v, "payment terms must be a number of days")
		}
	}

	if entity == store.EntityOrder {
		for _, enum := range orderEnums {
			v := normalizeEnum(row.String(enum.field))
			if v != "" && !slices.Contains(enum.allowed, v) {
				add(enum.field, v, "must be one of: %s", strings.Join(enum.allowed, ", "))
			}
		}
		if row.String("external_id") == "" && row.String("order_number") == "" {
			add("external_id", nil, "order rows need an external id or an order number")
		}
	}
	if entity == store.EntityClient && row.String("company_name") == "" && row.String("name") == "" && row.String("domain") == "" {
		add("company_name", nil, "client rows need a company name or domain")
	}
	return issues
}

type keyLookup struct {
	matchedOn string
	value     string
	find      func() error
}

// findDuplicate looks the row's natural keys up in the store.
func (c *Controller) findDuplicate(ctx context.Context, row *Row, req DryRunRequest) (string, string, error) {
	if c.entities == nil {
		return "", "", nil
	}
	owner := req.OwnerID
	var lookups []keyLookup
	switch req.Entity {
	case store.EntityContact:
		email := transform.NormalizeEmail(row.String("email"))
		lookups = append(lookups, keyLookup{"email", email, func() error {
			_, err := c.entities.FindContactByEmail(ctx, owner, email)
			return err
		}})
	case store.EntityClient:
		domain := lowerDomain(row.String("domain"))
		name := firstNonEmpty(row.String("company_name"), row.String("name"))
		lookups = append(lookups,
			keyLookup{"domain", domain, func() error {
				_, err := c.entities.FindClientByDomain(ctx, owner, domain)
				return err
			}},
			keyLookup{"company_name", name, func() error {
				_, err := c.entities.FindClientByNormalizedName(ctx, owner, transform.CompanyKey(name))
				return err
			}},
		)
	case store.EntityOrder:
		externalID := firstNonEmpty(row.String("external_id"), row.String("order_number"))
		number := row.String("order_number")
		lookups = append(lookups,
			keyLookup{"external_id", externalID, func() error {
				_, err := c.entities.FindOrderByExternalID(ctx, owner, req.Source, externalID)
				return err
			}},
			keyLookup{"order_number", number, func() error {
				_, err := c.entities.FindOrderByNumber(ctx, owner, number)
				return err
			}},
		)
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		err := l.find()
		if err == nil {
			return l.matchedOn, l.value, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", "", fmt.Errorf("duplicate lookup on %s: %w", l.matchedOn, err)
		}
	}
	return "", "", nil
}

// inFileDuplicate reports a natural key already used by an earlier row of
// the same file.
func inFileDuplicate(seen map[string]int, row *Row, entity store.Entity, index int) (string, string) {
	var keys [][2]string
	switch entity {
	case store.EntityContact:
		keys = append(keys, [2]string{"email", transform.NormalizeEmail(row.String("email"))})
	case store.EntityClient:
		keys = append(keys,
			[2]string{"domain", lowerDomain(row.String("domain"))},
			[2]string{"company_name", transform.CompanyKey(firstNonEmpty(row.String("company_name"), row.String("name")))},
		)
	case store.EntityOrder:
		keys = append(keys,
			[2]string{"external_id", firstNonEmpty(row.String("external_id"), row.String("order_number"))},
			[2]string{"order_number", row.String("order_number")},
		)
	}

	var matchedOn, value string
	for _, k := range keys {
		if k[1] == "" {
			continue
		}
		id := k[0] + ":" + k[1]
		if _, ok := seen[id]; ok && matchedOn == "" {
			matchedOn, value = k[0], k[1]
		}
		seen[id] = index
	}
	return matchedOn, value
}
