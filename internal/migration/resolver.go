package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/addressval"
	"github.com/moveops-platform/apps/migrator/internal/roles"
	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/transform"
)

const defaultValidationTimeout = 3 * time.Second

// Resolver writes normalized rows into the entity store, deduplicating on
// each entity's natural key.
type Resolver struct {
	store             store.EntityStore
	validator         addressval.Validator
	validationTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

type ResolverOption func(*Resolver)

// WithAddressValidator standardizes order addresses. Each call is bounded by
// timeout; failures fall back to the address as typed.
func WithAddressValidator(v addressval.Validator, timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.validator = v
		if timeout > 0 {
			r.validationTimeout = timeout
		}
	}
}

func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

func NewResolver(entities store.EntityStore, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:             entities,
		validationTimeout: defaultValidationTimeout,
		logger:            logger,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, entity store.Entity, row *Row, source string, strategy store.Strategy, ownerID uuid.UUID) (Outcome, error) {
	switch entity {
	case store.EntityContact:
		return r.ResolveContact(ctx, row, strategy, ownerID)
	case store.EntityClient:
		return r.ResolveClient(ctx, row, source, strategy, ownerID)
	case store.EntityOrder:
		return r.ResolveOrder(ctx, row, source, strategy, ownerID)
	default:
		return "", fmt.Errorf("unsupported entity %q", entity)
	}
}

type roleAssignment struct {
	code    string
	exclude bool
	reason  string
}

// assignRole maps the row's role label. Unmatched labels are kept in props
// under original_role. ok is false when the row carries no label.
func assignRole(row *Row, props store.Props) (roleAssignment, bool) {
	label := firstNonEmpty(row.Lookup("_role"), row.String("role"), row.String("primary_role_code"))
	if label == "" {
		return roleAssignment{code: string(roles.Unknown)}, false
	}
	res := roles.Map(label)
	if !res.Matched {
		props["original_role"] = res.Label
	}
	return roleAssignment{code: string(res.Code), exclude: res.Junk, reason: res.Reason}, true
}

// findClient matches on domain first and then on normalized company name.
func (r *Resolver) findClient(ctx context.Context, ownerID uuid.UUID, domain, name string) (store.Client, string, error) {
	if domain != "" {
		c, err := r.store.FindClientByDomain(ctx, ownerID, domain)
		if err == nil {
			return c, "domain", nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Client{}, "", fmt.Errorf("find client by domain: %w", err)
		}
	}
	if key := transform.CompanyKey(name); key != "" {
		c, err := r.store.FindClientByNormalizedName(ctx, ownerID, key)
		if err == nil {
			return c, "company_name", nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Client{}, "", fmt.Errorf("find client by name: %w", err)
		}
	}
	return store.Client{}, "", store.ErrNotFound
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func lowerDomain(value string) string {
	if value == "" {
		return ""
	}
	if d := transform.ExtractDomain(value); d != "" {
		return d
	}
	return strings.ToLower(strings.TrimSpace(value))
}
