package migration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moveops-platform/apps/migrator/internal/address"
	"github.com/moveops-platform/apps/migrator/internal/addressval"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

func resolve(t *testing.T, h *harness, entity store.Entity, strategy store.Strategy, mappings []Mapping, csv string) (Outcome, error) {
	t.Helper()
	return h.resolver.Resolve(context.Background(), entity, buildRow(t, mappings, csv), "csv", strategy, h.owner)
}

func TestContactStrategies(t *testing.T) {
	mappings := []Mapping{m("email", "email"), m("first", "first_name")}
	cases := []struct {
		strategy  store.Strategy
		email     string
		want      Outcome
		contacts  int
		firstName string
	}{
		{store.StrategySkip, "a@x.com", OutcomeSkipped, 1, "Old"},
		{store.StrategyUpdate, "a@x.com", OutcomeUpdated, 1, "New"},
		{store.StrategyUpdate, "A@X.COM", OutcomeUpdated, 1, "New"},
		{store.StrategyCreate, "a@x.com", OutcomeInserted, 2, "Old"},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy)+"/"+tc.email, func(t *testing.T) {
			h := newHarness(t)
			_, err := resolve(t, h, store.EntityContact, store.StrategySkip, mappings, "email,first\na@x.com,Old\n")
			require.NoError(t, err)

			got, err := resolve(t, h, store.EntityContact, tc.strategy, mappings, "email,first\n"+tc.email+",New\n")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			contacts := h.mem.Contacts(h.owner)
			require.Len(t, contacts, tc.contacts)
			assert.Equal(t, tc.firstName, contacts[0].FirstName)
			assert.Equal(t, "a@x.com", contacts[0].Email)
		})
	}
}

func TestContactWithoutEmailIsAlwaysInserted(t *testing.T) {
	h := newHarness(t)
	mappings := []Mapping{m("first", "first_name")}
	for range 2 {
		got, err := resolve(t, h, store.EntityContact, store.StrategySkip, mappings, "first\nNo Mail\n")
		require.NoError(t, err)
		assert.Equal(t, OutcomeInserted, got)
	}
	assert.Len(t, h.mem.Contacts(h.owner), 2)
}

func TestContactWithoutClientGoesToPlaceholder(t *testing.T) {
	h := newHarness(t)
	_, err := resolve(t, h, store.EntityContact, store.StrategySkip, []Mapping{m("email", "email")}, "email\nsolo@nowhere.io\n")
	require.NoError(t, err)

	contacts := h.mem.Contacts(h.owner)
	require.Len(t, contacts, 1)
	assert.True(t, contacts[0].NeedsCompanyAssignment)

	clients := h.mem.Clients(h.owner)
	require.Len(t, clients, 1)
	assert.True(t, clients[0].IsPlaceholder)
	assert.Equal(t, UnassignedContacts, clients[0].Name)
	assert.Equal(t, clients[0].ID, contacts[0].ClientID)
}

func TestContactMatchesClientByEmailDomain(t *testing.T) {
	h := newHarness(t)
	_, err := resolve(t, h, store.EntityClient, store.StrategySkip, []Mapping{m("company", "company_name"), m("domain", "domain")}, "company,domain\nAcme,ACME.com\n")
	require.NoError(t, err)

	_, err = resolve(t, h, store.EntityContact, store.StrategySkip, []Mapping{m("email", "email")}, "email\njoe@acme.com\n")
	require.NoError(t, err)

	clients := h.mem.Clients(h.owner)
	require.Len(t, clients, 1)
	contacts := h.mem.Contacts(h.owner)
	require.Len(t, contacts, 1)
	assert.Equal(t, clients[0].ID, contacts[0].ClientID)
	assert.False(t, contacts[0].NeedsCompanyAssignment)
}

func TestContactUpdateKeepsClientWhenNothingMatches(t *testing.T) {
	h := newHarness(t)
	mappings := []Mapping{m("email", "email"), m("company", "_client_name"), m("title", "title")}
	_, err := resolve(t, h, store.EntityContact, store.StrategySkip, mappings, "email,company,title\nann@mail.com,Beta LLC,\n")
	require.NoError(t, err)

	got, err := resolve(t, h, store.EntityContact, store.StrategyUpdate, mappings, "email,company,title\nann@mail.com,,CFO\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, got)

	clients := realClients(h.mem.Clients(h.owner))
	require.Len(t, clients, 1)
	contact := h.mem.Contacts(h.owner)[0]
	assert.Equal(t, clients[0].ID, contact.ClientID)
	assert.Equal(t, "CFO", contact.Title)
	assert.Equal(t, "contact_import", clients[0].Props["created_from"])
}

func TestContactRoles(t *testing.T) {
	h := newHarness(t)
	mappings := []Mapping{m("email", "email"), m("role", "_role")}
	_, err := resolve(t, h, store.EntityContact, store.StrategySkip, mappings, "email,role\nlo@x.com,Loan Officer\n")
	require.NoError(t, err)
	_, err = resolve(t, h, store.EntityContact, store.StrategySkip, mappings, "email,role\njunk@x.com,DELETE\n")
	require.NoError(t, err)
	_, err = resolve(t, h, store.EntityContact, store.StrategySkip, mappings, "email,role\nodd@x.com,Chief Vibes Officer\n")
	require.NoError(t, err)

	byEmail := map[string]store.Contact{}
	for _, c := range h.mem.Contacts(h.owner) {
		byEmail[c.Email] = c
	}
	assert.Equal(t, "loan_officer", byEmail["lo@x.com"].PrimaryRoleCode)
	assert.False(t, byEmail["lo@x.com"].Exclude)

	junk := byEmail["junk@x.com"]
	assert.Equal(t, "unknown", junk.PrimaryRoleCode)
	assert.True(t, junk.Exclude)
	assert.NotEmpty(t, junk.ExcludeReason)

	odd := byEmail["odd@x.com"]
	assert.Equal(t, "unknown", odd.PrimaryRoleCode)
	assert.Equal(t, "Chief Vibes Officer", odd.Props["original_role"])
}

func TestClientMatching(t *testing.T) {
	h := newHarness(t)
	mappings := []Mapping{m("company", "company_name"), m("domain", "domain"), m("phone", "phone")}

	got, err := resolve(t, h, store.EntityClient, store.StrategyUpdate, mappings, "company,domain,phone\nAcme Corp,WWW.Acme.COM,\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, got)

	clients := h.mem.Clients(h.owner)
	require.Len(t, clients, 1)
	assert.Equal(t, "acme.com", clients[0].Domain)
	assert.Equal(t, "csv", clients[0].Props["import_source"])

	got, err = resolve(t, h, store.EntityClient, store.StrategyUpdate, mappings, "company,domain,phone\nACME corp.,,555-0100\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, got)

	got, err = resolve(t, h, store.EntityClient, store.StrategySkip, mappings, "company,domain,phone\nSomething Else,acme.com,\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, got)

	clients = h.mem.Clients(h.owner)
	require.Len(t, clients, 1)
	assert.Equal(t, "555-0100", clients[0].Phone)
	assert.Equal(t, "acme.com", clients[0].Domain)
}

func TestClientRowNeedsNameOrDomain(t *testing.T) {
	h := newHarness(t)
	_, err := resolve(t, h, store.EntityClient, store.StrategySkip, []Mapping{m("company", "company_name"), m("phone", "phone")}, "company,phone\n,555\n")
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "company_name", rowErr.Field)
}

func TestClientNestedAddressAndTerms(t *testing.T) {
	h := newHarness(t)
	mappings := []Mapping{
		m("company", "company_name"),
		m("city", "address.city"),
		m("bill_city", "billing_address.city"),
		{SourceColumn: "terms", TargetField: "payment_terms", Transform: "toNumber"},
		m("tier", "props.tier"),
	}
	_, err := resolve(t, h, store.EntityClient, store.StrategySkip, mappings, "company,city,bill_city,terms,tier\nAcme,Austin,Dallas,30,gold\n")
	require.NoError(t, err)

	c := h.mem.Clients(h.owner)[0]
	assert.Equal(t, "Austin", c.Address["city"])
	assert.Equal(t, "Dallas", c.BillingAddress["city"])
	require.NotNil(t, c.PaymentTerms)
	assert.Equal(t, 30, *c.PaymentTerms)
	assert.Equal(t, "gold", c.Props["tier"])
}

var orderMappings = []Mapping{
	m("ext", "external_id"),
	m("number", "order_number"),
	m("client", "_client_name"),
	m("address", "original_address"),
	m("type", "property_type"),
	m("fee", "fee_amount"),
	m("tech", "tech_fee"),
}

const orderHeader = "ext,number,client,address,type,fee,tech\n"

func TestOrderPlaceholderAndTotals(t *testing.T) {
	h := newHarness(t)
	got, err := resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings, orderHeader+"A-1,,Unknown Co,,,\"$1,200.50\",25\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, got)

	orders := h.mem.Orders(h.owner)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "A-1", o.ExternalID)
	assert.Regexp(t, `^ORD-20250310150405-[0-9A-F]{6}$`, o.OrderNumber)
	assert.Equal(t, "normal", o.Priority)
	assert.Equal(t, "new", o.Status)
	require.True(t, o.TotalAmount.Valid)
	assert.Equal(t, "1225.50", o.TotalAmount.Decimal.StringFixed(2))

	clients := h.mem.Clients(h.owner)
	require.Len(t, clients, 1)
	assert.Equal(t, UnassignedOrders, clients[0].Name)
	assert.Equal(t, clients[0].ID, o.ClientID)
}

func TestOrderUpdateKeepsRealClientOverPlaceholder(t *testing.T) {
	h := newHarness(t)
	_, err := resolve(t, h, store.EntityClient, store.StrategySkip, []Mapping{m("company", "company_name")}, "company\nAcme\n")
	require.NoError(t, err)
	_, err = resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings, orderHeader+"A-1,1001,Acme,,,,\n")
	require.NoError(t, err)

	got, err := resolve(t, h, store.EntityOrder, store.StrategyUpdate, orderMappings, orderHeader+"A-1,1001,,,,99,\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, got)

	acme := realClients(h.mem.Clients(h.owner))[0]
	o := h.mem.Orders(h.owner)[0]
	assert.Equal(t, acme.ID, o.ClientID)
	assert.Equal(t, "99.00", o.FeeAmount.Decimal.StringFixed(2))
}

func TestOrderCreateConflictReportsMatchedKey(t *testing.T) {
	h := newHarness(t)
	_, err := resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings, orderHeader+"A-1,1001,,,,,\n")
	require.NoError(t, err)

	_, err = resolve(t, h, store.EntityOrder, store.StrategyCreate, orderMappings, orderHeader+"A-2,1001,,,,,\n")
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "order_number", rowErr.MatchedOn)

	_, err = resolve(t, h, store.EntityOrder, store.StrategyCreate, orderMappings, orderHeader+"A-1,2002,,,,,\n")
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "external_id", rowErr.MatchedOn)
	assert.Len(t, h.mem.Orders(h.owner), 1)
}

func TestOrderUnitBoundary(t *testing.T) {
	h := newHarness(t)
	_, err := resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings,
		orderHeader+"A-1,1001,,\"12 Oak Rd #, Springfield, IL 62701\",single_family,,\n")
	require.NoError(t, err)
	_, err = resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings,
		orderHeader+"A-2,1002,,\"100 Main St Apt 4B, Springfield, IL 62701\",Condo,,\n")
	require.NoError(t, err)

	props := h.mem.Properties(h.owner)
	require.Len(t, props, 2)
	byStreet := map[string]store.Property{}
	for _, p := range props {
		byStreet[p.Street] = p
	}

	oak, ok := byStreet["12 Oak Rd #"]
	if !ok {
		oak, ok = byStreet["12 Oak Rd"]
	}
	require.True(t, ok, "oak property missing: %+v", props)
	assert.Empty(t, h.mem.Units(oak.ID))

	main, ok := byStreet["100 Main St"]
	require.True(t, ok, "main street property missing: %+v", props)
	units := h.mem.Units(main.ID)
	require.Len(t, units, 1)
	assert.Equal(t, "4B", units[0].UnitNorm)
	assert.Equal(t, "Apt 4B", units[0].UnitLabel)

	for _, o := range h.mem.Orders(h.owner) {
		require.NotNil(t, o.PropertyID)
		if o.ExternalID == "A-2" {
			require.NotNil(t, o.PropertyUnitID)
			assert.Equal(t, units[0].ID, *o.PropertyUnitID)
			assert.Equal(t, "Apt 4B", o.Props["unit"])
		} else {
			assert.Nil(t, o.PropertyUnitID)
		}
	}
}

func TestOrderPriorWorkCache(t *testing.T) {
	h := newHarness(t)
	addr := "\"100 Main St, Springfield, IL 62701\""
	_, err := resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings, orderHeader+"A-1,1001,,"+addr+",,,\n")
	require.NoError(t, err)
	_, err = resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings, orderHeader+"A-2,1002,,"+addr+",,,\n")
	require.NoError(t, err)

	require.Len(t, h.mem.Properties(h.owner), 1)
	counts := map[string]any{}
	for _, o := range h.mem.Orders(h.owner) {
		cache, ok := o.Props["uspap"].(store.Props)
		require.True(t, ok, "order %s has no prior work cache", o.ExternalID)
		counts[o.ExternalID] = cache["prior_work_3y"]
		assert.Equal(t, testNow.Format(time.RFC3339), cache["as_of"])
	}
	assert.Equal(t, 0, counts["A-1"])
	assert.Equal(t, 1, counts["A-2"])
}

func TestOrderPriorWorkIgnoresOldCompletedOrders(t *testing.T) {
	h := newHarness(t)
	mappings := append([]Mapping{{SourceColumn: "completed", TargetField: "completed_date", Transform: "toDate"}}, orderMappings...)
	header := "completed," + orderHeader
	addr := "\"100 Main St, Springfield, IL 62701\""
	_, err := resolve(t, h, store.EntityOrder, store.StrategySkip, mappings, header+"01/15/2019,A-1,1001,,"+addr+",,,\n")
	require.NoError(t, err)
	_, err = resolve(t, h, store.EntityOrder, store.StrategySkip, mappings, header+",A-2,1002,,"+addr+",,,\n")
	require.NoError(t, err)

	for _, o := range h.mem.Orders(h.owner) {
		if o.ExternalID != "A-2" {
			continue
		}
		cache, ok := o.Props["uspap"].(store.Props)
		require.True(t, ok)
		assert.Equal(t, 0, cache["prior_work_3y"])
		return
	}
	t.Fatal("order A-2 was not stored")
}

type stubValidator struct {
	res addressval.Result
	err error
}

func (s stubValidator) Validate(context.Context, address.Parts) (addressval.Result, error) {
	return s.res, s.err
}

func TestOrderAddressStandardization(t *testing.T) {
	lat, lng := 39.78, -89.65
	h := newHarness(t)
	h.resolver = NewResolver(h.mem, discardLogger(),
		WithResolverClock(func() time.Time { return testNow }),
		WithAddressValidator(stubValidator{res: addressval.Result{
			Valid:      true,
			Confidence: 0.9,
			DPVCode:    "Y",
			Source:     addressval.SourceGoogle,
			Standardized: &addressval.Standardized{
				Street: "100 MAIN ST", City: "SPRINGFIELD", State: "IL", Zip: "62701", Zip4: "1234",
				County: "Sangamon", Latitude: &lat, Longitude: &lng,
			},
		}}, time.Second),
	)

	_, err := resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings,
		orderHeader+"A-1,1001,,\"100 main street, springfield, il 62701\",,,\n")
	require.NoError(t, err)

	props := h.mem.Properties(h.owner)
	require.Len(t, props, 1)
	p := props[0]
	assert.Equal(t, "100 MAIN ST", p.Street)
	assert.Equal(t, "1234", p.Zip4)
	assert.Equal(t, store.ValidationVerified, p.ValidationStatus)
	assert.Equal(t, addressval.SourceGoogle, p.VerificationSource)
	require.NotNil(t, p.VerifiedAt)
}

func TestOrderValidatorFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.resolver = NewResolver(h.mem, discardLogger(),
		WithResolverClock(func() time.Time { return testNow }),
		WithAddressValidator(stubValidator{err: context.DeadlineExceeded}, time.Second),
	)

	got, err := resolve(t, h, store.EntityOrder, store.StrategySkip, orderMappings,
		orderHeader+"A-1,1001,,\"100 Main St, Springfield, IL 62701\",,,\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, got)

	props := h.mem.Properties(h.owner)
	require.Len(t, props, 1)
	assert.Equal(t, store.ValidationUnverified, props[0].ValidationStatus)
	assert.Equal(t, "100 Main St", props[0].Street)
}

func TestDeriveStatus(t *testing.T) {
	now := testNow
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)
	cases := []struct {
		name       string
		explicit   string
		completed  *time.Time
		inspection *time.Time
		due        *time.Time
		want       string
	}{
		{"explicit wins", "on_hold", &past, nil, nil, "on_hold"},
		{"completed", "", &past, &past, &future, "completed"},
		{"inspected", "", nil, &past, &future, "in_progress"},
		{"inspection booked", "", nil, &future, nil, "scheduled"},
		{"due only", "", nil, nil, &future, "assigned"},
		{"nothing", "", nil, nil, nil, "new"},
	}
	for _, tc := range cases {
		if got := DeriveStatus(tc.explicit, tc.completed, tc.inspection, tc.due, now); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestResolveUnknownEntity(t *testing.T) {
	h := newHarness(t)
	_, err := h.resolver.Resolve(context.Background(), "invoice", buildRow(t, contactMappings, "email,first\na@x.com,A\n"), "csv", store.StrategySkip, uuid.New())
	require.Error(t, err)
}
