package presets

import (
	"errors"
	"testing"

	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

func TestAllLoadsEmbeddedPresets(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("load presets: %v", err)
	}
	want := map[string]store.Entity{
		"asana-contacts":    store.EntityClient,
		"asana-orders":      store.EntityOrder,
		"generic-csv":       store.EntityContact,
		"hubspot-companies": store.EntityClient,
		"hubspot-contacts":  store.EntityContact,
	}
	if len(all) != len(want) {
		t.Fatalf("expected %d presets, got %d", len(want), len(all))
	}
	for _, p := range all {
		entity, ok := want[p.ID]
		if !ok {
			t.Fatalf("unexpected preset %q", p.ID)
		}
		if p.Entity != entity {
			t.Fatalf("preset %s: expected entity %s, got %s", p.ID, entity, p.Entity)
		}
	}
}

func TestAsanaOrdersMapTransformParams(t *testing.T) {
	p, ok := Get("asana-orders")
	if !ok {
		t.Fatal("asana-orders preset missing")
	}
	for _, m := range p.Mappings {
		if m.TargetField != "order_type" {
			continue
		}
		values, ok := m.TransformParams["values"].(map[string]any)
		if !ok {
			t.Fatalf("expected values table, got %T", m.TransformParams["values"])
		}
		if values["refi"] != "refinance" {
			t.Fatalf("unexpected refi mapping %v", values["refi"])
		}
		return
	}
	t.Fatal("order_type mapping missing")
}

func TestDetect(t *testing.T) {
	cases := []struct {
		headers []string
		want    string
	}{
		{[]string{"Email", "First Name", "Last Name", "Company Name"}, "hubspot-contacts"},
		{[]string{"Name", "Company Domain Name", "Record ID"}, "hubspot-companies"},
		{[]string{"Name", "Phone", "Street", "City", "State"}, "asana-contacts"},
		{[]string{"Task ID", "Created At", "Appraisal Fee"}, "asana-orders"},
		{[]string{"gid", "name", "due_on"}, "asana-orders"},
	}
	for _, tc := range cases {
		got, ok := Detect(tc.headers)
		if !ok || got.ID != tc.want {
			t.Fatalf("headers %v: expected %s, got %q (ok=%v)", tc.headers, tc.want, got.ID, ok)
		}
	}
	if _, ok := Detect([]string{"foo", "bar"}); ok {
		t.Fatal("expected no preset for unknown headers")
	}
}

func TestForHeadersDropsAbsentColumns(t *testing.T) {
	p, ok := Get("hubspot-contacts")
	if !ok {
		t.Fatal("hubspot-contacts preset missing")
	}
	mappings := p.ForHeaders([]string{"Email", "First Name", "Last Name"})
	if len(mappings) == 0 {
		t.Fatal("expected some mappings")
	}
	for _, m := range mappings {
		switch m.SourceColumn {
		case "Email", "First Name", "Last Name":
		default:
			t.Fatalf("unexpected mapping for column %q", m.SourceColumn)
		}
	}
}

func TestApplyDetectsPreset(t *testing.T) {
	req := migration.SubmitRequest{
		FileName: "contacts.csv",
		Content:  []byte("Email,First Name,Last Name,Company Name\nann@example.com,Ann,Lee,Acme\n"),
	}
	p, err := Apply(&req, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if p.ID != "hubspot-contacts" || req.Entity != store.EntityContact || req.Source != "hubspot" {
		t.Fatalf("unexpected request %+v from preset %s", req, p.ID)
	}
	if len(req.Mapping) == 0 {
		t.Fatal("expected mappings from the preset")
	}
}

func TestApplyKeepsExplicitEntity(t *testing.T) {
	req := migration.SubmitRequest{
		FileName: "companies.csv",
		Content:  []byte("Name,Company Domain Name,Record ID\nAcme,acme.com,1\n"),
		Source:   "crm",
	}
	if _, err := Apply(&req, "hubspot-companies"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if req.Source != "crm" || req.Entity != store.EntityClient {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestApplyRejectsUnknownInput(t *testing.T) {
	cases := []struct {
		name    string
		content string
		preset  string
		field   string
	}{
		{"unknown preset", "Email\na@x.com\n", "nope", "preset"},
		{"nothing detected", "foo,bar\n1,2\n", "", "mapping"},
		{"empty file", "", "", "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := migration.SubmitRequest{FileName: "a.csv", Content: []byte(tc.content)}
			_, err := Apply(&req, tc.preset)
			var verr *migration.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected %s field error, got %v", tc.field, verr.Fields)
			}
		})
	}
}
