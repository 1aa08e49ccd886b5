package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunInMemory(t *testing.T) {
	t.Setenv("ADDRESS_VALIDATION", "off")
	file := writeFile(t, "contacts.csv", "Email,First Name\nann@example.com,Ann\nbob@example.com,Bob\nann@example.com,Dup\n")
	mapping := writeFile(t, "mapping.yaml", `
- {sourceColumn: Email, targetField: email}
- {sourceColumn: First Name, targetField: first_name}
`)

	out, err := execute(t, "run", file, "--memory", "--entity", "contact", "--mapping", mapping)
	if err != nil {
		t.Fatalf("run: %v (%s)", err, out)
	}
	var res runOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out)
	}
	if res.Job.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Job.Status)
	}
	if res.Job.Totals != (store.Totals{Total: 3, Inserted: 2, Skipped: 1}) {
		t.Fatalf("unexpected totals %+v", res.Job.Totals)
	}
}

func TestDryRunDetectsPreset(t *testing.T) {
	t.Setenv("ADDRESS_VALIDATION", "off")
	file := writeFile(t, "hubspot.csv", "Email,First Name,Last Name,Company Name\nann@example.com,Ann,Lee,Acme\nnot-an-email,Bob,Ray,Acme\n")

	out, err := execute(t, "dry-run", file, "--memory")
	if exitCode(err) != exitValidation {
		t.Fatalf("expected validation exit code, got %d (%v)", exitCode(err), err)
	}
	var res migration.DryRunResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out)
	}
	if res.Total != 2 || res.ErrorCount != 1 || res.WouldInsert != 1 {
		t.Fatalf("unexpected dry run %+v", res)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"missing file argument", []string{"run", "--memory"}, exitUsage},
		{"unknown flag", []string{"presets", "--nope"}, exitUsage},
		{"bad job id", []string{"status", "nope", "--memory"}, exitUsage},
		{"owner required without memory", []string{"status", "7f1c7c8e-4a47-4f5e-9a4e-5f8f1b6c2d11"}, exitUsage},
		{"unreadable file", []string{"run", "/does/not/exist.csv", "--memory", "--entity", "contact"}, exitUsage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			if got := exitCode(err); got != tc.code {
				t.Fatalf("expected exit %d, got %d (%v)", tc.code, got, err)
			}
		})
	}
}

func TestRunRejectsUnknownPreset(t *testing.T) {
	file := writeFile(t, "a.csv", "Email\na@example.com\n")
	_, err := execute(t, "run", file, "--memory", "--preset", "nope")
	if exitCode(err) != exitValidation {
		t.Fatalf("expected validation exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestPresetsListsBuiltIns(t *testing.T) {
	out, err := execute(t, "presets", "--json")
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	var presets []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(out), &presets); err != nil {
		t.Fatalf("decode presets: %v", err)
	}
	if len(presets) != 5 {
		t.Fatalf("expected 5 presets, got %d", len(presets))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&migration.ValidationError{Fields: map[string]string{"entity": "required"}}, exitValidation},
		{migration.ErrPayloadTooLarge, exitValidation},
		{store.ErrNotFound, exitFailed},
		{errors.New("connection refused"), exitDB},
	}
	for _, tc := range cases {
		if got := exitCode(classify(tc.err)); got != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, got)
		}
	}
	if exitCode(nil) != exitOK {
		t.Fatal("nil error should exit 0")
	}
}

func TestLoadMappingAcceptsDocument(t *testing.T) {
	path := writeFile(t, "mapping.json", `{"mapping":[{"sourceColumn":"Email","targetField":"email","required":true}]}`)
	mapping, err := loadMapping(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(mapping) != 1 || !mapping[0].Required || mapping[0].TargetField != "email" {
		t.Fatalf("unexpected mapping %+v", mapping)
	}
}
