// Package presets ships column mappings for well-known export formats.
package presets

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

//go:embed data/*.yaml
var dataFS embed.FS

type Preset struct {
	ID          string              `json:"id" yaml:"id"`
	Name        string              `json:"name" yaml:"name"`
	Source      string              `json:"source" yaml:"source"`
	Entity      store.Entity        `json:"entity" yaml:"entity"`
	Description string              `json:"description" yaml:"description"`
	Mappings    []migration.Mapping `json:"mappings" yaml:"mappings"`
}

var (
	loadOnce sync.Once
	loaded   []Preset
	loadErr  error
)

func load() ([]Preset, error) {
	loadOnce.Do(func() {
		loaded, loadErr = parse(dataFS)
	})
	return loaded, loadErr
}

func parse(fsys fs.FS) ([]Preset, error) {
	names, err := fs.Glob(fsys, "data/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Preset, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read preset %s: %w", name, err)
		}
		var p Preset
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode preset %s: %w", name, err)
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(path.Base(name), ".yaml")
		}
		if p.Mappings == nil {
			p.Mappings = []migration.Mapping{}
		}
		out = append(out, p)
	}
	return out, nil
}

// All returns every preset ordered by id.
func All() ([]Preset, error) {
	presets, err := load()
	if err != nil {
		return nil, err
	}
	return append([]Preset(nil), presets...), nil
}

func Get(id string) (Preset, bool) {
	presets, err := load()
	if err != nil {
		return Preset{}, false
	}
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// Detect picks the preset whose export format matches the file headers.
func Detect(headers []string) (Preset, bool) {
	h := make(map[string]struct{}, len(headers))
	for _, header := range headers {
		h[strings.ToLower(strings.TrimSpace(header))] = struct{}{}
	}
	has := func(names ...string) bool {
		for _, name := range names {
			if _, ok := h[name]; ok {
				return true
			}
		}
		return false
	}

	switch {
	case has("company_name", "company name", "name") &&
		has("phone", "email", "role") &&
		((has("address") && has("address 2", "address2", "address_2", "city")) ||
			(has("street") && has("city")) ||
			has("license #", "licensure date")):
		return Get("asana-contacts")
	case has("email") &&
		has("firstname", "first name") &&
		has("lastname", "last name") &&
		has("company", "company name", "hs_object_id", "record id - contact"):
		return Get("hubspot-contacts")
	case has("name", "company name") &&
		has("domain", "company domain name") &&
		has("hs_object_id", "company", "record id", "company type"):
		return Get("hubspot-companies")
	case (has("gid") && has("name") && has("due_on", "created_at")) ||
		(has("task id") && has("created at") && has("appraisal fee", "appraised property address")):
		return Get("asana-orders")
	}
	return Preset{}, false
}

// ForHeaders keeps the preset mappings whose source column is present in the
// file. Presets list alternate spellings of the same column, so unmatched
// entries would otherwise fail required checks.
func (p Preset) ForHeaders(headers []string) []migration.Mapping {
	present := make(map[string]struct{}, len(headers))
	for _, header := range headers {
		present[strings.ToLower(strings.TrimSpace(header))] = struct{}{}
	}
	out := make([]migration.Mapping, 0, len(p.Mappings))
	for _, m := range p.Mappings {
		if _, ok := present[strings.ToLower(strings.TrimSpace(m.SourceColumn))]; ok {
			out = append(out, m)
		}
	}
	return out
}
