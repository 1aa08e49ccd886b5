package migration

import (
	"strings"

	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/tabular"
	"github.com/moveops-platform/apps/migrator/internal/transform"
)

const (
	propsPrefix  = "props."
	lookupPrefix = "_"
)

var nestedTargets = []string{"address", "billing_address"}

// Row is one source row after column mapping and transforms.
type Row struct {
	// Index is the 1-based row number as seen in the file, header included.
	Index   int
	Raw     tabular.Row
	Fields  map[string]any
	Lookups map[string]any
	Props   store.Props
	Nested  map[string]store.Props
}

func newRow(index int, raw tabular.Row) *Row {
	return &Row{
		Index:   index,
		Raw:     raw,
		Fields:  map[string]any{},
		Lookups: map[string]any{},
		Props:   store.Props{},
		Nested:  map[string]store.Props{},
	}
}

// String returns the field as trimmed text, or "" when absent.
func (r *Row) String(field string) string {
	return transform.AsString(r.Fields[field])
}

func (r *Row) Has(field string) bool {
	return r.Fields[field] != nil
}

// Lookup returns a lookup-only hint by name, with or without the prefix.
func (r *Row) Lookup(name string) string {
	if !strings.HasPrefix(name, lookupPrefix) {
		name = lookupPrefix + name
	}
	return transform.AsString(r.Lookups[name])
}

// FieldOrProp reads a top-level field and falls back to the props bucket.
func (r *Row) FieldOrProp(name string) any {
	if v := r.Fields[name]; v != nil {
		return v
	}
	return r.Props[name]
}

// extraProps returns the props bucket plus every top-level field the
// resolver does not store in a typed column.
func (r *Row) extraProps(known map[string]struct{}) store.Props {
	out := r.Props.Clone()
	if out == nil {
		out = store.Props{}
	}
	for field, value := range r.Fields {
		if _, ok := known[field]; ok || value == nil {
			continue
		}
		out[field] = jsonValue(value)
	}
	for key, value := range out {
		out[key] = jsonValue(value)
	}
	return out
}

// jsonValue converts transform results into JSON-friendly values. Maps and
// slices keep their shape.
func jsonValue(value any) any {
	switch v := value.(type) {
	case nil, string, bool, float64, int, []string:
		return v
	case store.Props:
		return jsonValue(map[string]any(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = jsonValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = jsonValue(item)
		}
		return out
	default:
		return transform.AsString(v)
	}
}

func fieldSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		out[name] = struct{}{}
	}
	return out
}

type planEntry struct {
	Mapping
	column string
	kind   transform.Kind
}

// plan is the compiled column mapping for one file.
type plan struct {
	entries []planEntry
}

// compilePlan binds mappings to the file headers. Entries with an empty
// target are dropped. Column names match exactly first, then ignoring case
// and surrounding whitespace.
func compilePlan(mappings []Mapping, headers []string) plan {
	exact := make(map[string]string, len(headers))
	folded := make(map[string]string, len(headers))
	for _, h := range headers {
		exact[h] = h
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := folded[key]; !ok {
			folded[key] = h
		}
	}

	p := plan{entries: make([]planEntry, 0, len(mappings))}
	for _, m := range mappings {
		m.TargetField = strings.TrimSpace(m.TargetField)
		if m.TargetField == "" {
			continue
		}
		column, ok := exact[m.SourceColumn]
		if !ok {
			column = folded[strings.ToLower(strings.TrimSpace(m.SourceColumn))]
		}
		kind, _ := transform.ParseKind(m.Transform)
		p.entries = append(p.entries, planEntry{Mapping: m, column: column, kind: kind})
	}
	return p
}

// build maps one raw row. When several columns feed the same target, the
// first non-empty value in mapping order wins. A required target that ends
// up empty fails the row.
func (p plan) build(index int, raw tabular.Row) (*Row, error) {
	row := newRow(index, raw)
	for _, e := range p.entries {
		var value any
		if e.column != "" {
			value = transform.Apply(raw[e.column], e.kind, e.TransformParams)
		}
		if value == nil {
			continue
		}
		row.assign(e.TargetField, value)
	}

	for _, e := range p.entries {
		if e.Required && !row.isSet(e.TargetField) {
			return row, rowErrorf(e.TargetField, "required field %s (column %q) is empty", e.TargetField, e.SourceColumn)
		}
	}
	return row, nil
}

func (r *Row) assign(target string, value any) {
	switch {
	case strings.HasPrefix(target, propsPrefix):
		setOnce(r.Props, strings.TrimPrefix(target, propsPrefix), value)
	case strings.HasPrefix(target, lookupPrefix):
		setOnce(r.Lookups, target, value)
	default:
		if group, part, ok := nestedTarget(target); ok {
			bucket := r.Nested[group]
			if bucket == nil {
				bucket = store.Props{}
				r.Nested[group] = bucket
			}
			setOnce(bucket, part, jsonValue(value))
			return
		}
		setOnce(r.Fields, target, value)
	}
}

func (r *Row) isSet(target string) bool {
	switch {
	case strings.HasPrefix(target, propsPrefix):
		return r.Props[strings.TrimPrefix(target, propsPrefix)] != nil
	case strings.HasPrefix(target, lookupPrefix):
		return r.Lookups[target] != nil
	default:
		if group, part, ok := nestedTarget(target); ok {
			return r.Nested[group][part] != nil
		}
		return r.Fields[target] != nil
	}
}

func nestedTarget(target string) (string, string, bool) {
	for _, group := range nestedTargets {
		if part, ok := strings.CutPrefix(target, group+"."); ok && part != "" {
			return group, part, true
		}
	}
	return "", "", false
}

func setOnce[M ~map[string]any](m M, key string, value any) {
	if m[key] != nil {
		return
	}
	m[key] = value
}
