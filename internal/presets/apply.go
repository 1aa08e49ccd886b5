package presets

import (
	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/tabular"
)

// Apply fills the request from preset id, or from the preset detected from
// the file headers when id is empty. Fields already set on the request win,
// except that a named preset replaces an explicit mapping.
func Apply(req *migration.SubmitRequest, id string) (Preset, error) {
	table, err := tabular.Parse(req.FileName, req.Content)
	if err != nil {
		return Preset{}, &migration.ValidationError{Fields: map[string]string{"file": err.Error()}}
	}

	var (
		preset Preset
		ok     bool
	)
	if id != "" {
		if preset, ok = Get(id); !ok {
			return Preset{}, &migration.ValidationError{Fields: map[string]string{"preset": "unknown preset " + id}}
		}
	} else if preset, ok = Detect(table.Headers); !ok {
		return Preset{}, &migration.ValidationError{Fields: map[string]string{"mapping": "mapping or preset is required"}}
	}

	if req.Entity == "" {
		req.Entity = preset.Entity
	}
	if req.Source == "" {
		req.Source = preset.Source
	}
	if id != "" || len(req.Mapping) == 0 {
		req.Mapping = preset.ForHeaders(table.Headers)
	}
	return preset, nil
}
