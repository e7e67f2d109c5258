// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg TemplateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse template registry %s: %w", path, err)
	}
	return &reg, nil
}

func SaveRegistry(path string, reg *TemplateRegistry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (r *TemplateRegistry) Find(id string) (*Template, bool) {
	for i := range r.Templates {
		if r.Templates[i].ID == id {
			return &r.Templates[i], true
		}
	}
	return nil, false
}

// ForFormKind returns the first template registered for kind.
func (r *TemplateRegistry) ForFormKind(kind string) (*Template, bool) {
	for i := range r.Templates {
		if r.Templates[i].FormKind == kind {
			return &r.Templates[i], true
		}
	}
	return nil, false
}

// Validate checks the registry's own consistency. Whether the fields exist in
// the PDF files is checked by the filler at startup.
func (r *TemplateRegistry) Validate() error {
	seen := make(map[string]bool)
	for _, t := range r.Templates {
		if t.ID == "" || t.File == "" {
			return fmt.Errorf("template entries need id and file")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate template id %q", t.ID)
		}
		seen[t.ID] = true

		keys := make(map[string]bool)
		for _, f := range t.Fields {
			if f.Key == "" || f.PDFName == "" {
				return fmt.Errorf("template %s: field entries need key and pdfName", t.ID)
			}
			if keys[f.Key] {
				return fmt.Errorf("template %s: duplicate field key %q", t.ID, f.Key)
			}
			keys[f.Key] = true

			switch f.Kind {
			case FieldKindText, FieldKindCheckbox:
			case FieldKindRadio, FieldKindChoice:
				if len(f.Options) == 0 {
					return fmt.Errorf("template %s: %s field %q declares no options", t.ID, f.Kind, f.Key)
				}
			default:
				return fmt.Errorf("template %s: field %q has unknown kind %q", t.ID, f.Key, f.Kind)
			}
		}

		for _, a := range t.Anchors {
			if a.Text == "" || a.Page < 1 || a.X < 0 || a.Y < 0 {
				return fmt.Errorf("template %s: invalid anchor %+v", t.ID, a)
			}
		}
	}
	return nil
}
