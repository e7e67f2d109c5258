package fields

import (
	"fmt"
	"sort"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
	"subsidy-esign/pkg/registry"
)

// Target identifies who consumes a set of field assignments.
type Target string

const (
	TargetDocuSign    Target = "docusign"
	TargetDropboxSign Target = "dropboxsign"
	TargetPDF         Target = "pdf"
)

// TargetForProvider maps a provider onto its catalog target.
func TargetForProvider(p models.ProviderKind) Target {
	return Target(p)
}

type FieldKind string

const (
	KindText          FieldKind = "text"
	KindCheckbox      FieldKind = "checkbox"
	KindRadio         FieldKind = "radio"
	KindChoice        FieldKind = "choice"
	KindCheckboxGroup FieldKind = "checkboxGroup"
	KindSignature     FieldKind = "signature"
	KindDateSigned    FieldKind = "dateSigned"
)

// FieldSpec declares one field of a template version.
type FieldSpec struct {
	Key  string
	Name string
	Kind FieldKind

	// Options are the declared values of radio and choice fields.
	Options []string
	// Members maps each option of a checkbox group to the checkbox key that
	// represents it. Member keys are catalog entries of kind checkbox.
	Members map[string]string

	Placement *models.TabDescriptor
	Recipient string
	Locked    bool
}

// Catalog is the typed field list of one target and form kind.
type Catalog struct {
	Target   Target
	FormKind models.FormKind
	Version  string

	// PlaceholderInactive makes the mapper emit a single space for fields of
	// an inactive conditional branch instead of omitting them.
	PlaceholderInactive bool

	fields     map[string]FieldSpec
	order      []string
	duplicates map[string][]string
}

func NewCatalog(target Target, kind models.FormKind, version string, placeholderInactive bool) *Catalog {
	return &Catalog{
		Target:              target,
		FormKind:            kind,
		Version:             version,
		PlaceholderInactive: placeholderInactive,
		fields:              make(map[string]FieldSpec),
		duplicates:          make(map[string][]string),
	}
}

// Add registers specs in declaration order.
func (c *Catalog) Add(specs ...FieldSpec) *Catalog {
	for _, s := range specs {
		if s.Name == "" {
			s.Name = s.Key
		}
		if _, exists := c.fields[s.Key]; !exists {
			c.order = append(c.order, s.Key)
		}
		c.fields[s.Key] = s
	}
	return c
}

// Duplicate declares extra display keys filled from the canonical key's value.
func (c *Catalog) Duplicate(canonical string, displayKeys ...string) *Catalog {
	c.duplicates[canonical] = append(c.duplicates[canonical], displayKeys...)
	return c
}

func (c *Catalog) Spec(key string) (FieldSpec, bool) {
	s, ok := c.fields[key]
	return s, ok
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.fields[key]
	return ok
}

// Keys returns field keys in declaration order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.order...)
}

func (c *Catalog) DuplicatesOf(key string) []string {
	return c.duplicates[key]
}

// Validate checks the catalog's internal consistency. It runs at startup.
func (c *Catalog) Validate() error {
	id := fmt.Sprintf("%s/%s@%s", c.Target, c.FormKind, c.Version)

	for _, key := range c.order {
		s := c.fields[key]
		switch s.Kind {
		case KindText, KindCheckbox, KindSignature, KindDateSigned:
		case KindRadio, KindChoice:
			if len(s.Options) == 0 {
				return apperrors.NewTemplateFieldError(id, fmt.Sprintf("%s field %q declares no options", s.Kind, key))
			}
		case KindCheckboxGroup:
			if len(s.Members) == 0 {
				return apperrors.NewTemplateFieldError(id, fmt.Sprintf("checkbox group %q has no members", key))
			}
			for option, member := range s.Members {
				ms, ok := c.fields[member]
				if !ok || ms.Kind != KindCheckbox {
					return apperrors.NewTemplateFieldError(id, fmt.Sprintf("checkbox group %q option %q refers to %q which is not a checkbox", key, option, member))
				}
			}
		default:
			return apperrors.NewTemplateFieldError(id, fmt.Sprintf("field %q has unknown kind %q", key, s.Kind))
		}

		if s.Placement != nil {
			if err := s.Placement.Validate(); err != nil {
				return apperrors.NewTemplateFieldError(id, fmt.Sprintf("field %q: %v", key, err))
			}
		}
		if (s.Kind == KindSignature || s.Kind == KindDateSigned) && s.Recipient == "" {
			return apperrors.NewTemplateFieldError(id, fmt.Sprintf("signer field %q has no recipient", key))
		}
		if c.Target == TargetDocuSign && s.Kind != KindCheckboxGroup && s.Placement == nil {
			return apperrors.NewTemplateFieldError(id, fmt.Sprintf("tab %q has no placement", key))
		}
	}

	for canonical, dups := range c.duplicates {
		cs, ok := c.fields[canonical]
		if !ok {
			return apperrors.NewTemplateFieldError(id, fmt.Sprintf("duplicate source %q is not a catalog field", canonical))
		}
		for _, d := range dups {
			ds, ok := c.fields[d]
			if !ok {
				return apperrors.NewTemplateFieldError(id, fmt.Sprintf("duplicate display field %q is not a catalog field", d))
			}
			if ds.Kind != cs.Kind {
				return apperrors.NewTemplateFieldError(id, fmt.Sprintf("duplicate display field %q has kind %s, source %q has %s", d, ds.Kind, canonical, cs.Kind))
			}
		}
	}
	return nil
}

// Tabs resolves assignments into provider-neutral tabs carrying the target's
// field names and placements.
func (c *Catalog) Tabs(assignments []models.FieldAssignment) ([]models.Tab, error) {
	tabs := make([]models.Tab, 0, len(assignments))
	for _, a := range assignments {
		s, ok := c.fields[a.FieldKey]
		if !ok {
			return nil, apperrors.NewTemplateFieldError(string(c.Target), fmt.Sprintf("assignment %q is not in the catalog", a.FieldKey))
		}
		if s.Placement != nil {
			if err := s.Placement.Validate(); err != nil {
				return nil, apperrors.NewTemplateFieldError(string(c.Target), fmt.Sprintf("field %q: %v", a.FieldKey, err))
			}
		}
		recipient := a.RecipientID
		if recipient == "" {
			recipient = s.Recipient
		}
		tabs = append(tabs, models.Tab{
			Name:        s.Name,
			Kind:        tabKind(s.Kind),
			RecipientID: recipient,
			Value:       a.Value,
			Locked:      s.Locked,
			Placement:   s.Placement,
		})
	}
	return tabs, nil
}

func tabKind(k FieldKind) models.TabKind {
	switch k {
	case KindCheckbox:
		return models.TabCheckbox
	case KindRadio, KindChoice:
		return models.TabRadio
	case KindSignature:
		return models.TabSignHere
	case KindDateSigned:
		return models.TabDateSigned
	default:
		return models.TabText
	}
}

// CatalogFromTemplate builds the PDF catalog of a registered template.
func CatalogFromTemplate(t *registry.Template) *Catalog {
	c := NewCatalog(TargetPDF, models.FormKind(t.FormKind), t.Version, false)
	for _, f := range t.Fields {
		c.Add(FieldSpec{
			Key:     f.Key,
			Name:    f.PDFName,
			Kind:    FieldKind(f.Kind),
			Options: f.Options,
		})
	}
	return c
}

// Registry holds one catalog per target and form kind.
type Registry struct {
	catalogs map[Target]map[models.FormKind]*Catalog
}

func NewRegistry(catalogs ...*Catalog) *Registry {
	r := &Registry{catalogs: make(map[Target]map[models.FormKind]*Catalog)}
	for _, c := range catalogs {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c *Catalog) {
	if r.catalogs[c.Target] == nil {
		r.catalogs[c.Target] = make(map[models.FormKind]*Catalog)
	}
	r.catalogs[c.Target][c.FormKind] = c
}

func (r *Registry) Lookup(target Target, kind models.FormKind) (*Catalog, bool) {
	c, ok := r.catalogs[target][kind]
	return c, ok
}

// Validate validates every registered catalog in a stable order.
func (r *Registry) Validate() error {
	var all []*Catalog
	for _, byKind := range r.catalogs {
		for _, c := range byKind {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Target != all[j].Target {
			return all[i].Target < all[j].Target
		}
		return all[i].FormKind < all[j].FormKind
	})
	for _, c := range all {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
