package pdffill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/models"
	"subsidy-esign/pkg/registry"
)

// Filler fills registered PDF templates. Template files are read fresh on
// every call and never written.
type Filler struct {
	registry *registry.TemplateRegistry
	baseDir  string
	writer   FormWriter
	log      logger.Logger

	mu        sync.RWMutex
	inspected map[string]map[string]AcroField
}

func NewFiller(reg *registry.TemplateRegistry, baseDir string, writer FormWriter, log logger.Logger) *Filler {
	return &Filler{
		registry:  reg,
		baseDir:   baseDir,
		writer:    writer,
		log:       logger.Component(log, "pdf-filler"),
		inspected: make(map[string]map[string]AcroField),
	}
}

// Template returns the registered template for a form kind.
func (f *Filler) Template(kind models.FormKind) (*registry.Template, error) {
	t, ok := f.registry.ForFormKind(string(kind))
	if !ok {
		return nil, apperrors.NewTemplateFieldError(string(kind), "no PDF template registered for form kind")
	}
	return t, nil
}

// Preflight inspects every template and checks that each declared field
// exists with a compatible kind and options. It runs at startup.
func (f *Filler) Preflight() error {
	for i := range f.registry.Templates {
		t := &f.registry.Templates[i]
		fields, err := f.inspect(t)
		if err != nil {
			return err
		}
		if err := CheckTemplate(t, fields); err != nil {
			return err
		}
		f.log.Info("Template verified", map[string]interface{}{
			"templateId": t.ID,
			"version":    t.Version,
			"fields":     len(t.Fields),
			"anchors":    len(t.Anchors),
		})
	}
	return nil
}

// CheckTemplate compares a registry entry with the AcroForm fields of its PDF.
func CheckTemplate(t *registry.Template, fields map[string]AcroField) error {
	for _, tf := range t.Fields {
		af, ok := fields[tf.PDFName]
		if !ok {
			return apperrors.NewFieldNotFoundError(t.ID, tf.PDFName)
		}
		if af.Kind != tf.Kind {
			return apperrors.NewTemplateFieldError(t.ID, fmt.Sprintf("field %q is %s in the PDF but declared %s", tf.PDFName, af.Kind, tf.Kind))
		}
		for _, opt := range tf.Options {
			if !contains(af.Options, opt) {
				return apperrors.NewInvalidOptionError(t.ID, tf.PDFName, opt, af.Options)
			}
		}
	}
	return nil
}

func (f *Filler) read(t *registry.Template) ([]byte, error) {
	path := t.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.baseDir, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewTemplateFieldError(t.ID, fmt.Sprintf("cannot read template file: %v", err))
	}
	return content, nil
}

func (f *Filler) inspect(t *registry.Template) (map[string]AcroField, error) {
	key := t.ID + "@" + t.Version
	f.mu.RLock()
	fields, ok := f.inspected[key]
	f.mu.RUnlock()
	if ok {
		return fields, nil
	}

	content, err := f.read(t)
	if err != nil {
		return nil, err
	}
	fields, err = Inspect(content)
	if err != nil {
		return nil, apperrors.NewTemplateFieldError(t.ID, err.Error())
	}

	f.mu.Lock()
	f.inspected[key] = fields
	f.mu.Unlock()
	return fields, nil
}

// Fill writes assignments into a fresh copy of the template and optionally
// stamps the template's anchor markers. The result is never flattened.
func (f *Filler) Fill(ctx context.Context, templateID string, assignments []models.FieldAssignment, addAnchors bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, ok := f.registry.Find(templateID)
	if !ok {
		return nil, apperrors.NewTemplateFieldError(templateID, "template is not registered")
	}
	fields, err := f.inspect(t)
	if err != nil {
		return nil, err
	}

	form, err := buildForm(t, fields, assignments)
	if err != nil {
		return nil, err
	}
	formJSON, err := json.Marshal(form)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	content, err := f.read(t)
	if err != nil {
		return nil, err
	}
	out, err := f.writer.FillForm(content, formJSON)
	if err != nil {
		return nil, apperrors.NewTemplateFieldError(t.ID, err.Error())
	}

	if addAnchors {
		for _, marker := range t.Anchors {
			out, err = f.writer.StampText(out, marker)
			if err != nil {
				return nil, apperrors.NewTemplateFieldError(t.ID, err.Error())
			}
		}
	}

	f.log.Debug("Template filled", map[string]interface{}{
		"templateId": t.ID,
		"fields":     len(assignments),
		"anchors":    addAnchors,
		"sizeBytes":  len(out),
	})
	return out, nil
}

// pdfcpu form JSON.
type formFile struct {
	Forms []formFields `json:"forms"`
}

type formFields struct {
	TextFields  []textField  `json:"textfield,omitempty"`
	CheckBoxes  []checkBox   `json:"checkbox,omitempty"`
	RadioGroups []radioGroup `json:"radiobuttongroup,omitempty"`
	ComboBoxes  []comboBox   `json:"combobox,omitempty"`
}

type textField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Locked bool   `json:"locked"`
}

type checkBox struct {
	Name   string `json:"name"`
	Value  bool   `json:"value"`
	Locked bool   `json:"locked"`
}

type radioGroup struct {
	Name    string   `json:"name"`
	Options []string `json:"options,omitempty"`
	Value   string   `json:"value"`
	Locked  bool     `json:"locked"`
}

type comboBox struct {
	Name    string   `json:"name"`
	Options []string `json:"options,omitempty"`
	Value   string   `json:"value"`
	Locked  bool     `json:"locked"`
}

func buildForm(t *registry.Template, fields map[string]AcroField, assignments []models.FieldAssignment) (*formFile, error) {
	byKey := make(map[string]registry.TemplateField, len(t.Fields))
	for _, tf := range t.Fields {
		byKey[tf.Key] = tf
	}

	var form formFields
	for _, a := range assignments {
		tf, ok := byKey[a.FieldKey]
		if !ok {
			return nil, apperrors.NewFieldNotFoundError(t.ID, a.FieldKey)
		}
		af, ok := fields[tf.PDFName]
		if !ok {
			return nil, apperrors.NewFieldNotFoundError(t.ID, tf.PDFName)
		}

		switch tf.Kind {
		case registry.FieldKindText:
			form.TextFields = append(form.TextFields, textField{Name: tf.PDFName, Value: a.Value.String()})
		case registry.FieldKindCheckbox:
			if !a.Value.IsBool() {
				return nil, apperrors.NewInvalidOptionError(t.ID, tf.PDFName, a.Value.String(), []string{"true", "false"})
			}
			form.CheckBoxes = append(form.CheckBoxes, checkBox{Name: tf.PDFName, Value: a.Value.Bool()})
		case registry.FieldKindRadio, registry.FieldKindChoice:
			value := a.Value.String()
			if !contains(tf.Options, value) || !contains(af.Options, value) {
				return nil, apperrors.NewInvalidOptionError(t.ID, tf.PDFName, value, tf.Options)
			}
			if tf.Kind == registry.FieldKindRadio {
				form.RadioGroups = append(form.RadioGroups, radioGroup{Name: tf.PDFName, Options: af.Options, Value: value})
			} else {
				form.ComboBoxes = append(form.ComboBoxes, comboBox{Name: tf.PDFName, Options: af.Options, Value: value})
			}
		default:
			return nil, apperrors.NewTemplateFieldError(t.ID, fmt.Sprintf("field %q has unsupported kind %q", tf.PDFName, tf.Kind))
		}
	}

	return &formFile{Forms: []formFields{form}}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
