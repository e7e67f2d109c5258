package pdffill

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/digitorus/pdf"
)

// AcroField is one terminal form field discovered in a template.
type AcroField struct {
	Name    string
	Kind    string // text, checkbox, radio, choice, signature, button
	Options []string
}

const (
	flagRadio      = 1 << 15
	flagPushButton = 1 << 16
)

// Inspect lists the AcroForm fields of a PDF keyed by fully qualified name.
func Inspect(content []byte) (map[string]AcroField, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	acro := r.Trailer().Key("Root").Key("AcroForm")
	if acro.IsNull() {
		return nil, fmt.Errorf("pdf has no AcroForm")
	}

	out := make(map[string]AcroField)
	fields := acro.Key("Fields")
	for i := 0; i < fields.Len(); i++ {
		walkField(fields.Index(i), "", "", 0, out)
	}
	return out, nil
}

func walkField(v pdf.Value, parentName, inheritedFT string, inheritedFlags int64, out map[string]AcroField) {
	name := parentName
	if t := v.Key("T"); !t.IsNull() {
		if name != "" {
			name += "."
		}
		name += t.Text()
	}

	ft := inheritedFT
	if f := v.Key("FT"); !f.IsNull() {
		ft = f.Name()
	}
	flags := inheritedFlags
	if ff := v.Key("Ff"); !ff.IsNull() {
		flags = ff.Int64()
	}

	kids := v.Key("Kids")
	namedKids := false
	for i := 0; i < kids.Len(); i++ {
		if !kids.Index(i).Key("T").IsNull() {
			namedKids = true
			break
		}
	}
	if namedKids {
		for i := 0; i < kids.Len(); i++ {
			walkField(kids.Index(i), name, ft, flags, out)
		}
		return
	}
	if name == "" {
		return
	}

	field := AcroField{Name: name}
	switch ft {
	case "Tx":
		field.Kind = "text"
	case "Sig":
		field.Kind = "signature"
	case "Ch":
		field.Kind = "choice"
		field.Options = choiceOptions(v.Key("Opt"))
	case "Btn":
		switch {
		case flags&flagPushButton != 0:
			field.Kind = "button"
		case flags&flagRadio != 0:
			field.Kind = "radio"
			field.Options = appearanceStates(v)
		default:
			field.Kind = "checkbox"
		}
	default:
		return
	}
	out[name] = field
}

// appearanceStates collects the on-state names of a button and its widgets.
func appearanceStates(v pdf.Value) []string {
	seen := make(map[string]bool)
	collect := func(w pdf.Value) {
		for _, state := range w.Key("AP").Key("N").Keys() {
			if state != "Off" {
				seen[state] = true
			}
		}
	}
	collect(v)
	kids := v.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		collect(kids.Index(i))
	}

	states := make([]string, 0, len(seen))
	for s := range seen {
		states = append(states, s)
	}
	sort.Strings(states)
	return states
}

func choiceOptions(opt pdf.Value) []string {
	var out []string
	for i := 0; i < opt.Len(); i++ {
		o := opt.Index(i)
		if o.Kind() == pdf.Array {
			o = o.Index(0)
		}
		out = append(out, o.Text())
	}
	return out
}
