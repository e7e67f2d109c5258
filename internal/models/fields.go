// internal/models/fields.go
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TabDescriptor places a tab either by anchor text or by absolute page
// coordinates. Exactly one shape may be present.
type TabDescriptor struct {
	AnchorText    string  `json:"anchorText,omitempty"`
	AnchorOffsetX float64 `json:"anchorOffsetX,omitempty"`
	AnchorOffsetY float64 `json:"anchorOffsetY,omitempty"`

	DocumentIndex *int     `json:"documentIndex,omitempty"`
	PageNumber    *int     `json:"pageNumber,omitempty"`
	X             *float64 `json:"x,omitempty"`
	Y             *float64 `json:"y,omitempty"`
}

// Anchor builds an anchor-based descriptor with zero offsets.
func Anchor(text string) TabDescriptor {
	return TabDescriptor{AnchorText: text}
}

// Absolute builds a fully specified absolute descriptor.
func Absolute(documentIndex, page int, x, y float64) TabDescriptor {
	return TabDescriptor{DocumentIndex: &documentIndex, PageNumber: &page, X: &x, Y: &y}
}

func (d TabDescriptor) IsAnchor() bool {
	return d.AnchorText != ""
}

func (d TabDescriptor) hasAnyAbsolute() bool {
	return d.DocumentIndex != nil || d.PageNumber != nil || d.X != nil || d.Y != nil
}

func (d TabDescriptor) hasAllAbsolute() bool {
	return d.DocumentIndex != nil && d.PageNumber != nil && d.X != nil && d.Y != nil
}

// Validate rejects descriptors that mix both shapes, carry only part of the
// absolute coordinates, or carry nothing at all.
func (d TabDescriptor) Validate() error {
	switch {
	case d.IsAnchor() && d.hasAnyAbsolute():
		return fmt.Errorf("tab descriptor mixes anchor text %q with absolute coordinates", d.AnchorText)
	case d.IsAnchor():
		return nil
	case d.hasAllAbsolute():
		if *d.DocumentIndex < 1 || *d.PageNumber < 1 {
			return fmt.Errorf("documentIndex and pageNumber are 1-based")
		}
		if *d.X < 0 || *d.Y < 0 {
			return fmt.Errorf("absolute coordinates must be non-negative")
		}
		return nil
	case d.hasAnyAbsolute():
		return fmt.Errorf("absolute placement requires documentIndex, pageNumber, x and y together")
	default:
		return fmt.Errorf("tab descriptor has neither anchor text nor absolute coordinates")
	}
}

// FieldValue is either text or a checkbox state.
type FieldValue struct {
	text    string
	checked bool
	isBool  bool
}

func TextValue(s string) FieldValue { return FieldValue{text: s} }

func BoolValue(b bool) FieldValue { return FieldValue{checked: b, isBool: true} }

func (v FieldValue) IsBool() bool { return v.isBool }

func (v FieldValue) Bool() bool { return v.checked }

// String renders booleans as "true"/"false".
func (v FieldValue) String() string {
	if v.isBool {
		return strconv.FormatBool(v.checked)
	}
	return v.text
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.isBool {
		return json.Marshal(v.checked)
	}
	return json.Marshal(v.text)
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("field value must be a string or boolean")
	}
	*v = TextValue(s)
	return nil
}

// FieldAssignment is produced by the mapper for one request and consumed once.
type FieldAssignment struct {
	FieldKey    string     `json:"fieldKey"`
	Value       FieldValue `json:"value"`
	RecipientID string     `json:"recipientId,omitempty"`
}

type TabKind string

const (
	TabText       TabKind = "text"
	TabCheckbox   TabKind = "checkbox"
	TabRadio      TabKind = "radio"
	TabSignHere   TabKind = "signHere"
	TabDateSigned TabKind = "dateSigned"
)

// Tab is a provider-neutral field placement handed to an EnvelopeProvider.
// Placement is nil for template fields addressed by Name only.
type Tab struct {
	Name        string         `json:"name"`
	Kind        TabKind        `json:"kind"`
	RecipientID string         `json:"recipientId,omitempty"`
	Value       FieldValue     `json:"value"`
	Locked      bool           `json:"locked,omitempty"`
	Placement   *TabDescriptor `json:"placement,omitempty"`
}
