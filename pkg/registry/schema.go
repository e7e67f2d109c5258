// pkg/registry/schema.go
package registry

// TemplateRegistry describes the PDF form templates the filler may use.
type TemplateRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Templates   []Template `json:"templates"`
}

type Template struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	FormKind    string          `json:"formKind"`
	DisplayName string          `json:"displayName"`
	File        string          `json:"file"`
	Fields      []TemplateField `json:"fields"`
	Anchors     []AnchorMarker  `json:"anchors"`
}

// TemplateField binds a logical field key to an AcroForm field of the PDF.
type TemplateField struct {
	Key     string   `json:"key"`
	PDFName string   `json:"pdfName"`
	Kind    string   `json:"kind"` // text, checkbox, radio, choice
	Options []string `json:"options,omitempty"`
}

// AnchorMarker is a literal stamp position, in PDF points from the bottom
// left corner of the page. Coordinates belong to one template version.
type AnchorMarker struct {
	Text string  `json:"text"`
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

const (
	FieldKindText     = "text"
	FieldKindCheckbox = "checkbox"
	FieldKindRadio    = "radio"
	FieldKindChoice   = "choice"
)
