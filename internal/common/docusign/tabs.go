package docusign

import (
	"fmt"
	"sort"
	"strconv"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
)

type envelopeDefinition struct {
	EmailSubject string        `json:"emailSubject"`
	EmailBlurb   string        `json:"emailBlurb,omitempty"`
	Status       string        `json:"status"`
	Documents    []document    `json:"documents"`
	Recipients   recipients    `json:"recipients"`
	CustomFields *customFields `json:"customFields,omitempty"`
}

type document struct {
	DocumentID     string `json:"documentId"`
	Name           string `json:"name"`
	FileExtension  string `json:"fileExtension"`
	DocumentBase64 string `json:"documentBase64"`
}

type recipients struct {
	Signers []signer `json:"signers"`
}

type signer struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	RecipientID  string `json:"recipientId"`
	RoutingOrder string `json:"routingOrder"`
	ClientUserID string `json:"clientUserId,omitempty"`
	Tabs         *tabs  `json:"tabs,omitempty"`
}

type tabs struct {
	TextTabs       []tab        `json:"textTabs,omitempty"`
	CheckboxTabs   []tab        `json:"checkboxTabs,omitempty"`
	RadioGroupTabs []radioGroup `json:"radioGroupTabs,omitempty"`
	SignHereTabs   []tab        `json:"signHereTabs,omitempty"`
	DateSignedTabs []tab        `json:"dateSignedTabs,omitempty"`
}

// tab carries both placement shapes; DocuSign expects numbers as strings.
type tab struct {
	TabLabel string `json:"tabLabel"`
	Value    string `json:"value,omitempty"`
	Selected string `json:"selected,omitempty"`
	Locked   string `json:"locked,omitempty"`

	AnchorString             string `json:"anchorString,omitempty"`
	AnchorXOffset            string `json:"anchorXOffset,omitempty"`
	AnchorYOffset            string `json:"anchorYOffset,omitempty"`
	AnchorUnits              string `json:"anchorUnits,omitempty"`
	AnchorIgnoreIfNotPresent string `json:"anchorIgnoreIfNotPresent,omitempty"`

	DocumentID string `json:"documentId,omitempty"`
	PageNumber string `json:"pageNumber,omitempty"`
	XPosition  string `json:"xPosition,omitempty"`
	YPosition  string `json:"yPosition,omitempty"`
}

type radioGroup struct {
	GroupName string `json:"groupName"`
	Radios    []tab  `json:"radios"`
}

type customFields struct {
	TextCustomFields []textCustomField `json:"textCustomFields"`
}

type textCustomField struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Show     string `json:"show,omitempty"`
	Required string `json:"required,omitempty"`
}

// buildEnvelopeDefinition turns a provider-neutral request into a "sent"
// envelope. Data tabs without a recipient belong to the first signer and are
// always locked.
func buildEnvelopeDefinition(req models.EnvelopeRequest) (*envelopeDefinition, error) {
	if len(req.Documents) == 0 {
		return nil, apperrors.NewValidationError("Envelope has no documents", "at least one document is required")
	}
	if len(req.Recipients) == 0 {
		return nil, apperrors.NewValidationError("Envelope has no recipients", "at least one signer is required")
	}

	def := &envelopeDefinition{
		EmailSubject: req.Subject,
		EmailBlurb:   req.Message,
		Status:       "sent",
	}
	for i, d := range req.Documents {
		def.Documents = append(def.Documents, encodeDocument(d, i))
	}

	byRecipient := make(map[string]*tabs, len(req.Recipients))
	for i, r := range req.Recipients {
		order := r.RoutingOrder
		if order == 0 {
			order = 1
		}
		s := signer{
			Email:        r.Email,
			Name:         r.Name,
			RecipientID:  r.ID,
			RoutingOrder: strconv.Itoa(order),
			ClientUserID: r.ClientUserID,
			Tabs:         &tabs{},
		}
		def.Recipients.Signers = append(def.Recipients.Signers, s)
		byRecipient[r.ID] = def.Recipients.Signers[i].Tabs
	}
	first := req.Recipients[0].ID

	for _, t := range req.Tabs {
		owner := t.RecipientID
		locked := t.Locked
		if owner == "" {
			owner = first
			locked = true
		}
		target, ok := byRecipient[owner]
		if !ok {
			return nil, apperrors.NewValidationError("Tab refers to an unknown recipient", fmt.Sprintf("tab %q: recipient %q", t.Name, owner))
		}
		if err := addTab(target, t, locked); err != nil {
			return nil, err
		}
	}

	for i := range def.Recipients.Signers {
		if isEmpty(def.Recipients.Signers[i].Tabs) {
			def.Recipients.Signers[i].Tabs = nil
		}
	}

	if len(req.Metadata) > 0 {
		def.CustomFields = &customFields{}
		for _, key := range sortedKeys(req.Metadata) {
			def.CustomFields.TextCustomFields = append(def.CustomFields.TextCustomFields, textCustomField{
				Name:     key,
				Value:    req.Metadata[key],
				Show:     "false",
				Required: "false",
			})
		}
	}
	return def, nil
}

func addTab(target *tabs, t models.Tab, locked bool) error {
	if t.Placement == nil {
		return apperrors.NewValidationError("Tab has no placement", fmt.Sprintf("tab %q", t.Name))
	}
	if err := t.Placement.Validate(); err != nil {
		return apperrors.NewValidationError("Invalid tab placement", fmt.Sprintf("tab %q: %v", t.Name, err))
	}

	out := placed(t.Name, *t.Placement)
	switch t.Kind {
	case models.TabCheckbox:
		out.Selected = strconv.FormatBool(t.Value.Bool())
		out.Locked = strconv.FormatBool(locked)
		target.CheckboxTabs = append(target.CheckboxTabs, out)
	case models.TabRadio:
		out.Value = t.Value.String()
		out.Selected = "true"
		out.Locked = strconv.FormatBool(locked)
		target.RadioGroupTabs = append(target.RadioGroupTabs, radioGroup{GroupName: t.Name, Radios: []tab{out}})
	case models.TabSignHere:
		target.SignHereTabs = append(target.SignHereTabs, out)
	case models.TabDateSigned:
		target.DateSignedTabs = append(target.DateSignedTabs, out)
	default:
		out.Value = t.Value.String()
		out.Locked = strconv.FormatBool(locked)
		target.TextTabs = append(target.TextTabs, out)
	}
	return nil
}

func placed(label string, d models.TabDescriptor) tab {
	t := tab{TabLabel: label}
	if d.IsAnchor() {
		t.AnchorString = d.AnchorText
		t.AnchorXOffset = formatFloat(d.AnchorOffsetX)
		t.AnchorYOffset = formatFloat(d.AnchorOffsetY)
		t.AnchorUnits = "pixels"
		t.AnchorIgnoreIfNotPresent = "false"
		return t
	}
	t.DocumentID = strconv.Itoa(*d.DocumentIndex)
	t.PageNumber = strconv.Itoa(*d.PageNumber)
	t.XPosition = formatFloat(*d.X)
	t.YPosition = formatFloat(*d.Y)
	return t
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isEmpty(t *tabs) bool {
	return len(t.TextTabs) == 0 && len(t.CheckboxTabs) == 0 && len(t.RadioGroupTabs) == 0 &&
		len(t.SignHereTabs) == 0 && len(t.DateSignedTabs) == 0
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
