package pipeline

import (
	"fmt"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/fields"
	"subsidy-esign/pkg/registry"
)

// a4HeightPt is the page height the registered templates are laid out on.
// Anchor markers are in PDF points from the bottom left; providers without
// anchor search place fields from the top left.
const a4HeightPt = 842.0

// signerAnchor binds a stamped anchor to the signer field it marks.
type signerAnchor struct {
	kind      models.TabKind
	recipient string
}

var signerAnchors = map[string]signerAnchor{
	fields.AnchorSignApplicant: {models.TabSignHere, fields.RecipientApplicant},
	fields.AnchorDateApplicant: {models.TabDateSigned, fields.RecipientApplicant},
	fields.AnchorSignRepresent: {models.TabSignHere, fields.RecipientRepresentative},
	fields.AnchorDateRepresent: {models.TabDateSigned, fields.RecipientRepresentative},
}

// signerTabsFromAnchors places the signer fields of a filled template at the
// coordinates of its anchor markers, for every recipient in the request.
func signerTabsFromAnchors(t *registry.Template, recipients []models.Recipient) ([]models.Tab, error) {
	slots := make(map[string]bool)
	for _, sa := range signerAnchors {
		slots[sa.recipient] = true
	}
	present := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if !slots[r.ID] {
			return nil, apperrors.NewValidationError("Signer has no signing slot", fmt.Sprintf("recipient %q", r.ID))
		}
		present[r.ID] = true
	}

	var tabs []models.Tab
	placed := make(map[string]bool)
	for _, m := range t.Anchors {
		sa, ok := signerAnchors[m.Text]
		if !ok || !present[sa.recipient] {
			continue
		}
		p := models.Absolute(1, m.Page, m.X, a4HeightPt-m.Y)
		if err := p.Validate(); err != nil {
			return nil, apperrors.NewTemplateFieldError(t.ID, fmt.Sprintf("anchor %q: %v", m.Text, err))
		}
		tabs = append(tabs, models.Tab{
			Name:        fmt.Sprintf("%s_%s", sa.kind, sa.recipient),
			Kind:        sa.kind,
			RecipientID: sa.recipient,
			Placement:   &p,
		})
		placed[sa.recipient] = true
	}

	for id := range present {
		if !placed[id] {
			return nil, apperrors.NewTemplateFieldError(t.ID, fmt.Sprintf("template has no signature anchor for recipient %q", id))
		}
	}
	return tabs, nil
}
