package fields

import "subsidy-esign/internal/models"

// Signer-bound keys. They carry no intake value; the provider captures them.
const (
	KeySignatureApplicant       = "signature_applicant"
	KeyDateSignedApplicant      = "date_signed_applicant"
	KeySignatureRepresentative  = "signature_representative"
	KeyDateSignedRepresentative = "date_signed_representative"
)

// Anchor strings stamped into the filled PDFs (see configs/templates.json).
const (
	AnchorCompanyName      = `\cn1\`
	AnchorCompanyNameBlock = `\cn2\`
	AnchorSignApplicant    = `\s1\`
	AnchorDateApplicant    = `\d1\`
	AnchorSignRepresent    = `\s2\`
	AnchorDateRepresent    = `\d2\`
)

const (
	docuSignCatalogVersion    = "2026.1"
	dropboxSignCatalogVersion = "2026.1"
)

func anchorAt(anchor string, dx, dy float64) *models.TabDescriptor {
	d := models.Anchor(anchor)
	d.AnchorOffsetX = dx
	d.AnchorOffsetY = dy
	return &d
}

func absAt(page int, x, y float64) *models.TabDescriptor {
	d := models.Absolute(1, page, x, y)
	return &d
}

func text(key, name string, placement *models.TabDescriptor) FieldSpec {
	return FieldSpec{Key: key, Name: name, Kind: KindText, Placement: placement, Locked: true}
}

func checkbox(key, name string, placement *models.TabDescriptor) FieldSpec {
	return FieldSpec{Key: key, Name: name, Kind: KindCheckbox, Placement: placement, Locked: true}
}

func signer(key string, kind FieldKind, recipient string, placement *models.TabDescriptor) FieldSpec {
	return FieldSpec{Key: key, Name: key, Kind: kind, Recipient: recipient, Placement: placement}
}

// DefaultProviderCatalogs returns the catalogs of the provider templates in use.
func DefaultProviderCatalogs() []*Catalog {
	return []*Catalog{
		docuSignDeMinimis(),
		docuSignMandate(),
		docuSignSMEDeclaration(),
		dropboxSignDeMinimis(),
		dropboxSignMandate(),
		dropboxSignSMEDeclaration(),
	}
}

// ==========================
// DocuSign tab catalogs
// ==========================

func docuSignDeMinimis() *Catalog {
	return NewCatalog(TargetDocuSign, models.FormKindDeMinimis, docuSignCatalogVersion, true).
		Add(
			text(KeyCompanyName, "CompanyName", anchorAt(AnchorCompanyName, 0, 0)),
			text("company_name_signature_block", "CompanyNameSignatureBlock", anchorAt(AnchorCompanyNameBlock, 0, 0)),
			text(KeyKvKNumber, "KvKNumber", absAt(1, 360, 612)),
			text(KeySignerName, "SignerName", anchorAt(AnchorSignApplicant, 0, 40)),
			text(KeyAidAmountYear1, "AidAmountYear1", absAt(2, 400, 430)),
			text(KeyAidAmountYear2, "AidAmountYear2", absAt(2, 400, 410)),
			text(KeyAidAmountYear3, "AidAmountYear3", absAt(2, 400, 390)),
			text(KeyOtherAidRegulation, "OtherAidRegulation", absAt(2, 200, 300)),
			text(KeyOtherAidAuthority, "OtherAidAuthority", absAt(2, 200, 280)),
			text(KeyOtherAidAmount, "OtherAidAmount", absAt(2, 200, 260)),
			signer(KeySignatureApplicant, KindSignature, RecipientApplicant, anchorAt(AnchorSignApplicant, 0, 0)),
			signer(KeyDateSignedApplicant, KindDateSigned, RecipientApplicant, anchorAt(AnchorDateApplicant, 0, 0)),
		).
		Duplicate(KeyCompanyName, "company_name_signature_block")
}

func docuSignMandate() *Catalog {
	return NewCatalog(TargetDocuSign, models.FormKindMandate, docuSignCatalogVersion, true).
		Add(
			text(KeyApplicantCompanyName, "ApplicantCompanyName", anchorAt(AnchorCompanyName, 0, 0)),
			text(KeyRepresentativeCompanyName, "RepresentativeCompanyName", anchorAt(AnchorCompanyNameBlock, 0, 0)),
			text(KeyApplicantName, "ApplicantName", anchorAt(AnchorSignApplicant, 0, 40)),
			text(KeyRepresentativeName, "RepresentativeName", anchorAt(AnchorSignRepresent, 0, 40)),
			signer(KeySignatureApplicant, KindSignature, RecipientApplicant, anchorAt(AnchorSignApplicant, 0, 0)),
			signer(KeyDateSignedApplicant, KindDateSigned, RecipientApplicant, anchorAt(AnchorDateApplicant, 0, 0)),
			signer(KeySignatureRepresentative, KindSignature, RecipientRepresentative, anchorAt(AnchorSignRepresent, 0, 0)),
			signer(KeyDateSignedRepresentative, KindDateSigned, RecipientRepresentative, anchorAt(AnchorDateRepresent, 0, 0)),
		)
}

func docuSignSMEDeclaration() *Catalog {
	return NewCatalog(TargetDocuSign, models.FormKindSMEDeclaration, docuSignCatalogVersion, true).
		Add(
			text(KeyCompanyName, "CompanyName", anchorAt(AnchorCompanyName, 0, 0)),
			text(KeyKvKNumber, "KvKNumber", absAt(1, 360, 612)),
			checkbox("size_small", "SizeSmall", absAt(2, 72, 500)),
			checkbox("size_medium", "SizeMedium", absAt(2, 72, 480)),
			checkbox("size_large", "SizeLarge", absAt(2, 72, 460)),
			FieldSpec{Key: KeySizeCategory, Kind: KindCheckboxGroup, Members: map[string]string{
				string(models.SizeSmall):  "size_small",
				string(models.SizeMedium): "size_medium",
				string(models.SizeLarge):  "size_large",
			}},
			signer(KeySignatureApplicant, KindSignature, RecipientApplicant, anchorAt(AnchorSignApplicant, 0, 0)),
			signer(KeyDateSignedApplicant, KindDateSigned, RecipientApplicant, anchorAt(AnchorDateApplicant, 0, 0)),
		)
}

// ==========================
// Dropbox Sign template field catalogs
// ==========================

func dropboxGeneral(c *Catalog) *Catalog {
	for _, key := range []string{KeyCompanyName, "company_name_footer", KeyKvKNumber, KeyAddress, KeyPostalCode,
		KeyCity, KeySignerName, KeySignerFunction, KeyPlace, KeyDate} {
		c.Add(FieldSpec{Key: key, Kind: KindText})
	}
	return c.Duplicate(KeyCompanyName, "company_name_footer")
}

func dropboxSignDeMinimis() *Catalog {
	c := dropboxGeneral(NewCatalog(TargetDropboxSign, models.FormKindDeMinimis, dropboxSignCatalogVersion, true))
	return c.Add(
		FieldSpec{Key: "aid_option_no_aid", Kind: KindCheckbox},
		FieldSpec{Key: "aid_option_aid_received", Kind: KindCheckbox},
		FieldSpec{Key: "aid_option_other_aid", Kind: KindCheckbox},
		FieldSpec{Key: KeyAidOption, Kind: KindCheckboxGroup, Members: map[string]string{
			AidOptionValues[1]: "aid_option_no_aid",
			AidOptionValues[2]: "aid_option_aid_received",
			AidOptionValues[3]: "aid_option_other_aid",
		}},
		FieldSpec{Key: KeyAidAmountYear1, Kind: KindText},
		FieldSpec{Key: KeyAidAmountYear2, Kind: KindText},
		FieldSpec{Key: KeyAidAmountYear3, Kind: KindText},
		FieldSpec{Key: KeyOtherAidRegulation, Kind: KindText},
		FieldSpec{Key: KeyOtherAidAuthority, Kind: KindText},
		FieldSpec{Key: KeyOtherAidAmount, Kind: KindText},
	)
}

func dropboxSignMandate() *Catalog {
	c := NewCatalog(TargetDropboxSign, models.FormKindMandate, dropboxSignCatalogVersion, true)
	for _, key := range []string{
		KeyApplicantCompanyName, "applicant_company_name_footer", KeyApplicantKvKNumber, KeyApplicantName,
		KeyApplicantFunction, KeyApplicantEmail, KeyRepresentativeCompanyName, KeyRepresentativeKvKNumber,
		KeyRepresentativeName, KeyRepresentativeFunction, KeyRepresentativeEmail, KeyMandateScope,
		KeyMandateValidUntil, KeyPlace, KeyDate,
	} {
		c.Add(FieldSpec{Key: key, Kind: KindText})
	}
	return c.Duplicate(KeyApplicantCompanyName, "applicant_company_name_footer")
}

func dropboxSignSMEDeclaration() *Catalog {
	c := dropboxGeneral(NewCatalog(TargetDropboxSign, models.FormKindSMEDeclaration, dropboxSignCatalogVersion, true))
	return c.Add(
		FieldSpec{Key: KeyEmployees, Kind: KindText},
		FieldSpec{Key: KeyTurnover, Kind: KindText},
		FieldSpec{Key: KeyBalanceSheetTotal, Kind: KindText},
		FieldSpec{Key: KeyIndependent, Kind: KindCheckbox},
		FieldSpec{Key: "size_small", Kind: KindCheckbox},
		FieldSpec{Key: "size_medium", Kind: KindCheckbox},
		FieldSpec{Key: "size_large", Kind: KindCheckbox},
		FieldSpec{Key: KeySizeCategory, Kind: KindCheckboxGroup, Members: map[string]string{
			string(models.SizeSmall):  "size_small",
			string(models.SizeMedium): "size_medium",
			string(models.SizeLarge):  "size_large",
		}},
	)
}
