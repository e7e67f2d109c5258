package validation

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
)

// IntakeDecoder turns a raw intake body into a checked FormIntake.
type IntakeDecoder struct {
	schemas *SchemaSet
}

func NewIntakeDecoder() *IntakeDecoder {
	return &IntakeDecoder{schemas: NewIntakeSchemas()}
}

// Decode validates raw against the kind's schema, decodes it into the
// matching branch and checks the branch invariants.
func (d *IntakeDecoder) Decode(kind models.FormKind, applicationID string, raw []byte) (*models.FormIntake, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperrors.NewValidationError("intake is required", "")
	}

	result, err := d.schemas.Validate(string(kind), raw)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported form kind %q", kind), err.Error())
	}
	if !result.Valid {
		return nil, apperrors.NewValidationError("intake does not match the form schema", result.Summary())
	}

	intake := &models.FormIntake{Kind: kind, ApplicationID: applicationID}
	switch kind {
	case models.FormKindDeMinimis:
		intake.DeMinimis = &models.DeMinimisIntake{}
		err = json.Unmarshal(raw, intake.DeMinimis)
	case models.FormKindMandate:
		intake.Mandate = &models.MandateIntake{}
		err = json.Unmarshal(raw, intake.Mandate)
	case models.FormKindSMEDeclaration:
		intake.SMEDeclaration = &models.SMEDeclarationIntake{}
		err = json.Unmarshal(raw, intake.SMEDeclaration)
	}
	if err != nil {
		return nil, apperrors.NewValidationError("intake could not be decoded", err.Error())
	}

	if err := CheckInvariants(intake); err != nil {
		return nil, err
	}
	return intake, nil
}

// CheckInvariants enforces that exactly the branch selected by the kind (and,
// for de minimis, by the selected option) carries conditional data.
func CheckInvariants(intake *models.FormIntake) error {
	if intake == nil {
		return apperrors.NewValidationError("intake is required", "")
	}
	if intake.ApplicationID == "" {
		return apperrors.NewValidationError("applicationId is required", "")
	}

	branches := 0
	for _, set := range []bool{intake.DeMinimis != nil, intake.Mandate != nil, intake.SMEDeclaration != nil} {
		if set {
			branches++
		}
	}
	if branches != 1 {
		return apperrors.NewValidationError("exactly one form branch must be populated", fmt.Sprintf("populated branches: %d", branches))
	}

	switch intake.Kind {
	case models.FormKindDeMinimis:
		if intake.DeMinimis == nil {
			return kindMismatch(intake.Kind)
		}
		return checkDeMinimis(intake.DeMinimis)
	case models.FormKindMandate:
		if intake.Mandate == nil {
			return kindMismatch(intake.Kind)
		}
		return nil
	case models.FormKindSMEDeclaration:
		if intake.SMEDeclaration == nil {
			return kindMismatch(intake.Kind)
		}
		return nil
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unsupported form kind %q", intake.Kind), "")
	}
}

func kindMismatch(kind models.FormKind) error {
	return apperrors.NewValidationError("populated branch does not match formKind", string(kind))
}

func checkDeMinimis(d *models.DeMinimisIntake) error {
	switch d.SelectedOption {
	case models.DeMinimisOptionNoAid:
		if d.Option2 != nil || d.Option3 != nil {
			return apperrors.NewValidationError("option 1 must not carry option 2 or 3 data", "")
		}
	case models.DeMinimisOptionAidReceived:
		if d.Option2 == nil {
			return apperrors.NewValidationError("option 2 requires option2 amounts", "")
		}
		if d.Option3 != nil {
			return apperrors.NewValidationError("option 2 must not carry option 3 data", "")
		}
	case models.DeMinimisOptionOtherAid:
		if d.Option3 == nil {
			return apperrors.NewValidationError("option 3 requires option3 details", "")
		}
		if d.Option2 != nil {
			return apperrors.NewValidationError("option 3 must not carry option 2 data", "")
		}
	default:
		return apperrors.NewValidationError("selectedOption must be 1, 2 or 3", fmt.Sprintf("got %d", d.SelectedOption))
	}
	return nil
}
