package fields

import (
	"fmt"
	"sort"
	"strings"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/common/validation"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/classification"
)

// Placeholder is written into conditional fields of an inactive branch when
// the target template requires every field to be present.
const Placeholder = " "

// canonicalValue is one logical value derived from the intake.
type canonicalValue struct {
	key      string
	value    models.FieldValue
	inactive bool
}

// Mapper turns a FormIntake into field assignments for a target catalog.
type Mapper struct {
	catalogs *Registry
	log      logger.Logger
}

func NewMapper(catalogs *Registry, log logger.Logger) *Mapper {
	return &Mapper{catalogs: catalogs, log: logger.Component(log, "field-mapper")}
}

// Catalog returns the catalog registered for a target and form kind.
func (m *Mapper) Catalog(target Target, kind models.FormKind) (*Catalog, error) {
	c, ok := m.catalogs.Lookup(target, kind)
	if !ok {
		return nil, apperrors.NewTemplateFieldError(string(target), fmt.Sprintf("no field catalog for form kind %q", kind))
	}
	return c, nil
}

// MapIntake produces the assignments for target. Every emitted key is a member
// of the target catalog; intake keys the catalog does not declare are dropped.
func (m *Mapper) MapIntake(intake *models.FormIntake, target Target) ([]models.FieldAssignment, error) {
	if err := validation.CheckInvariants(intake); err != nil {
		return nil, err
	}
	c, err := m.Catalog(target, intake.Kind)
	if err != nil {
		return nil, err
	}

	values, err := canonicalValues(intake)
	if err != nil {
		return nil, err
	}

	var (
		out     []models.FieldAssignment
		dropped []string
	)
	for _, cv := range values {
		spec, ok := c.Spec(cv.key)
		if !ok {
			dropped = append(dropped, cv.key)
			continue
		}
		assigned, err := m.assign(c, spec, cv)
		if err != nil {
			return nil, err
		}
		for _, a := range assigned {
			out = append(out, a)
			for _, dup := range c.DuplicatesOf(a.FieldKey) {
				out = append(out, models.FieldAssignment{FieldKey: dup, Value: a.Value, RecipientID: a.RecipientID})
			}
		}
	}

	for _, key := range c.Keys() {
		spec, _ := c.Spec(key)
		if spec.Kind == KindSignature || spec.Kind == KindDateSigned {
			out = append(out, models.FieldAssignment{FieldKey: key, Value: models.TextValue(""), RecipientID: spec.Recipient})
		}
	}

	if len(dropped) > 0 {
		m.log.Warn("Dropping intake fields unknown to the target catalog", map[string]interface{}{
			"target":        c.Target,
			"formKind":      c.FormKind,
			"version":       c.Version,
			"applicationId": intake.ApplicationID,
			"droppedKeys":   dropped,
		})
	}
	return out, nil
}

func (m *Mapper) assign(c *Catalog, spec FieldSpec, cv canonicalValue) ([]models.FieldAssignment, error) {
	templateID := fmt.Sprintf("%s/%s@%s", c.Target, c.FormKind, c.Version)

	if cv.inactive && !c.PlaceholderInactive {
		return nil, nil
	}

	switch spec.Kind {
	case KindCheckboxGroup:
		selected := cv.value.String()
		if !cv.inactive {
			if _, ok := spec.Members[selected]; !ok {
				return nil, apperrors.NewInvalidOptionError(templateID, spec.Key, selected, memberOptions(spec))
			}
		}
		options := memberOptions(spec)
		out := make([]models.FieldAssignment, 0, len(options))
		for _, option := range options {
			out = append(out, models.FieldAssignment{
				FieldKey: spec.Members[option],
				Value:    models.BoolValue(!cv.inactive && option == selected),
			})
		}
		return out, nil

	case KindRadio, KindChoice:
		if cv.inactive {
			return nil, nil
		}
		if !containsString(spec.Options, cv.value.String()) {
			return nil, apperrors.NewInvalidOptionError(templateID, spec.Key, cv.value.String(), spec.Options)
		}
		return []models.FieldAssignment{{FieldKey: spec.Key, Value: cv.value}}, nil

	case KindCheckbox:
		if cv.inactive {
			return []models.FieldAssignment{{FieldKey: spec.Key, Value: models.BoolValue(false)}}, nil
		}
		if !cv.value.IsBool() {
			return nil, apperrors.NewTemplateFieldError(templateID, fmt.Sprintf("checkbox %q received text value", spec.Key))
		}
		return []models.FieldAssignment{{FieldKey: spec.Key, Value: cv.value}}, nil

	case KindText:
		if cv.inactive {
			return []models.FieldAssignment{{FieldKey: spec.Key, Value: models.TextValue(Placeholder)}}, nil
		}
		return []models.FieldAssignment{{FieldKey: spec.Key, Value: models.TextValue(cv.value.String())}}, nil
	}

	// Signer fields are appended from the catalog, never from intake data.
	return nil, nil
}

func memberOptions(spec FieldSpec) []string {
	options := make([]string, 0, len(spec.Members))
	for option := range spec.Members {
		options = append(options, option)
	}
	sort.Strings(options)
	return options
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func textValue(key, value string) canonicalValue {
	value = strings.TrimSpace(value)
	return canonicalValue{key: key, value: models.TextValue(value), inactive: value == ""}
}

func conditionalValue(key, value string, active bool) canonicalValue {
	cv := textValue(key, value)
	cv.inactive = cv.inactive || !active
	return cv
}

func boolValue(key string, value bool) canonicalValue {
	return canonicalValue{key: key, value: models.BoolValue(value)}
}

func generalValues(g models.GeneralData) []canonicalValue {
	return []canonicalValue{
		textValue(KeyCompanyName, g.CompanyName),
		textValue(KeyKvKNumber, g.KvKNumber),
		textValue(KeyAddress, g.Address),
		textValue(KeyPostalCode, g.PostalCode),
		textValue(KeyCity, g.City),
		textValue(KeySignerName, g.SignerName),
		textValue(KeySignerFunction, g.SignerFunction),
		textValue(KeyEmail, g.Email),
		textValue(KeyPlace, g.Place),
		textValue(KeyDate, g.Date),
	}
}

// canonicalValues flattens the active intake branch into logical keys.
func canonicalValues(intake *models.FormIntake) ([]canonicalValue, error) {
	switch intake.Kind {
	case models.FormKindDeMinimis:
		d := intake.DeMinimis
		values := generalValues(d.GeneralData)
		values = append(values, canonicalValue{key: KeyAidOption, value: models.TextValue(AidOptionValues[d.SelectedOption])})

		var received models.DeMinimisAidReceived
		if d.Option2 != nil {
			received = *d.Option2
		}
		var other models.DeMinimisOtherAid
		if d.Option3 != nil {
			other = *d.Option3
		}
		opt2 := d.SelectedOption == models.DeMinimisOptionAidReceived
		opt3 := d.SelectedOption == models.DeMinimisOptionOtherAid
		return append(values,
			conditionalValue(KeyAidAmountYear1, received.AmountYear1, opt2),
			conditionalValue(KeyAidAmountYear2, received.AmountYear2, opt2),
			conditionalValue(KeyAidAmountYear3, received.AmountYear3, opt2),
			conditionalValue(KeyOtherAidRegulation, other.Regulation, opt3),
			conditionalValue(KeyOtherAidAuthority, other.GrantingAuthority, opt3),
			conditionalValue(KeyOtherAidAmount, other.Amount, opt3),
		), nil

	case models.FormKindMandate:
		md := intake.Mandate
		return []canonicalValue{
			textValue(KeyApplicantCompanyName, md.Applicant.CompanyName),
			textValue(KeyApplicantKvKNumber, md.Applicant.KvKNumber),
			textValue(KeyApplicantName, md.Applicant.Name),
			textValue(KeyApplicantFunction, md.Applicant.Function),
			textValue(KeyApplicantEmail, md.Applicant.Email),
			textValue(KeyRepresentativeCompanyName, md.Representative.CompanyName),
			textValue(KeyRepresentativeKvKNumber, md.Representative.KvKNumber),
			textValue(KeyRepresentativeName, md.Representative.Name),
			textValue(KeyRepresentativeFunction, md.Representative.Function),
			textValue(KeyRepresentativeEmail, md.Representative.Email),
			textValue(KeyMandateScope, md.Scope),
			textValue(KeyMandateValidUntil, md.ValidUntil),
			textValue(KeyPlace, md.Place),
			textValue(KeyDate, md.Date),
		}, nil

	case models.FormKindSMEDeclaration:
		s := intake.SMEDeclaration
		result, err := classification.ClassifyMetrics(s.Metrics)
		if err != nil {
			return nil, err
		}
		values := generalValues(s.GeneralData)
		return append(values,
			textValue(KeyEmployees, string(s.Metrics.Employees)),
			textValue(KeyTurnover, string(s.Metrics.Turnover)),
			textValue(KeyBalanceSheetTotal, string(s.Metrics.BalanceSheetTotal)),
			boolValue(KeyIndependent, s.Metrics.IsIndependent),
			canonicalValue{key: KeySizeCategory, value: models.TextValue(string(result.Category))},
		), nil
	}
	return nil, apperrors.NewValidationError("Unsupported form kind", string(intake.Kind))
}
