// internal/models/intake.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type FormKind string

const (
	FormKindDeMinimis      FormKind = "de-minimis"
	FormKindMandate        FormKind = "mandate"
	FormKindSMEDeclaration FormKind = "sme-declaration"
)

// FormKinds lists every supported intake kind.
var FormKinds = []FormKind{FormKindDeMinimis, FormKindMandate, FormKindSMEDeclaration}

// FormIntake is a discriminated union: exactly the branch matching Kind is set.
type FormIntake struct {
	Kind           FormKind              `json:"formKind"`
	ApplicationID  string                `json:"applicationId"`
	DeMinimis      *DeMinimisIntake      `json:"deMinimis,omitempty"`
	Mandate        *MandateIntake        `json:"mandate,omitempty"`
	SMEDeclaration *SMEDeclarationIntake `json:"smeDeclaration,omitempty"`
}

// CompanyName returns the display name used for folder naming and notices.
func (f *FormIntake) CompanyName() string {
	switch {
	case f.DeMinimis != nil:
		return f.DeMinimis.GeneralData.CompanyName
	case f.Mandate != nil:
		return f.Mandate.Applicant.CompanyName
	case f.SMEDeclaration != nil:
		return f.SMEDeclaration.GeneralData.CompanyName
	}
	return ""
}

type GeneralData struct {
	CompanyName    string `json:"companyName"`
	KvKNumber      string `json:"kvkNumber"`
	Address        string `json:"address,omitempty"`
	PostalCode     string `json:"postalCode,omitempty"`
	City           string `json:"city,omitempty"`
	SignerName     string `json:"signerName,omitempty"`
	SignerFunction string `json:"signerFunction,omitempty"`
	Email          string `json:"email,omitempty"`
	Place          string `json:"place,omitempty"`
	Date           string `json:"date,omitempty"`
}

// De minimis declaration options.
const (
	DeMinimisOptionNoAid       = 1
	DeMinimisOptionAidReceived = 2
	DeMinimisOptionOtherAid    = 3
)

// DeMinimisIntake is declaration type A: a mutually exclusive option selector
// with option-specific sub-fields.
type DeMinimisIntake struct {
	SelectedOption int                   `json:"selectedOption"`
	GeneralData    GeneralData           `json:"generalData"`
	Option2        *DeMinimisAidReceived `json:"option2,omitempty"`
	Option3        *DeMinimisOtherAid    `json:"option3,omitempty"`
}

type DeMinimisAidReceived struct {
	AmountYear1 string `json:"amountYear1"`
	AmountYear2 string `json:"amountYear2"`
	AmountYear3 string `json:"amountYear3"`
}

type DeMinimisOtherAid struct {
	Regulation        string `json:"regulation"`
	GrantingAuthority string `json:"grantingAuthority"`
	Amount            string `json:"amount"`
}

// Party is one side of a mandate.
type Party struct {
	CompanyName string `json:"companyName"`
	KvKNumber   string `json:"kvkNumber"`
	Name        string `json:"name"`
	Function    string `json:"function,omitempty"`
	Email       string `json:"email"`
}

// MandateIntake is declaration type B: an applicant authorizing a representative.
type MandateIntake struct {
	Applicant      Party  `json:"applicant"`
	Representative Party  `json:"representative"`
	Scope          string `json:"scope,omitempty"`
	ValidUntil     string `json:"validUntil,omitempty"`
	Place          string `json:"place,omitempty"`
	Date           string `json:"date,omitempty"`
}

// SMEDeclarationIntake is declaration type C: company metrics for the size test.
type SMEDeclarationIntake struct {
	GeneralData GeneralData    `json:"generalData"`
	Metrics     CompanyMetrics `json:"metrics"`
}

type CompanyMetrics struct {
	Employees         FlexNumber `json:"employees"`
	Turnover          FlexNumber `json:"turnover"`
	BalanceSheetTotal FlexNumber `json:"balanceSheetTotal"`
	IsIndependent     bool       `json:"isIndependent"`
	ReferenceYear     string     `json:"referenceYear,omitempty"`
}

// FlexNumber accepts a JSON number or a numeric string and keeps the raw text
// so non-numeric input can be rejected instead of read as zero.
type FlexNumber string

func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = FlexNumber(strings.TrimSpace(s))
		return nil
	}
	*n = FlexNumber(data)
	return nil
}

func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if _, err := n.Float64(); err != nil {
		return json.Marshal(string(n))
	}
	return []byte(n), nil
}

// Float64 parses the value. Dutch thousands separators ("1.250.000") and
// decimal commas are not accepted; inputs must be plain numbers.
func (n FlexNumber) Float64() (float64, error) {
	if n == "" {
		return 0, fmt.Errorf("value is empty")
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", string(n))
	}
	return f, nil
}
