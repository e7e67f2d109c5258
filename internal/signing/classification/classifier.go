// Package classification implements the EU SME size test used to decide
// which size-dependent form fields are active.
package classification

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
)

// Thresholds from the EU SME definition (Recommendation 2003/361/EC).
const (
	SmallMaxEmployees  = 50 // exclusive
	SmallMaxTurnover   = 10_000_000
	SmallMaxBalance    = 10_000_000
	MediumMaxEmployees = 250 // exclusive
	MediumMaxTurnover  = 50_000_000
	MediumMaxBalance   = 43_000_000
)

// Criteria keys reported in CompanySizeResult.Criteria.
const (
	CriterionIndependent        = "independent"
	CriterionSmallHeadcount     = "smallHeadcount"
	CriterionSmallTurnover      = "smallTurnover"
	CriterionSmallBalanceSheet  = "smallBalanceSheet"
	CriterionMediumHeadcount    = "mediumHeadcount"
	CriterionMediumTurnover     = "mediumTurnover"
	CriterionMediumBalanceSheet = "mediumBalanceSheet"
)

// Classify evaluates the size test in order; the first matching rule wins.
// Headcount limits are exclusive, turnover and balance limits inclusive.
func Classify(employees, turnover, balanceSheetTotal float64, isIndependent bool) (models.CompanySizeResult, error) {
	if err := checkInput("employees", employees); err != nil {
		return models.CompanySizeResult{}, err
	}
	if err := checkInput("turnover", turnover); err != nil {
		return models.CompanySizeResult{}, err
	}
	if err := checkInput("balanceSheetTotal", balanceSheetTotal); err != nil {
		return models.CompanySizeResult{}, err
	}

	criteria := map[string]bool{
		CriterionIndependent:        isIndependent,
		CriterionSmallHeadcount:     employees < SmallMaxEmployees,
		CriterionSmallTurnover:      turnover <= SmallMaxTurnover,
		CriterionSmallBalanceSheet:  balanceSheetTotal <= SmallMaxBalance,
		CriterionMediumHeadcount:    employees < MediumMaxEmployees,
		CriterionMediumTurnover:     turnover <= MediumMaxTurnover,
		CriterionMediumBalanceSheet: balanceSheetTotal <= MediumMaxBalance,
	}

	result := models.CompanySizeResult{Criteria: criteria}
	switch {
	case !isIndependent:
		result.Category = models.SizeLarge
		result.Rationale = "Large: enterprise is not independent, size limits do not apply"
	case criteria[CriterionSmallHeadcount] && (criteria[CriterionSmallTurnover] || criteria[CriterionSmallBalanceSheet]):
		result.Category = models.SizeSmall
		result.Rationale = rationale(models.SizeSmall, employees, turnover, balanceSheetTotal,
			SmallMaxEmployees, SmallMaxTurnover, SmallMaxBalance)
	case criteria[CriterionMediumHeadcount] && (criteria[CriterionMediumTurnover] || criteria[CriterionMediumBalanceSheet]):
		result.Category = models.SizeMedium
		result.Rationale = rationale(models.SizeMedium, employees, turnover, balanceSheetTotal,
			MediumMaxEmployees, MediumMaxTurnover, MediumMaxBalance)
	default:
		result.Category = models.SizeLarge
		result.Rationale = fmt.Sprintf(
			"Large: employees %s >= %d or both turnover %s > %d and balance sheet total %s > %d",
			num(employees), MediumMaxEmployees, num(turnover), MediumMaxTurnover, num(balanceSheetTotal), MediumMaxBalance)
	}
	return result, nil
}

// ClassifyMetrics coerces intake metrics to numbers and classifies them.
func ClassifyMetrics(m models.CompanyMetrics) (models.CompanySizeResult, error) {
	employees, err := m.Employees.Float64()
	if err != nil {
		return models.CompanySizeResult{}, apperrors.NewValidationError("employees must be numeric", err.Error())
	}
	turnover, err := m.Turnover.Float64()
	if err != nil {
		return models.CompanySizeResult{}, apperrors.NewValidationError("turnover must be numeric", err.Error())
	}
	balance, err := m.BalanceSheetTotal.Float64()
	if err != nil {
		return models.CompanySizeResult{}, apperrors.NewValidationError("balanceSheetTotal must be numeric", err.Error())
	}
	return Classify(employees, turnover, balance, m.IsIndependent)
}

func checkInput(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperrors.NewValidationError(name+" must be a finite number", "")
	}
	if v < 0 {
		return apperrors.NewValidationError(name+" must not be negative", num(v))
	}
	return nil
}

func rationale(cat models.SizeCategory, employees, turnover, balance float64, maxEmp, maxTurnover, maxBalance int) string {
	var met []string
	if turnover <= float64(maxTurnover) {
		met = append(met, fmt.Sprintf("turnover %s <= %d", num(turnover), maxTurnover))
	}
	if balance <= float64(maxBalance) {
		met = append(met, fmt.Sprintf("balance sheet total %s <= %d", num(balance), maxBalance))
	}
	return fmt.Sprintf("%s: employees %s < %d and %s", cat, num(employees), maxEmp, strings.Join(met, " and "))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
