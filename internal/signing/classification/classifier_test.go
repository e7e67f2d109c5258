package classification

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
)

// ==========================
// Decision Tree Tests
// ==========================

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		employees   float64
		turnover    float64
		balance     float64
		independent bool
		want        models.SizeCategory
	}{
		{"typical small", 45, 8_000_000, 6_000_000, true, models.SizeSmall},
		{"not independent overrides small metrics", 30, 4_000_000, 2_000_000, false, models.SizeLarge},
		{"headcount 49 with turnover on inclusive limit", 49, 10_000_000, 20_000_000, true, models.SizeSmall},
		{"headcount 50 is never small", 50, 1_000_000, 1_000_000, true, models.SizeMedium},
		{"small by balance sheet only", 10, 12_000_000, 10_000_000, true, models.SizeSmall},
		{"both small financials exceeded", 10, 10_000_001, 10_000_001, true, models.SizeMedium},
		{"medium on inclusive limits", 249, 50_000_000, 43_000_000, true, models.SizeMedium},
		{"medium by balance sheet only", 200, 60_000_000, 43_000_000, true, models.SizeMedium},
		{"headcount 250 is large", 250, 1_000_000, 1_000_000, true, models.SizeLarge},
		{"both medium financials exceeded", 100, 50_000_001, 43_000_001, true, models.SizeLarge},
		{"zero everything", 0, 0, 0, true, models.SizeSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.employees, tt.turnover, tt.balance, tt.independent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Category)
			assert.NotEmpty(t, got.Rationale)
		})
	}
}

func TestClassify_NotIndependentAlwaysLarge(t *testing.T) {
	for _, employees := range []float64{0, 1, 49, 50, 249, 250, 10_000} {
		for _, money := range []float64{0, 9_999_999, 10_000_000, 43_000_000, 50_000_001} {
			got, err := Classify(employees, money, money, false)
			require.NoError(t, err)
			assert.Equal(t, models.SizeLarge, got.Category, "employees=%v money=%v", employees, money)
		}
	}
}

func TestClassify_RejectsNonNumeric(t *testing.T) {
	inputs := [][3]float64{
		{math.NaN(), 1, 1},
		{1, math.NaN(), 1},
		{1, 1, math.Inf(1)},
		{-1, 1, 1},
	}
	for _, in := range inputs {
		_, err := Classify(in[0], in[1], in[2], true)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	}
}

// ==========================
// Determinism Tests
// ==========================

func TestClassify_GoldenRationale(t *testing.T) {
	tests := []struct {
		name        string
		args        [3]float64
		independent bool
		rationale   string
	}{
		{
			name:        "small",
			args:        [3]float64{45, 8_000_000, 6_000_000},
			independent: true,
			rationale:   "Small: employees 45 < 50 and turnover 8000000 <= 10000000 and balance sheet total 6000000 <= 10000000",
		},
		{
			name:        "medium by turnover",
			args:        [3]float64{120, 30_000_000, 45_000_000},
			independent: true,
			rationale:   "Medium: employees 120 < 250 and turnover 30000000 <= 50000000",
		},
		{
			name:        "large",
			args:        [3]float64{300, 60_000_000, 50_000_000},
			independent: true,
			rationale:   "Large: employees 300 >= 250 or both turnover 60000000 > 50000000 and balance sheet total 50000000 > 43000000",
		},
		{
			name:        "dependent",
			args:        [3]float64{30, 4_000_000, 2_000_000},
			independent: false,
			rationale:   "Large: enterprise is not independent, size limits do not apply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := Classify(tt.args[0], tt.args[1], tt.args[2], tt.independent)
			require.NoError(t, err)
			second, err := Classify(tt.args[0], tt.args[1], tt.args[2], tt.independent)
			require.NoError(t, err)

			assert.Equal(t, tt.rationale, first.Rationale)
			assert.Equal(t, first, second)
		})
	}
}

func TestClassify_Criteria(t *testing.T) {
	got, err := Classify(45, 8_000_000, 12_000_000, true)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{
		CriterionIndependent:        true,
		CriterionSmallHeadcount:     true,
		CriterionSmallTurnover:      true,
		CriterionSmallBalanceSheet:  false,
		CriterionMediumHeadcount:    true,
		CriterionMediumTurnover:     true,
		CriterionMediumBalanceSheet: true,
	}, got.Criteria)
}

// ==========================
// Intake Coercion Tests
// ==========================

func TestClassifyMetrics(t *testing.T) {
	got, err := ClassifyMetrics(models.CompanyMetrics{
		Employees:         "45",
		Turnover:          "8000000",
		BalanceSheetTotal: "6000000.50",
		IsIndependent:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SizeSmall, got.Category)

	_, err = ClassifyMetrics(models.CompanyMetrics{
		Employees:         "veel",
		Turnover:          "1",
		BalanceSheetTotal: "1",
		IsIndependent:     true,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	_, err = ClassifyMetrics(models.CompanyMetrics{Employees: "10", Turnover: "", BalanceSheetTotal: "1"})
	assert.Error(t, err)
}
