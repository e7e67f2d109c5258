// internal/workers/esign/classify-company-size/handler_test.go
package classifycompanysize

import (
	"context"
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func jobWith(variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 1, Type: TaskType, Variables: variables}}
}

// ==========================
// Tests
// ==========================

func TestRun_ClassifiesJobVariables(t *testing.T) {
	h := NewHandler(logger.NewTestLogger(t))

	out, err := h.Run(context.Background(), jobWith(
		`{"applicationId":"APP-1","metrics":{"employees":"120","turnover":30000000,"balanceSheetTotal":"60000000","isIndependent":true}}`))

	require.NoError(t, err)
	output := out.(*Output)
	assert.Equal(t, models.SizeMedium, output.CompanySize)
	assert.True(t, output.SizeCriteria["mediumHeadcount"])
	assert.False(t, output.SizeCriteria["smallHeadcount"])
	assert.NotEmpty(t, output.SizeRationale)
}

func TestExecute_NotIndependentIsLarge(t *testing.T) {
	h := NewHandler(logger.NewNoOpLogger())

	out, err := h.Execute(context.Background(), &Input{Metrics: &models.CompanyMetrics{
		Employees: "3", Turnover: "100", BalanceSheetTotal: "100", IsIndependent: false,
	}})

	require.NoError(t, err)
	assert.Equal(t, models.SizeLarge, out.CompanySize)
}

func TestRun_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name      string
		variables string
	}{
		{"no variables", ``},
		{"missing metrics", `{"applicationId":"APP-1"}`},
		{"non numeric", `{"metrics":{"employees":"many","turnover":1,"balanceSheetTotal":1,"isIndependent":true}}`},
	}

	h := NewHandler(logger.NewNoOpLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Run(context.Background(), jobWith(tt.variables))
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
		})
	}
}
