// internal/workers/esign/create-signing-session/handler_test.go
package createsigningsession

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
	"subsidy-esign/internal/signing/pipeline"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeSubmitter struct {
	req   *pipeline.SubmitRequest
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(_ context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error) {
	f.calls++
	f.req = &req
	if f.err != nil {
		return nil, f.err
	}
	size := models.CompanySizeResult{Category: models.SizeSmall}
	return &pipeline.SubmitResult{
		Provider:   models.ProviderDropboxSign,
		EnvelopeID: "sr-1",
		Status:     models.EnvelopeSent,
		SigningURLs: []models.SigningURL{
			{RecipientID: "1", URL: "https://app.hellosign.com/editor/embeddedSign?signature_id=a", Mode: models.SigningEmbedded},
		},
		Classification: &size,
	}, nil
}

func jobWith(variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 7, Type: TaskType, Variables: variables}}
}

const smeVariables = `{
	"formKind": "sme-declaration",
	"applicationId": "APP-2026-014",
	"provider": "dropboxsign",
	"intake": {"generalData":{"companyName":"Klein B.V.","kvkNumber":"87654321"},
		"metrics":{"employees":"12","turnover":900000,"balanceSheetTotal":"400000","isIndependent":true}},
	"signers": [{"email":"eva@klein.nl","name":"Eva de Vries"}]
}`

// ==========================
// Tests
// ==========================

func TestRun_SubmitsDecodedIntake(t *testing.T) {
	signing := &fakeSubmitter{}
	h := NewHandler(signing, logger.NewTestLogger(t))

	out, err := h.Run(context.Background(), jobWith(smeVariables))

	require.NoError(t, err)
	output := out.(*Output)
	assert.Equal(t, "sr-1", output.EnvelopeID)
	assert.Equal(t, models.ProviderDropboxSign, output.Provider)
	assert.Equal(t, models.EnvelopeSent, output.EnvelopeStatus)
	assert.Equal(t, models.SizeSmall, output.CompanySize)
	require.Len(t, output.SigningURLs, 1)

	require.NotNil(t, signing.req)
	assert.Equal(t, "dropboxsign", signing.req.Provider)
	require.NotNil(t, signing.req.Intake.SMEDeclaration)
	assert.Equal(t, "Klein B.V.", signing.req.Intake.CompanyName())
	assert.Equal(t, "APP-2026-014", signing.req.Intake.ApplicationID)
}

func TestRun_InvalidIntakeNeverSubmits(t *testing.T) {
	signing := &fakeSubmitter{}
	h := NewHandler(signing, logger.NewNoOpLogger())

	_, err := h.Run(context.Background(), jobWith(`{"formKind":"mandate","applicationId":"APP-1","intake":{"applicant":{"companyName":"A"}}}`))

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	assert.Nil(t, signing.req)
}

func TestRun_PropagatesPipelineErrors(t *testing.T) {
	signing := &fakeSubmitter{err: apperrors.NewProviderAPIError("dropboxsign", 400, "bad_request", "invalid signer", "")}
	h := NewHandler(signing, logger.NewNoOpLogger())

	_, err := h.Run(context.Background(), jobWith(smeVariables))

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderAPI))
}

func TestRun_SubmitFailuresAreNeverRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"signing url outage", apperrors.NewProviderAPIError("docusign", 503, "", "recipient view failed", "").
			WithMetadata("operation", "recipientView")},
		{"status lookup outage", apperrors.NewProviderAPIError("dropboxsign", 502, "", "", "").
			WithMetadata("operation", "getSignatureRequest")},
		{"transport failure", apperrors.NewProviderTransportError("dropboxsign", context.DeadlineExceeded)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Greater(t, apperrors.GetRetryCount(apperrors.Normalize(tt.err)), 0)

			signing := &fakeSubmitter{err: tt.err}
			h := NewHandler(signing, logger.NewNoOpLogger())

			_, err := h.Run(context.Background(), jobWith(smeVariables))

			require.Error(t, err)
			stdErr := apperrors.Normalize(err)
			assert.Equal(t, apperrors.ErrCodeProviderAPI, stdErr.Code)
			assert.Equal(t, 0, apperrors.GetRetryCount(stdErr))
			assert.Equal(t, 0, apperrors.ConvertToBPMNError(stdErr).Retries)
			assert.Equal(t, 1, signing.calls)
		})
	}
}
