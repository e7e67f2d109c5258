// internal/workers/esign/archive-signed-envelope/handler_test.go
package archivesignedenvelope

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
	"subsidy-esign/internal/signing/webhook"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeCompleter struct {
	result   webhook.Result
	provider string
	envelope string
}

func (f *fakeCompleter) Complete(_ context.Context, providerName, envelopeID string) webhook.Result {
	f.provider, f.envelope = providerName, envelopeID
	return f.result
}

func jobWith(variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 9, Type: TaskType, Variables: variables}}
}

// ==========================
// Tests
// ==========================

func TestRun_StoredEnvelope(t *testing.T) {
	completer := &fakeCompleter{result: webhook.Result{
		Outcome:       webhook.OutcomeStored,
		State:         webhook.StateStored,
		ApplicationID: "APP-2026-001",
		Artifacts: []models.StoredArtifact{
			{FileName: "mandate_env-1.pdf"},
		},
	}}
	h := NewHandler(completer, logger.NewTestLogger(t))

	out, err := h.Run(context.Background(), jobWith(`{"signingProvider":"docusign","envelopeId":"env-1"}`))

	require.NoError(t, err)
	output := out.(*Output)
	assert.Equal(t, "stored", output.ArchiveOutcome)
	assert.Equal(t, "APP-2026-001", output.ApplicationID)
	assert.Equal(t, []string{"mandate_env-1.pdf"}, output.SignedFiles)
	assert.Equal(t, "docusign", completer.provider)
	assert.Equal(t, "env-1", completer.envelope)
}

func TestExecute_UnfinishedEnvelopeCompletesAsIgnored(t *testing.T) {
	completer := &fakeCompleter{result: webhook.Result{
		Outcome: webhook.OutcomeIgnored,
		State:   webhook.StateSent,
		Reason:  "envelope status is Sent",
	}}
	h := NewHandler(completer, logger.NewNoOpLogger())

	out, err := h.Execute(context.Background(), &Input{Provider: "docusign", EnvelopeID: "env-1"})

	require.NoError(t, err)
	assert.Equal(t, "ignored", out.ArchiveOutcome)
	assert.Equal(t, "envelope status is Sent", out.Reason)
	assert.Empty(t, out.SignedFiles)
}

func TestExecute_FailureIsReturned(t *testing.T) {
	cause := apperrors.NewStorageError("upload", 503, "serviceNotAvailable", "", true, nil)
	completer := &fakeCompleter{result: webhook.Result{Outcome: webhook.OutcomeFailed, Err: cause}}
	h := NewHandler(completer, logger.NewNoOpLogger())

	_, err := h.Execute(context.Background(), &Input{Provider: "docusign", EnvelopeID: "env-1"})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStorage))
	assert.Equal(t, 3, apperrors.GetRetryCount(apperrors.Normalize(err)))
}
