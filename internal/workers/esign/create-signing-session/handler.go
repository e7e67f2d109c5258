// internal/workers/esign/create-signing-session/handler.go
package createsigningsession

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"

	"subsidy-esign/internal/common/camunda"
	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/common/validation"
	"subsidy-esign/internal/signing/pipeline"
)

const TaskType = "create-signing-session"

// Submitter creates the envelope and its signing URLs.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error)
}

type Handler struct {
	signing Submitter
	intake  *validation.IntakeDecoder
	logger  logger.Logger
}

func NewHandler(signing Submitter, log logger.Logger) *Handler {
	return &Handler{
		signing: signing,
		intake:  validation.NewIntakeDecoder(),
		logger:  log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func NewWorker(h *Handler, cfg config.WorkerConfig, log logger.Logger) *camunda.Worker {
	return camunda.NewWorker(TaskType, cfg, h.Run, log)
}

func (h *Handler) Run(ctx context.Context, job entities.Job) (interface{}, error) {
	var input Input
	if err := camunda.DecodeVariables(job, &input); err != nil {
		return nil, err
	}
	return h.Execute(ctx, &input)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	intake, err := h.intake.Decode(input.FormKind, input.ApplicationID, input.Intake)
	if err != nil {
		return nil, err
	}

	res, err := h.signing.Submit(ctx, pipeline.SubmitRequest{
		Provider:    input.Provider,
		Intake:      intake,
		Signers:     input.Signers,
		SigningMode: input.SigningMode,
		ReturnURL:   input.ReturnURL,
	})
	if err != nil {
		// The envelope may exist already; a job retry would send another one.
		return nil, apperrors.WithoutRetry(err)
	}

	out := &Output{
		EnvelopeID:     res.EnvelopeID,
		Provider:       res.Provider,
		EnvelopeStatus: res.Status,
		SigningURLs:    res.SigningURLs,
	}
	if res.Classification != nil {
		out.CompanySize = res.Classification.Category
	}

	h.logger.Info("signing session created", map[string]interface{}{
		"applicationId": input.ApplicationID,
		"envelopeId":    out.EnvelopeID,
		"provider":      out.Provider,
		"signers":       len(out.SigningURLs),
	})
	return out, nil
}
