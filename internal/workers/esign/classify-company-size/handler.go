// internal/workers/esign/classify-company-size/handler.go
package classifycompanysize

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"

	"subsidy-esign/internal/common/camunda"
	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/signing/classification"
)

const TaskType = "classify-company-size"

type Handler struct {
	logger logger.Logger
}

func NewHandler(log logger.Logger) *Handler {
	return &Handler{logger: log.WithFields(map[string]interface{}{"taskType": TaskType})}
}

// NewWorker binds the handler to a Zeebe job worker.
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

func (h *Handler) Execute(_ context.Context, input *Input) (*Output, error) {
	if input.Metrics == nil {
		return nil, apperrors.NewValidationError("metrics are required", "")
	}

	res, err := classification.ClassifyMetrics(*input.Metrics)
	if err != nil {
		return nil, err
	}

	h.logger.Info("company size classified", map[string]interface{}{
		"applicationId": input.ApplicationID,
		"companySize":   res.Category,
	})
	return &Output{
		CompanySize:   res.Category,
		SizeRationale: res.Rationale,
		SizeCriteria:  res.Criteria,
	}, nil
}
