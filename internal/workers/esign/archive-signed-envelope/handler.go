// internal/workers/esign/archive-signed-envelope/handler.go
package archivesignedenvelope

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"

	"subsidy-esign/internal/common/camunda"
	"subsidy-esign/internal/common/config"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/signing/webhook"
)

const TaskType = "archive-signed-envelope"

// Completer runs the download-and-store flow for a finished envelope.
type Completer interface {
	Complete(ctx context.Context, providerName, envelopeID string) webhook.Result
}

type Handler struct {
	completer Completer
	logger    logger.Logger
}

func NewHandler(completer Completer, log logger.Logger) *Handler {
	return &Handler{
		completer: completer,
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
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

// Execute returns the failure as an error so the job error policy decides on
// retries. An envelope that is not finished yet completes the job with
// outcome "ignored".
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	res := h.completer.Complete(ctx, input.Provider, input.EnvelopeID)
	if res.Outcome == webhook.OutcomeFailed {
		return nil, res.Err
	}

	out := &Output{
		ArchiveOutcome: string(res.Outcome),
		ArchiveState:   string(res.State),
		ApplicationID:  res.ApplicationID,
		SignedFiles:    make([]string, 0, len(res.Artifacts)),
		Reason:         res.Reason,
	}
	for _, a := range res.Artifacts {
		out.SignedFiles = append(out.SignedFiles, a.FileName)
	}

	h.logger.Info("envelope archive finished", map[string]interface{}{
		"envelopeId": input.EnvelopeID,
		"outcome":    out.ArchiveOutcome,
		"files":      len(out.SignedFiles),
	})
	return out, nil
}
