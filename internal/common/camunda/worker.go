// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/common/metrics"
)

// JobFunc executes one job. The returned value becomes the job's output
// variables.
type JobFunc func(ctx context.Context, job entities.Job) (interface{}, error)

// Worker adapts a JobFunc to a Zeebe job worker with metrics and the shared
// error policy.
type Worker struct {
	taskType  string
	cfg       config.WorkerConfig
	run       JobFunc
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
	jobWorker worker.JobWorker
}

func NewWorker(taskType string, cfg config.WorkerConfig, run JobFunc, log logger.Logger) *Worker {
	l := log.WithFields(map[string]interface{}{"taskType": taskType})
	return &Worker{
		taskType: taskType,
		cfg:      cfg,
		run:      run,
		errors:   apperrors.NewErrorHandler(l),
		logger:   l,
	}
}

func (w *Worker) TaskType() string { return w.taskType }

// Open starts polling for jobs.
func (w *Worker) Open(client zbc.Client) {
	step := client.NewJobWorker().
		JobType(w.taskType).
		Handler(w.Handle).
		Name(fmt.Sprintf("%s-worker", w.taskType))
	if w.cfg.MaxJobsActive > 0 {
		step = step.MaxJobsActive(w.cfg.MaxJobsActive)
	}
	if w.cfg.Timeout > 0 {
		step = step.Timeout(config.GetDuration(w.cfg.Timeout))
	}
	w.jobWorker = step.Open()

	w.logger.Info("Worker registered with Camunda", map[string]interface{}{
		"maxJobsActive": w.cfg.MaxJobsActive,
		"timeoutMs":     w.cfg.Timeout,
	})
}

// Close stops polling and waits for in-flight jobs.
func (w *Worker) Close() {
	if w.jobWorker == nil {
		return
	}
	w.logger.Info("Stopping worker", nil)
	w.jobWorker.Close()
	w.jobWorker.AwaitClose()
	w.jobWorker = nil
}

// Handle runs one job and completes or fails it.
func (w *Worker) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(w.taskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(w.taskType).Dec()

	w.logger.Info("Processing job", map[string]interface{}{
		"jobKey":          job.Key,
		"processInstance": job.ProcessInstanceKey,
		"retries":         job.Retries,
	})

	ctx := context.Background()
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.GetDuration(w.cfg.Timeout))
		defer cancel()
	}

	output, err := w.run(ctx, job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(w.taskType, string(apperrors.Normalize(err).Code)).Inc()
		w.errors.HandleJobError(ctx, client, job, err)
		return
	}

	w.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(w.taskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(w.taskType).Observe(time.Since(start).Seconds())
}

func (w *Worker) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		w.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		w.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

// DecodeVariables unmarshals the job variables into v.
func DecodeVariables(job entities.Job, v interface{}) error {
	if job.Variables == "" {
		return apperrors.NewValidationError("Job carries no variables", "")
	}
	if err := json.Unmarshal([]byte(job.Variables), v); err != nil {
		return apperrors.NewValidationError("Failed to parse job variables", err.Error())
	}
	return nil
}
