// Package webhook reacts to provider completion callbacks: it reads the
// correlation metadata back from the envelope, downloads the signed
// documents and stores them in the application folder.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/common/metrics"
	"subsidy-esign/internal/common/observability"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/envelope"
	"subsidy-esign/internal/signing/storage"
)

// State is how far one completion got.
type State string

const (
	StateSent       State = "Sent"
	StateCompleted  State = "Completed"
	StateDownloaded State = "Downloaded"
	StateStored     State = "Stored"
)

type Outcome string

const (
	OutcomeRejected Outcome = "rejected"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeStored   Outcome = "stored"
	OutcomeFailed   Outcome = "failed"
)

// AuditKind values written for completions.
const (
	AuditCompleted = "completed"
	AuditFailed    = "failed"
)

// Result is the typed outcome of one delivery. Only OutcomeRejected maps to
// a non-200 response.
type Result struct {
	Outcome       Outcome                 `json:"outcome"`
	State         State                   `json:"state"`
	Provider      models.ProviderKind     `json:"provider"`
	EventType     string                  `json:"eventType,omitempty"`
	EnvelopeID    string                  `json:"envelopeId,omitempty"`
	ApplicationID string                  `json:"applicationId,omitempty"`
	Artifacts     []models.StoredArtifact `json:"artifacts,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
	Err           error                   `json:"-"`
}

// Store is the folder layout the processor writes into.
type Store interface {
	EnsureApplicationFolder(ctx context.Context, year int, applicationID, display string) (*storage.ApplicationFolder, error)
	StoreArtifact(ctx context.Context, folder *storage.ApplicationFolder, fileName string, data []byte) (*models.StoredArtifact, error)
	RecordAudit(ctx context.Context, folder *storage.ApplicationFolder, applicationID, kind string, payload interface{}) (*models.StoredArtifact, error)
}

// Alerter raises operator alerts for failed completions.
type Alerter interface {
	Alert(ctx context.Context, subject, message string, attrs map[string]string) error
}

// Noticer sends a completion notice.
type Noticer interface {
	Notify(ctx context.Context, subject, body string) error
}

// MessagePublisher forwards a stored completion to a waiting process.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables map[string]interface{}) error
}

// MessageEnvelopeStored is published with the envelope id as correlation key.
const MessageEnvelopeStored = "envelope-stored"

type Processor struct {
	providers *envelope.Registry
	store     Store
	alerts    Alerter
	notices   Noticer
	messages  MessagePublisher
	obs       *observability.Observability
	log       logger.Logger
	now       func() time.Time
	timeout   time.Duration
}

// defaultProcessTimeout bounds one delivery once it is detached from the
// provider's request.
const defaultProcessTimeout = 2 * time.Minute

type Option func(*Processor)

func WithAlerter(a Alerter) Option { return func(p *Processor) { p.alerts = a } }

func WithNoticer(n Noticer) Option { return func(p *Processor) { p.notices = n } }

func WithPublisher(m MessagePublisher) Option { return func(p *Processor) { p.messages = m } }

func WithObservability(o *observability.Observability) Option {
	return func(p *Processor) { p.obs = o }
}

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

func WithProcessTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewProcessor(providers *envelope.Registry, store Store, log logger.Logger, options ...Option) *Processor {
	p := &Processor{
		providers: providers,
		store:     store,
		obs:       observability.NewNoOp(),
		log:       logger.Component(log, "webhook"),
		now:       time.Now,
		timeout:   defaultProcessTimeout,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// HandleDelivery verifies and processes one raw callback.
func (p *Processor) HandleDelivery(ctx context.Context, providerName string, header http.Header, body []byte) Result {
	res := Result{Provider: models.ProviderKind(providerName), State: StateSent}

	verifier, ok := p.providers.Verifier(providerName)
	if !ok {
		res.Outcome = OutcomeIgnored
		res.Reason = "provider is not enabled"
		p.log.Warn("Webhook for unknown provider", map[string]interface{}{"provider": providerName})
		return p.count(res)
	}

	if err := verifier.VerifyWebhook(header, body); err != nil {
		res.Outcome = OutcomeRejected
		res.Err = err
		p.log.Warn("Webhook signature rejected", map[string]interface{}{"provider": providerName})
		return p.count(res)
	}

	event, err := verifier.ParseEvent(header, body)
	if err != nil {
		return p.fail(ctx, res, err)
	}
	res.EventType = event.EventType
	res.EnvelopeID = event.EnvelopeID

	if !event.Completed {
		res.Outcome = OutcomeIgnored
		res.Reason = "not a completion event"
		p.log.Debug("Webhook event ignored", map[string]interface{}{
			"provider":   providerName,
			"eventType":  event.EventType,
			"envelopeId": event.EnvelopeID,
		})
		return p.count(res)
	}

	done := p.Complete(ctx, providerName, event.EnvelopeID)
	done.EventType = event.EventType
	return done
}

// Complete runs the completion flow for an envelope the caller already knows
// is finished. It is safe to repeat: file names are stable per envelope and
// signed documents replace earlier uploads.
func (p *Processor) Complete(ctx context.Context, providerName, envelopeID string) Result {
	res := Result{Provider: models.ProviderKind(providerName), EnvelopeID: envelopeID, State: StateSent}
	if envelopeID == "" {
		return p.fail(ctx, res, apperrors.NewValidationError("Envelope id is required", ""))
	}

	provider, err := p.providers.Resolve(providerName)
	if err != nil {
		return p.fail(ctx, res, err)
	}
	res.Provider = provider.Kind()

	status, err := provider.Status(ctx, envelopeID)
	if err != nil {
		return p.fail(ctx, res, err)
	}
	if status.Status != models.EnvelopeCompleted {
		res.Outcome = OutcomeIgnored
		res.Reason = fmt.Sprintf("envelope status is %s", status.Status)
		p.log.Warn("Completion reported for unfinished envelope", map[string]interface{}{
			"provider":   res.Provider,
			"envelopeId": envelopeID,
			"status":     status.Status,
		})
		return p.count(res)
	}
	res.State = StateCompleted

	applicationID := status.Metadata[models.MetaApplicationID]
	res.ApplicationID = applicationID
	if applicationID == "" {
		return p.fail(ctx, res, apperrors.NewValidationError("Envelope carries no application id", "metadata key "+models.MetaApplicationID+" is missing"))
	}

	docs, err := p.download(ctx, provider, envelopeID)
	if err != nil {
		return p.fail(ctx, res, err)
	}
	res.State = StateDownloaded

	artifacts, err := p.storeAll(ctx, res.Provider, envelopeID, status, docs)
	if err != nil {
		return p.fail(ctx, res, err)
	}
	res.Artifacts = artifacts
	res.State = StateStored
	res.Outcome = OutcomeStored

	p.log.Info("Signed envelope stored", map[string]interface{}{
		"provider":      res.Provider,
		"envelopeId":    envelopeID,
		"applicationId": applicationID,
		"files":         len(artifacts),
	})
	p.notify(ctx, res, status)
	p.publish(ctx, res)
	return p.count(res)
}

func (p *Processor) download(ctx context.Context, provider envelope.Provider, envelopeID string) (docs []models.CompletedDocument, err error) {
	defer p.obs.Stage(ctx, observability.StageDownload, string(provider.Kind()))(&err)

	docs, err = provider.DownloadCompleted(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, apperrors.NewProviderAPIError(string(provider.Kind()), 0, "", "completed envelope has no documents", "")
	}
	return docs, nil
}

func (p *Processor) storeAll(ctx context.Context, provider models.ProviderKind, envelopeID string, status *models.EnvelopeStatusInfo, docs []models.CompletedDocument) (artifacts []models.StoredArtifact, err error) {
	defer p.obs.Stage(ctx, observability.StageStore, string(provider))(&err)
	start := time.Now()

	meta := status.Metadata
	folder, err := p.store.EnsureApplicationFolder(ctx, p.year(status), meta[models.MetaApplicationID], meta[models.MetaCompanyName])
	if err != nil {
		return nil, err
	}

	formKind := models.FormKind(meta[models.MetaFormKind])
	if formKind == "" {
		formKind = "signed"
	}
	for i, doc := range docs {
		name := storage.SignedDocumentName(formKind, envelopeID, i, len(docs))
		a, err := p.store.StoreArtifact(ctx, folder, name, doc.Content)
		if err != nil {
			if _, auditErr := p.store.RecordAudit(ctx, folder, meta[models.MetaApplicationID], AuditFailed, map[string]interface{}{
				"provider":   provider,
				"envelopeId": envelopeID,
				"file":       name,
				"error":      err.Error(),
			}); auditErr != nil {
				p.log.Warn("Failure audit entry not written", map[string]interface{}{"envelopeId": envelopeID, "error": auditErr.Error()})
			}
			return nil, err
		}
		metrics.UploadBytes.WithLabelValues("signed").Add(float64(a.SizeBytes))
		artifacts = append(artifacts, *a)
	}

	files := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		files = append(files, a.FileName)
	}
	if _, err := p.store.RecordAudit(ctx, folder, meta[models.MetaApplicationID], AuditCompleted, map[string]interface{}{
		"provider":    provider,
		"envelopeId":  envelopeID,
		"completedAt": status.CompletedAt,
		"files":       files,
	}); err != nil {
		p.log.Warn("Completion audit entry not written", map[string]interface{}{
			"envelopeId": envelopeID,
			"error":      err.Error(),
		})
	}

	metrics.UploadDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	return artifacts, nil
}

// year picks the folder year: the year stored at creation, else the
// completion year.
func (p *Processor) year(status *models.EnvelopeStatusInfo) int {
	if y, err := strconv.Atoi(status.Metadata[models.MetaYear]); err == nil && y > 0 {
		return y
	}
	if status.CompletedAt != nil {
		return status.CompletedAt.Year()
	}
	return p.now().Year()
}

func (p *Processor) notify(ctx context.Context, res Result, status *models.EnvelopeStatusInfo) {
	if p.notices == nil {
		return
	}
	subject := fmt.Sprintf("Signed: %s", res.ApplicationID)
	body := fmt.Sprintf("Envelope %s (%s) for %s was signed and stored in %d file(s).",
		res.EnvelopeID, res.Provider, status.Metadata[models.MetaCompanyName], len(res.Artifacts))
	if err := p.notices.Notify(ctx, subject, body); err != nil {
		p.log.Warn("Completion notice not sent", map[string]interface{}{"envelopeId": res.EnvelopeID, "error": err.Error()})
	}
}

func (p *Processor) publish(ctx context.Context, res Result) {
	if p.messages == nil {
		return
	}
	files := make([]string, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		files = append(files, a.FileName)
	}
	err := p.messages.PublishMessage(ctx, MessageEnvelopeStored, res.EnvelopeID, map[string]interface{}{
		"applicationId": res.ApplicationID,
		"provider":      string(res.Provider),
		"signedFiles":   files,
	})
	if err != nil {
		p.log.Warn("Stored message not published", map[string]interface{}{"envelopeId": res.EnvelopeID, "error": err.Error()})
	}
}

func (p *Processor) fail(ctx context.Context, res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	stdErr := apperrors.Normalize(err)

	p.log.Error("Webhook processing failed", map[string]interface{}{
		"provider":      res.Provider,
		"envelopeId":    res.EnvelopeID,
		"applicationId": res.ApplicationID,
		"state":         res.State,
		"errorCode":     stdErr.Code,
		"error":         err.Error(),
	})

	if p.alerts != nil {
		subject := fmt.Sprintf("e-sign completion failed: %s", res.EnvelopeID)
		message := fmt.Sprintf("Provider %s, envelope %s, application %s stopped at %s: %s",
			res.Provider, res.EnvelopeID, res.ApplicationID, res.State, stdErr.Message)
		if alertErr := p.alerts.Alert(ctx, subject, message, map[string]string{
			"provider":  string(res.Provider),
			"errorCode": string(stdErr.Code),
		}); alertErr != nil {
			p.log.Warn("Failure alert not published", map[string]interface{}{"error": alertErr.Error()})
		}
	}
	return p.count(res)
}

func (p *Processor) count(res Result) Result {
	metrics.WebhookEvents.WithLabelValues(string(res.Provider), string(res.Outcome)).Inc()
	return res
}

// IsRejected reports whether the delivery failed signature verification.
func IsRejected(res Result) bool {
	return res.Outcome == OutcomeRejected || errors.Is(res.Err, envelope.ErrInvalidSignature)
}
