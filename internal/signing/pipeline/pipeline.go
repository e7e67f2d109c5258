// Package pipeline assembles signing sessions: it maps and classifies the
// intake, fills the PDF template, creates the provider envelope and issues
// signing URLs for every signer.
package pipeline

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/common/metrics"
	"subsidy-esign/internal/common/observability"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/classification"
	"subsidy-esign/internal/signing/envelope"
	"subsidy-esign/internal/signing/fields"
	"subsidy-esign/pkg/registry"
)

// Signer roles. Template-based providers match signers to template roles.
const (
	RoleApplicant      = "Applicant"
	RoleRepresentative = "Representative"
)

var formTitles = map[models.FormKind]string{
	models.FormKindDeMinimis:      "De-minimisverklaring",
	models.FormKindMandate:        "Machtiging",
	models.FormKindSMEDeclaration: "MKB-verklaring",
}

// Filler is the PDF form filler.
type Filler interface {
	Template(kind models.FormKind) (*registry.Template, error)
	Fill(ctx context.Context, templateID string, assignments []models.FieldAssignment, addAnchors bool) ([]byte, error)
}

type Options struct {
	ReturnURL string
	// UseTemplates creates Dropbox Sign requests from hosted templates
	// instead of uploading the filled PDF.
	UseTemplates bool
	TemplateIDs  map[string]string
}

func OptionsFromConfig(cfg config.SigningConfig) Options {
	return Options{
		ReturnURL:    cfg.ReturnURL,
		UseTemplates: cfg.DropboxSign.UseTemplates,
		TemplateIDs:  cfg.DropboxSign.TemplateIDs,
	}
}

// Signer is a requested signer. ID defaults to the position (1-based).
type Signer struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
}

type SubmitRequest struct {
	Provider    string             `json:"provider,omitempty"`
	Intake      *models.FormIntake `json:"-"`
	Signers     []Signer           `json:"signers,omitempty"`
	SigningMode models.SigningMode `json:"signingMode,omitempty"`
	ReturnURL   string             `json:"returnUrl,omitempty"`
}

type SubmitResult struct {
	Provider       models.ProviderKind       `json:"provider"`
	EnvelopeID     string                    `json:"envelopeId"`
	Status         models.EnvelopeStatus     `json:"status"`
	SigningURLs    []models.SigningURL       `json:"signingUrls"`
	Classification *models.CompanySizeResult `json:"classification,omitempty"`
}

type Pipeline struct {
	providers *envelope.Registry
	mapper    *fields.Mapper
	filler    Filler
	opts      Options
	obs       *observability.Observability
	log       logger.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Pipeline)

func WithObservability(o *observability.Observability) Option {
	return func(p *Pipeline) { p.obs = o }
}

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func New(providers *envelope.Registry, mapper *fields.Mapper, filler Filler, opts Options, log logger.Logger, options ...Option) *Pipeline {
	p := &Pipeline{
		providers: providers,
		mapper:    mapper,
		filler:    filler,
		opts:      opts,
		obs:       observability.NewNoOp(),
		log:       logger.Component(log, "pipeline"),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Submit creates an envelope for the intake and returns one signing URL per
// signer. Nothing is retried: a failed create is reported to the caller.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	res, err := p.submit(ctx, req)
	if err != nil {
		provider := req.Provider
		if provider == "" {
			provider = "default"
		}
		metrics.EnvelopeFailures.WithLabelValues(provider, string(apperrors.Normalize(err).Code)).Inc()
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	intake := req.Intake
	if intake == nil {
		return nil, apperrors.NewValidationError("intake is required", "")
	}
	mode := req.SigningMode
	if mode == "" {
		mode = models.SigningEmbedded
	}
	if mode != models.SigningEmbedded && mode != models.SigningRedirect {
		return nil, apperrors.NewValidationError("Unknown signing mode", fmt.Sprintf("signingMode %q is neither embedded nor redirect", mode))
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = p.opts.ReturnURL
	}
	if returnURL == "" {
		return nil, apperrors.NewValidationError("returnUrl is required", "no request or configured return URL")
	}

	provider, err := p.providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	kind := provider.Kind()
	if !envelope.SupportsMode(provider, mode) {
		return nil, apperrors.NewValidationError("Signing mode is not supported by this provider",
			fmt.Sprintf("%s does not support %s signing", kind, mode))
	}

	result := &SubmitResult{Provider: kind}
	if intake.Kind == models.FormKindSMEDeclaration && intake.SMEDeclaration != nil {
		c, err := classification.ClassifyMetrics(intake.SMEDeclaration.Metrics)
		if err != nil {
			return nil, err
		}
		result.Classification = &c
	}

	recipients, err := p.recipients(intake, req.Signers)
	if err != nil {
		return nil, err
	}

	session, err := p.create(ctx, provider, intake, recipients, returnURL)
	if err != nil {
		return nil, err
	}
	result.EnvelopeID = session.EnvelopeID
	result.Status = session.Status
	metrics.EnvelopesCreated.WithLabelValues(string(kind), string(intake.Kind)).Inc()

	urls, err := p.signingURLs(ctx, provider, session.EnvelopeID, recipients, returnURL, mode)
	if err != nil {
		return nil, err
	}
	result.SigningURLs = urls

	p.log.Info("Signing session created", map[string]interface{}{
		"provider":      kind,
		"envelopeId":    session.EnvelopeID,
		"applicationId": intake.ApplicationID,
		"formKind":      intake.Kind,
		"signers":       len(recipients),
		"mode":          mode,
	})
	return result, nil
}

func (p *Pipeline) create(ctx context.Context, provider envelope.Provider, intake *models.FormIntake, recipients []models.Recipient, returnURL string) (*models.EnvelopeSession, error) {
	kind := provider.Kind()
	subject := subjectFor(intake)
	meta := p.metadata(intake)

	if kind == models.ProviderDropboxSign && p.opts.UseTemplates {
		return p.createFromTemplate(ctx, provider, intake, recipients, subject, meta, returnURL)
	}

	tpl, err := p.filler.Template(intake.Kind)
	if err != nil {
		return nil, err
	}
	anchors := fields.TargetForProvider(kind) == fields.TargetDocuSign
	content, err := p.fill(ctx, string(kind), tpl, intake, anchors)
	if err != nil {
		return nil, err
	}

	var tabs []models.Tab
	if anchors {
		tabs, err = p.providerTabs(intake, kind)
	} else {
		tabs, err = signerTabsFromAnchors(tpl, recipients)
	}
	if err != nil {
		return nil, err
	}

	docName := tpl.DisplayName
	if docName == "" {
		docName = tpl.ID
	}
	req := models.EnvelopeRequest{
		Subject:     subject,
		Documents:   []models.Document{{ID: "1", Name: docName + ".pdf", Content: content}},
		Recipients:  recipients,
		Tabs:        tabs,
		Metadata:    meta,
		RedirectURL: returnURL,
	}

	var session *models.EnvelopeSession
	done := p.obs.Stage(ctx, observability.StageCreate, string(kind))
	session, err = provider.CreateEnvelope(ctx, req)
	done(&err)
	return session, err
}

func (p *Pipeline) createFromTemplate(ctx context.Context, provider envelope.Provider, intake *models.FormIntake, recipients []models.Recipient, subject string, meta map[string]string, returnURL string) (*models.EnvelopeSession, error) {
	creator, ok := provider.(envelope.TemplateCreator)
	if !ok {
		return nil, apperrors.NewValidationError("Provider cannot create from templates", string(provider.Kind()))
	}
	templateID := p.opts.TemplateIDs[string(intake.Kind)]
	if templateID == "" {
		return nil, apperrors.NewTemplateFieldError(string(intake.Kind), "no provider template configured for form kind")
	}
	tabs, err := p.providerTabs(intake, provider.Kind())
	if err != nil {
		return nil, err
	}

	var session *models.EnvelopeSession
	done := p.obs.Stage(ctx, observability.StageCreate, string(provider.Kind()))
	session, err = creator.CreateFromTemplate(ctx, models.TemplateEnvelopeRequest{
		TemplateID:  templateID,
		Subject:     subject,
		Recipients:  recipients,
		Fields:      tabs,
		Metadata:    meta,
		RedirectURL: returnURL,
	})
	done(&err)
	return session, err
}

func (p *Pipeline) fill(ctx context.Context, provider string, tpl *registry.Template, intake *models.FormIntake, anchors bool) (content []byte, err error) {
	defer p.obs.Stage(ctx, observability.StageFill, provider)(&err)

	assignments, err := p.mapper.MapIntake(intake, fields.TargetPDF)
	if err != nil {
		return nil, err
	}
	return p.filler.Fill(ctx, tpl.ID, assignments, anchors)
}

func (p *Pipeline) providerTabs(intake *models.FormIntake, kind models.ProviderKind) ([]models.Tab, error) {
	target := fields.TargetForProvider(kind)
	assignments, err := p.mapper.MapIntake(intake, target)
	if err != nil {
		return nil, err
	}
	catalog, err := p.mapper.Catalog(target, intake.Kind)
	if err != nil {
		return nil, err
	}
	return catalog.Tabs(assignments)
}

func (p *Pipeline) signingURLs(ctx context.Context, provider envelope.Provider, envelopeID string, recipients []models.Recipient, returnURL string, mode models.SigningMode) (urls []models.SigningURL, err error) {
	defer p.obs.Stage(ctx, observability.StageURL, string(provider.Kind()))(&err)

	for _, r := range recipients {
		u, err := provider.SigningURL(ctx, envelopeID, models.SigningURLRequest{Recipient: r, ReturnURL: returnURL, Mode: mode})
		if err != nil {
			return nil, err
		}
		u.SignerID = r.Reference
		urls = append(urls, *u)
	}
	return urls, nil
}

// recipients builds captive signers from the request, or from the intake when
// the request names none.
func (p *Pipeline) recipients(intake *models.FormIntake, signers []Signer) ([]models.Recipient, error) {
	if len(signers) == 0 {
		signers = defaultSigners(intake)
	}
	want := 1
	if intake.Kind == models.FormKindMandate {
		want = 2
	}
	if len(signers) < want {
		return nil, apperrors.NewValidationError("Not enough signers", fmt.Sprintf("%s needs %d signer(s), got %d", intake.Kind, want, len(signers)))
	}

	if len(signers) > want {
		return nil, apperrors.NewValidationError("Too many signers", fmt.Sprintf("%s has %d signing slot(s), got %d signers", intake.Kind, want, len(signers)))
	}

	out := make([]models.Recipient, 0, len(signers))
	slots := make(map[string]bool)
	refs := make(map[string]bool)
	for i, s := range signers {
		id := signerSlot(s, i)
		label := s.ID
		if label == "" {
			label = id
		}
		if s.ID != "" {
			if refs[s.ID] {
				return nil, apperrors.NewValidationError("Duplicate signer id", s.ID)
			}
			refs[s.ID] = true
		}
		if n, _ := strconv.Atoi(id); n > want {
			return nil, apperrors.NewValidationError("Signer role has no signing slot on this form", fmt.Sprintf("signer %s: role %q on %s", label, s.Role, intake.Kind))
		}
		if slots[id] {
			return nil, apperrors.NewValidationError("Two signers share one signing slot", fmt.Sprintf("signer %s: slot %s", label, id))
		}
		slots[id] = true
		if strings.TrimSpace(s.Name) == "" {
			return nil, apperrors.NewValidationError("Signer name is required", "signer "+label)
		}
		if _, err := mail.ParseAddress(s.Email); err != nil {
			return nil, apperrors.NewValidationError("Signer email is invalid", fmt.Sprintf("signer %s: %q", label, s.Email))
		}
		role := s.Role
		if role == "" {
			role = defaultRole(id)
		}
		out = append(out, models.Recipient{
			ID:           id,
			Reference:    s.ID,
			Email:        s.Email,
			Name:         s.Name,
			ClientUserID: p.newID(),
			RoutingOrder: i + 1,
			Role:         role,
		})
	}
	return out, nil
}

// signerSlot is the catalog recipient a signer fills: the slot its role names,
// else the slot at its position. Caller ids never become recipient ids.
func signerSlot(s Signer, i int) string {
	switch s.Role {
	case RoleApplicant:
		return fields.RecipientApplicant
	case RoleRepresentative:
		return fields.RecipientRepresentative
	}
	return strconv.Itoa(i + 1)
}

func defaultSigners(intake *models.FormIntake) []Signer {
	switch {
	case intake.DeMinimis != nil:
		g := intake.DeMinimis.GeneralData
		return []Signer{{Email: g.Email, Name: g.SignerName}}
	case intake.SMEDeclaration != nil:
		g := intake.SMEDeclaration.GeneralData
		return []Signer{{Email: g.Email, Name: g.SignerName}}
	case intake.Mandate != nil:
		m := intake.Mandate
		return []Signer{
			{Email: m.Applicant.Email, Name: m.Applicant.Name},
			{Email: m.Representative.Email, Name: m.Representative.Name},
		}
	}
	return nil
}

func defaultRole(id string) string {
	if id == fields.RecipientRepresentative {
		return RoleRepresentative
	}
	return RoleApplicant
}

func (p *Pipeline) metadata(intake *models.FormIntake) map[string]string {
	meta := map[string]string{
		models.MetaApplicationID: intake.ApplicationID,
		models.MetaFormKind:      string(intake.Kind),
		models.MetaYear:          strconv.Itoa(p.now().Year()),
	}
	if name := intake.CompanyName(); name != "" {
		meta[models.MetaCompanyName] = name
	}
	return meta
}

func subjectFor(intake *models.FormIntake) string {
	title := formTitles[intake.Kind]
	if title == "" {
		title = string(intake.Kind)
	}
	if name := intake.CompanyName(); name != "" {
		return title + " " + name
	}
	return title
}

// Status reports the provider's view of an envelope.
func (p *Pipeline) Status(ctx context.Context, providerName, envelopeID string) (*models.EnvelopeStatusInfo, error) {
	if envelopeID == "" {
		return nil, apperrors.NewValidationError("Envelope id is required", "")
	}
	provider, err := p.providers.Resolve(providerName)
	if err != nil {
		return nil, err
	}
	return provider.Status(ctx, envelopeID)
}

// Classify runs the size test on raw metrics.
func (p *Pipeline) Classify(m models.CompanyMetrics) (models.CompanySizeResult, error) {
	return classification.ClassifyMetrics(m)
}
