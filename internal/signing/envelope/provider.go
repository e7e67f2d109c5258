// Package envelope defines the provider-neutral signing capability.
package envelope

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
)

// Provider is one e-signature vendor. Calls are single-attempt: retrying a
// partially created envelope could send a second request to the same signer.
type Provider interface {
	Kind() models.ProviderKind

	// Authenticate obtains (or reuses) the provider credential.
	Authenticate(ctx context.Context) error

	CreateEnvelope(ctx context.Context, req models.EnvelopeRequest) (*models.EnvelopeSession, error)
	SigningURL(ctx context.Context, envelopeID string, req models.SigningURLRequest) (*models.SigningURL, error)

	// DownloadCompleted returns the signed content documents only.
	DownloadCompleted(ctx context.Context, envelopeID string) ([]models.CompletedDocument, error)

	// Status reports the envelope state together with the correlation
	// metadata stored at creation.
	Status(ctx context.Context, envelopeID string) (*models.EnvelopeStatusInfo, error)
}

// TemplateCreator is implemented by providers that can fill a hosted
// template by field name instead of tab geometry.
type TemplateCreator interface {
	CreateFromTemplate(ctx context.Context, req models.TemplateEnvelopeRequest) (*models.EnvelopeSession, error)
}

// ModeRestricter is implemented by providers that cannot issue URLs for every
// signing mode.
type ModeRestricter interface {
	SupportsMode(mode models.SigningMode) bool
}

// SupportsMode reports whether p can issue signing URLs in mode.
func SupportsMode(p Provider, mode models.SigningMode) bool {
	if r, ok := p.(ModeRestricter); ok {
		return r.SupportsMode(mode)
	}
	return true
}

// WebhookVerifier authenticates and canonicalizes inbound provider callbacks.
type WebhookVerifier interface {
	// VerifyWebhook returns ErrInvalidSignature when a configured secret does
	// not match. With no secret configured every delivery is accepted.
	VerifyWebhook(header http.Header, body []byte) error
	ParseEvent(header http.Header, body []byte) (*models.EnvelopeEvent, error)
	// Acknowledgement is the body the provider expects on success.
	Acknowledgement() string
}

// ErrInvalidSignature marks a webhook whose signature does not verify.
var ErrInvalidSignature = errors.New("webhook signature mismatch")

// Registry selects providers by configuration.
type Registry struct {
	providers   map[models.ProviderKind]Provider
	defaultKind models.ProviderKind
}

func NewRegistry(defaultKind models.ProviderKind, providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[models.ProviderKind]Provider), defaultKind: defaultKind}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	if _, ok := r.providers[defaultKind]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", defaultKind)
	}
	return r, nil
}

// Resolve returns the named provider, or the default when name is empty.
func (r *Registry) Resolve(name string) (Provider, error) {
	kind := r.defaultKind
	if name != "" {
		kind = models.ProviderKind(name)
	}
	p, ok := r.providers[kind]
	if !ok {
		return nil, apperrors.NewValidationError("Unknown signing provider", fmt.Sprintf("provider %q is not enabled", name))
	}
	return p, nil
}

func (r *Registry) Default() Provider {
	return r.providers[r.defaultKind]
}

// Kinds lists the enabled providers in a stable order.
func (r *Registry) Kinds() []models.ProviderKind {
	kinds := make([]models.ProviderKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Verifier returns the webhook verifier of a provider, when it has one.
func (r *Registry) Verifier(name string) (WebhookVerifier, bool) {
	p, ok := r.providers[models.ProviderKind(name)]
	if !ok {
		return nil, false
	}
	v, ok := p.(WebhookVerifier)
	return v, ok
}
