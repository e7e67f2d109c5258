// internal/models/envelope.go
package models

import "time"

type ProviderKind string

const (
	ProviderDocuSign    ProviderKind = "docusign"
	ProviderDropboxSign ProviderKind = "dropboxsign"
)

type EnvelopeStatus string

const (
	EnvelopeCreated   EnvelopeStatus = "Created"
	EnvelopeSent      EnvelopeStatus = "Sent"
	EnvelopeCompleted EnvelopeStatus = "Completed"
	EnvelopeCancelled EnvelopeStatus = "Cancelled"
)

type SigningMode string

const (
	SigningEmbedded SigningMode = "embedded"
	SigningRedirect SigningMode = "redirect"
)

// Recipient is a signer. ID is the form's signer slot that the field catalog
// binds tabs to; Reference is the caller's own id for the signer.
// ClientUserID marks the signer as captive so a signing URL can be issued for
// them later.
type Recipient struct {
	ID           string `json:"id"`
	Reference    string `json:"reference,omitempty"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	ClientUserID string `json:"clientUserId,omitempty"`
	RoutingOrder int    `json:"routingOrder,omitempty"`
	Role         string `json:"role,omitempty"`
}

// Document is an unencoded PDF; providers base64-encode it on the wire.
type Document struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content []byte `json:"-"`
}

// Correlation metadata keys stored on the envelope at creation time.
const (
	MetaApplicationID = "applicationId"
	MetaFormKind      = "formKind"
	MetaCompanyName   = "companyName"
	MetaYear          = "year"
)

// EnvelopeRequest creates an envelope from documents and placed tabs.
// RedirectURL is used by providers that fix the post-signing redirect at
// creation time.
type EnvelopeRequest struct {
	Subject     string            `json:"subject"`
	Message     string            `json:"message,omitempty"`
	Documents   []Document        `json:"documents"`
	Recipients  []Recipient       `json:"recipients"`
	Tabs        []Tab             `json:"tabs,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
}

// TemplateEnvelopeRequest addresses template fields by template-scoped name.
type TemplateEnvelopeRequest struct {
	TemplateID  string            `json:"templateId"`
	Subject     string            `json:"subject"`
	Message     string            `json:"message,omitempty"`
	Recipients  []Recipient       `json:"recipients"`
	Fields      []Tab             `json:"fields"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
}

type EnvelopeSession struct {
	ProviderID ProviderKind   `json:"providerId"`
	EnvelopeID string         `json:"envelopeId"`
	Recipients []Recipient    `json:"recipients"`
	Status     EnvelopeStatus `json:"status"`
}

type SigningURLRequest struct {
	Recipient Recipient   `json:"recipient"`
	ReturnURL string      `json:"returnUrl"`
	Mode      SigningMode `json:"mode"`
}

type SigningURL struct {
	RecipientID string      `json:"recipientId"`
	SignerID    string      `json:"signerId,omitempty"`
	URL         string      `json:"url"`
	Mode        SigningMode `json:"mode"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
}

type EnvelopeStatusInfo struct {
	EnvelopeID  string            `json:"envelopeId"`
	Status      EnvelopeStatus    `json:"status"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type CompletedDocument struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	Content    []byte `json:"-"`
}
