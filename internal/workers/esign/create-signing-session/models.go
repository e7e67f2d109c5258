// internal/workers/esign/create-signing-session/models.go
package createsigningsession

import (
	"encoding/json"

	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/pipeline"
)

type Input struct {
	FormKind      models.FormKind    `json:"formKind"`
	ApplicationID string             `json:"applicationId"`
	Intake        json.RawMessage    `json:"intake"`
	Provider      string             `json:"provider,omitempty"`
	Signers       []pipeline.Signer  `json:"signers,omitempty"`
	SigningMode   models.SigningMode `json:"signingMode,omitempty"`
	ReturnURL     string             `json:"returnUrl,omitempty"`
}

type Output struct {
	EnvelopeID     string                `json:"envelopeId"`
	Provider       models.ProviderKind   `json:"signingProvider"`
	EnvelopeStatus models.EnvelopeStatus `json:"envelopeStatus"`
	SigningURLs    []models.SigningURL   `json:"signingUrls"`
	CompanySize    models.SizeCategory   `json:"companySize,omitempty"`
}
