// Package docusign implements envelope.Provider on the DocuSign eSignature
// REST API v2.1.
package docusign

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"subsidy-esign/internal/common/auth"
	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	commonhttp "subsidy-esign/internal/common/http"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/envelope"
)

const providerName = "docusign"

// certificateDocumentID is the id DocuSign gives the certificate of completion.
const certificateDocumentID = "certificate"

type Options struct {
	BaseURL        string
	AccountID      string
	WebhookSecret  string
	FrameAncestors []string
	MessageOrigins []string
}

func OptionsFromConfig(cfg config.SigningConfig) Options {
	return Options{
		BaseURL:        cfg.DocuSign.BaseURL,
		AccountID:      cfg.DocuSign.AccountID,
		WebhookSecret:  cfg.DocuSign.WebhookSecret,
		FrameAncestors: cfg.FrameAncestors,
		MessageOrigins: cfg.MessageOrigins,
	}
}

type Client struct {
	api   *commonhttp.APIClient
	creds auth.CredentialProvider
	opts  Options
	log   logger.Logger
}

var (
	_ envelope.Provider        = (*Client)(nil)
	_ envelope.WebhookVerifier = (*Client)(nil)
)

func NewClient(opts Options, creds auth.CredentialProvider, hc *commonhttp.Client, log logger.Logger) *Client {
	return &Client{
		api:   commonhttp.NewAPIClient(hc, opts.BaseURL, creds),
		creds: creds,
		opts:  opts,
		log:   logger.Component(log, "docusign"),
	}
}

func (c *Client) Kind() models.ProviderKind { return models.ProviderDocuSign }

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.creds.AccessToken(ctx)
	return err
}

func (c *Client) envelopesPath(parts ...string) string {
	p := fmt.Sprintf("v2.1/accounts/%s/envelopes", url.PathEscape(c.opts.AccountID))
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ==========================
// Envelope creation
// ==========================

func (c *Client) CreateEnvelope(ctx context.Context, req models.EnvelopeRequest) (*models.EnvelopeSession, error) {
	def, err := buildEnvelopeDefinition(req)
	if err != nil {
		return nil, err
	}

	var out struct {
		EnvelopeID string `json:"envelopeId"`
		Status     string `json:"status"`
	}
	if err := c.call(ctx, "createEnvelope", http.MethodPost, c.envelopesPath(), def, &out); err != nil {
		return nil, err
	}

	c.log.Info("Envelope created", map[string]interface{}{
		"envelopeId":    out.EnvelopeID,
		"recipients":    len(req.Recipients),
		"tabs":          len(req.Tabs),
		"applicationId": req.Metadata[models.MetaApplicationID],
	})
	return &models.EnvelopeSession{
		ProviderID: models.ProviderDocuSign,
		EnvelopeID: out.EnvelopeID,
		Recipients: req.Recipients,
		Status:     mapStatus(out.Status),
	}, nil
}

// ==========================
// Signing URL
// ==========================

type recipientViewRequest struct {
	ReturnURL            string   `json:"returnUrl"`
	AuthenticationMethod string   `json:"authenticationMethod"`
	Email                string   `json:"email"`
	UserName             string   `json:"userName"`
	ClientUserID         string   `json:"clientUserId"`
	RecipientID          string   `json:"recipientId,omitempty"`
	FrameAncestors       []string `json:"frameAncestors,omitempty"`
	MessageOrigins       []string `json:"messageOrigins,omitempty"`
}

// SigningURL issues a recipient view. Only the embedded flow declares frame
// ancestors; the redirect flow leaves them out.
func (c *Client) SigningURL(ctx context.Context, envelopeID string, req models.SigningURLRequest) (*models.SigningURL, error) {
	if req.Recipient.ClientUserID == "" {
		return nil, apperrors.NewValidationError("Recipient is not an embedded signer", "clientUserId is required for a recipient view")
	}

	view := recipientViewRequest{
		ReturnURL:            req.ReturnURL,
		AuthenticationMethod: "none",
		Email:                req.Recipient.Email,
		UserName:             req.Recipient.Name,
		ClientUserID:         req.Recipient.ClientUserID,
		RecipientID:          req.Recipient.ID,
	}
	if req.Mode == models.SigningEmbedded {
		view.FrameAncestors = c.opts.FrameAncestors
		view.MessageOrigins = c.opts.MessageOrigins
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, "recipientView", http.MethodPost, c.envelopesPath(envelopeID, "views", "recipient"), view, &out); err != nil {
		return nil, err
	}
	return &models.SigningURL{RecipientID: req.Recipient.ID, URL: out.URL, Mode: req.Mode}, nil
}

// ==========================
// Status and download
// ==========================

type envelopeInfo struct {
	EnvelopeID        string `json:"envelopeId"`
	Status            string `json:"status"`
	CompletedDateTime string `json:"completedDateTime"`
	CustomFields      struct {
		TextCustomFields []textCustomField `json:"textCustomFields"`
	} `json:"customFields"`
}

func (c *Client) Status(ctx context.Context, envelopeID string) (*models.EnvelopeStatusInfo, error) {
	var info envelopeInfo
	path := c.envelopesPath(envelopeID) + "?include=custom_fields"
	if err := c.call(ctx, "getEnvelope", http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}

	out := &models.EnvelopeStatusInfo{
		EnvelopeID: info.EnvelopeID,
		Status:     mapStatus(info.Status),
		Metadata:   make(map[string]string, len(info.CustomFields.TextCustomFields)),
	}
	for _, f := range info.CustomFields.TextCustomFields {
		out.Metadata[f.Name] = f.Value
	}
	if t, err := time.Parse(time.RFC3339Nano, info.CompletedDateTime); err == nil {
		out.CompletedAt = &t
	}
	return out, nil
}

type documentList struct {
	EnvelopeDocuments []struct {
		DocumentID string `json:"documentId"`
		Name       string `json:"name"`
		Type       string `json:"type"`
	} `json:"envelopeDocuments"`
}

// DownloadCompleted fetches each content document, skipping the certificate
// of completion and other summary artifacts.
func (c *Client) DownloadCompleted(ctx context.Context, envelopeID string) ([]models.CompletedDocument, error) {
	var list documentList
	if err := c.call(ctx, "listDocuments", http.MethodGet, c.envelopesPath(envelopeID, "documents"), nil, &list); err != nil {
		return nil, err
	}

	var docs []models.CompletedDocument
	for _, d := range list.EnvelopeDocuments {
		if d.DocumentID == certificateDocumentID || (d.Type != "" && d.Type != "content") {
			continue
		}
		resp, err := c.api.Send(ctx, commonhttp.Request{
			Method: http.MethodGet,
			Path:   c.envelopesPath(envelopeID, "documents", d.DocumentID),
			Header: http.Header{"Accept": []string{"application/pdf"}},
		})
		if err != nil {
			return nil, transportError(err, "downloadDocument")
		}
		if !resp.OK() {
			return nil, apiError(resp, "downloadDocument")
		}
		docs = append(docs, models.CompletedDocument{DocumentID: d.DocumentID, Name: d.Name, Content: resp.Body})
	}
	return docs, nil
}

// ==========================
// Transport helpers
// ==========================

func (c *Client) call(ctx context.Context, operation, method, path string, in, out interface{}) error {
	resp, err := c.api.JSON(ctx, method, path, in, out)
	if err != nil {
		if resp != nil && resp.OK() {
			return apperrors.NewProviderAPIError(providerName, resp.Status, "", err.Error(), string(resp.Body)).
				WithMetadata("operation", operation)
		}
		return transportError(err, operation)
	}
	if !resp.OK() {
		return apiError(resp, operation)
	}
	return nil
}

func transportError(err error, operation string) error {
	if _, ok := apperrors.AsStandard(err); ok {
		return err
	}
	return apperrors.NewProviderTransportError(providerName, err).WithMetadata("operation", operation)
}

// apiError normalizes a DocuSign error body {errorCode, message}.
func apiError(resp *commonhttp.Response, operation string) error {
	var body struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	_ = json.Unmarshal(resp.Body, &body)
	if resp.Status == http.StatusUnauthorized {
		return apperrors.NewAuthError(providerName, resp.Status, string(resp.Body), fmt.Errorf("%s: %s", body.ErrorCode, body.Message))
	}
	return apperrors.NewProviderAPIError(providerName, resp.Status, body.ErrorCode, body.Message, string(resp.Body)).
		WithMetadata("operation", operation)
}

func mapStatus(s string) models.EnvelopeStatus {
	switch s {
	case "completed":
		return models.EnvelopeCompleted
	case "voided", "declined", "deleted":
		return models.EnvelopeCancelled
	case "created":
		return models.EnvelopeCreated
	default:
		return models.EnvelopeSent
	}
}

func encodeDocument(d models.Document, index int) document {
	id := d.ID
	if id == "" {
		id = strconv.Itoa(index + 1)
	}
	return document{
		DocumentID:     id,
		Name:           d.Name,
		FileExtension:  "pdf",
		DocumentBase64: base64.StdEncoding.EncodeToString(d.Content),
	}
}
