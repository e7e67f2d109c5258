// Package dropboxsign implements envelope.Provider on the Dropbox Sign
// (HelloSign) API v3 using embedded signature requests.
package dropboxsign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"subsidy-esign/internal/common/auth"
	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	commonhttp "subsidy-esign/internal/common/http"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/envelope"
)

const providerName = "dropboxsign"

// Default widget sizes in points for placed form fields.
const (
	signatureWidth  = 180
	signatureHeight = 40
	fieldWidth      = 160
	fieldHeight     = 16
	checkboxSize    = 12
)

type Options struct {
	BaseURL  string
	ClientID string
	// APIKey keys the callback event_hash.
	APIKey   string
	TestMode bool
}

func OptionsFromConfig(cfg config.DropboxSignConfig) Options {
	return Options{
		BaseURL:  cfg.BaseURL,
		ClientID: cfg.ClientID,
		APIKey:   cfg.WebhookSecret,
		TestMode: cfg.TestMode,
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
	_ envelope.TemplateCreator = (*Client)(nil)
	_ envelope.WebhookVerifier = (*Client)(nil)
)

func NewClient(opts Options, creds auth.CredentialProvider, hc *commonhttp.Client, log logger.Logger) *Client {
	return &Client{
		api:   commonhttp.NewAPIClient(hc, opts.BaseURL, creds),
		creds: creds,
		opts:  opts,
		log:   logger.Component(log, "dropboxsign"),
	}
}

func (c *Client) Kind() models.ProviderKind { return models.ProviderDropboxSign }

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.creds.AccessToken(ctx)
	return err
}

// ==========================
// Wire types
// ==========================

type signatureRequest struct {
	SignatureRequestID string            `json:"signature_request_id"`
	IsComplete         bool              `json:"is_complete"`
	IsDeclined         bool              `json:"is_declined"`
	HasError           bool              `json:"has_error"`
	Metadata           map[string]string `json:"metadata"`
	Signatures         []signature       `json:"signatures"`
}

type signature struct {
	SignatureID        string `json:"signature_id"`
	SignerEmailAddress string `json:"signer_email_address"`
	SignerName         string `json:"signer_name"`
	SignerRole         string `json:"signer_role"`
	Order              *int   `json:"order"`
	StatusCode         string `json:"status_code"`
	SignedAt           *int64 `json:"signed_at"`
}

type signatureRequestResponse struct {
	SignatureRequest signatureRequest `json:"signature_request"`
}

type formField struct {
	DocumentIndex int    `json:"document_index"`
	APIID         string `json:"api_id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Required      bool   `json:"required"`
	Signer        string `json:"signer"`
	Page          int    `json:"page"`
}

// ==========================
// Envelope creation
// ==========================

// CreateEnvelope uploads the filled documents as an embedded signature
// request. Fields need absolute placement; Dropbox Sign has no anchor search.
func (c *Client) CreateEnvelope(ctx context.Context, req models.EnvelopeRequest) (*models.EnvelopeSession, error) {
	if len(req.Documents) == 0 {
		return nil, apperrors.NewValidationError("Signature request has no documents", "at least one document is required")
	}
	if len(req.Recipients) == 0 {
		return nil, apperrors.NewValidationError("Signature request has no recipients", "at least one signer is required")
	}

	signerIndex := make(map[string]int, len(req.Recipients))
	for i, r := range req.Recipients {
		signerIndex[r.ID] = i
	}
	fields, err := formFields(req.Tabs, signerIndex)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	c.writeCommon(w, req.Subject, req.Message, req.Metadata, req.RedirectURL)
	_ = w.WriteField("title", req.Subject)
	for i, r := range req.Recipients {
		prefix := fmt.Sprintf("signers[%d]", i)
		_ = w.WriteField(prefix+"[email_address]", r.Email)
		_ = w.WriteField(prefix+"[name]", r.Name)
		_ = w.WriteField(prefix+"[order]", strconv.Itoa(i))
	}
	if len(fields) > 0 {
		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode form fields: %w", err)
		}
		_ = w.WriteField("form_fields_per_document", string(encoded))
	}
	for i, d := range req.Documents {
		part, err := w.CreateFormFile(fmt.Sprintf("files[%d]", i), d.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to add document: %w", err)
		}
		if _, err := part.Write(d.Content); err != nil {
			return nil, fmt.Errorf("failed to add document: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	resp, err := c.api.Send(ctx, commonhttp.Request{
		Method:      http.MethodPost,
		Path:        "signature_request/create_embedded",
		Body:        &body,
		ContentType: w.FormDataContentType(),
	})
	if err != nil {
		return nil, transportError(err, "createEnvelope")
	}
	return c.session(resp, req.Recipients, req.Metadata)
}

// CreateFromTemplate fills a hosted template. Template fields are addressed
// by name as custom fields and signers by role.
func (c *Client) CreateFromTemplate(ctx context.Context, req models.TemplateEnvelopeRequest) (*models.EnvelopeSession, error) {
	if req.TemplateID == "" {
		return nil, apperrors.NewValidationError("Template id is required", "")
	}
	if len(req.Recipients) == 0 {
		return nil, apperrors.NewValidationError("Signature request has no recipients", "at least one signer is required")
	}

	type templateSigner struct {
		Role         string `json:"role"`
		Name         string `json:"name"`
		EmailAddress string `json:"email_address"`
	}
	type customField struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	payload := struct {
		ClientID           string            `json:"client_id"`
		TemplateIDs        []string          `json:"template_ids"`
		Subject            string            `json:"subject,omitempty"`
		Message            string            `json:"message,omitempty"`
		Signers            []templateSigner  `json:"signers"`
		CustomFields       []customField     `json:"custom_fields,omitempty"`
		Metadata           map[string]string `json:"metadata,omitempty"`
		SigningRedirectURL string            `json:"signing_redirect_url,omitempty"`
		TestMode           bool              `json:"test_mode"`
	}{
		ClientID:           c.opts.ClientID,
		TemplateIDs:        []string{req.TemplateID},
		Subject:            req.Subject,
		Message:            req.Message,
		Metadata:           req.Metadata,
		SigningRedirectURL: req.RedirectURL,
		TestMode:           c.opts.TestMode,
	}
	for _, r := range req.Recipients {
		role := r.Role
		if role == "" {
			return nil, apperrors.NewValidationError("Template signer has no role", fmt.Sprintf("recipient %q", r.ID))
		}
		payload.Signers = append(payload.Signers, templateSigner{Role: role, Name: r.Name, EmailAddress: r.Email})
	}
	for _, f := range req.Fields {
		if f.Kind == models.TabSignHere || f.Kind == models.TabDateSigned {
			continue
		}
		payload.CustomFields = append(payload.CustomFields, customField{Name: f.Name, Value: f.Value.String()})
	}

	resp, err := c.api.JSON(ctx, http.MethodPost, "signature_request/create_embedded_with_template", payload, nil)
	if err != nil {
		return nil, transportError(err, "createEnvelope")
	}
	return c.session(resp, req.Recipients, req.Metadata)
}

func (c *Client) writeCommon(w *multipart.Writer, subject, message string, metadata map[string]string, redirect string) {
	_ = w.WriteField("client_id", c.opts.ClientID)
	_ = w.WriteField("subject", subject)
	if message != "" {
		_ = w.WriteField("message", message)
	}
	if redirect != "" {
		_ = w.WriteField("signing_redirect_url", redirect)
	}
	_ = w.WriteField("test_mode", boolParam(c.opts.TestMode))
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_ = w.WriteField(fmt.Sprintf("metadata[%s]", k), metadata[k])
	}
}

func (c *Client) session(resp *commonhttp.Response, recipients []models.Recipient, metadata map[string]string) (*models.EnvelopeSession, error) {
	if !resp.OK() {
		return nil, apiError(resp, "createEnvelope")
	}
	var out signatureRequestResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, apperrors.NewProviderAPIError(providerName, resp.Status, "", "Malformed signature request response", string(resp.Body)).
			WithMetadata("operation", "createEnvelope")
	}

	c.log.Info("Signature request created", map[string]interface{}{
		"signatureRequestId": out.SignatureRequest.SignatureRequestID,
		"signers":            len(out.SignatureRequest.Signatures),
		"applicationId":      metadata[models.MetaApplicationID],
	})
	return &models.EnvelopeSession{
		ProviderID: models.ProviderDropboxSign,
		EnvelopeID: out.SignatureRequest.SignatureRequestID,
		Recipients: recipients,
		Status:     mapStatus(out.SignatureRequest),
	}, nil
}

func formFields(tabs []models.Tab, signerIndex map[string]int) ([]formField, error) {
	var out []formField
	for i, t := range tabs {
		if t.Placement == nil {
			return nil, apperrors.NewValidationError("Field has no placement", fmt.Sprintf("field %q", t.Name))
		}
		if err := t.Placement.Validate(); err != nil {
			return nil, apperrors.NewValidationError("Invalid field placement", fmt.Sprintf("field %q: %v", t.Name, err))
		}
		if t.Placement.IsAnchor() {
			return nil, apperrors.NewValidationError("Anchor placement is not supported by Dropbox Sign",
				fmt.Sprintf("field %q uses anchor %q; resolve it to page coordinates first", t.Name, t.Placement.AnchorText))
		}
		recipient := t.RecipientID
		if recipient == "" {
			return nil, apperrors.NewValidationError("Field has no signer", fmt.Sprintf("field %q", t.Name))
		}
		idx, ok := signerIndex[recipient]
		if !ok {
			return nil, apperrors.NewValidationError("Field refers to an unknown recipient", fmt.Sprintf("field %q: recipient %q", t.Name, recipient))
		}

		p := t.Placement
		f := formField{
			DocumentIndex: *p.DocumentIndex - 1,
			APIID:         fmt.Sprintf("field_%d", i+1),
			Name:          t.Name,
			X:             int(*p.X),
			Y:             int(*p.Y),
			Required:      true,
			Signer:        strconv.Itoa(idx),
			Page:          *p.PageNumber,
		}
		switch t.Kind {
		case models.TabSignHere:
			f.Type, f.Width, f.Height = "signature", signatureWidth, signatureHeight
		case models.TabDateSigned:
			f.Type, f.Width, f.Height = "date_signed", fieldWidth, fieldHeight
		case models.TabCheckbox:
			f.Type, f.Width, f.Height, f.Required = "checkbox", checkboxSize, checkboxSize, false
		default:
			f.Type, f.Width, f.Height = "text", fieldWidth, fieldHeight
		}
		out = append(out, f)
	}
	return out, nil
}

// ==========================
// Signing URL
// ==========================

// SupportsMode is true for embedded signing only. Embedded sign URLs open in
// the Dropbox Sign iframe client; a plain browser redirect to them fails.
func (c *Client) SupportsMode(mode models.SigningMode) bool {
	return mode != models.SigningRedirect
}

// SigningURL matches the recipient to a signature by email and issues an
// embedded sign URL.
func (c *Client) SigningURL(ctx context.Context, envelopeID string, req models.SigningURLRequest) (*models.SigningURL, error) {
	if !c.SupportsMode(req.Mode) {
		return nil, apperrors.NewValidationError("Dropbox Sign issues embedded signing URLs only",
			fmt.Sprintf("signing mode %q", req.Mode))
	}
	sr, err := c.signatureRequest(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	var signatureID string
	for _, s := range sr.Signatures {
		if strings.EqualFold(s.SignerEmailAddress, req.Recipient.Email) {
			signatureID = s.SignatureID
			break
		}
	}
	if signatureID == "" {
		return nil, apperrors.NewValidationError("Recipient is not a signer of this request",
			fmt.Sprintf("no signature for %q on %s", req.Recipient.Email, envelopeID))
	}

	var out struct {
		Embedded struct {
			SignURL   string `json:"sign_url"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"embedded"`
	}
	if err := c.call(ctx, "signUrl", http.MethodGet, "embedded/sign_url/"+url.PathEscape(signatureID), &out); err != nil {
		return nil, err
	}

	result := &models.SigningURL{RecipientID: req.Recipient.ID, URL: out.Embedded.SignURL, Mode: req.Mode}
	if out.Embedded.ExpiresAt > 0 {
		t := time.Unix(out.Embedded.ExpiresAt, 0).UTC()
		result.ExpiresAt = &t
	}
	return result, nil
}

// ==========================
// Status and download
// ==========================

func (c *Client) Status(ctx context.Context, envelopeID string) (*models.EnvelopeStatusInfo, error) {
	sr, err := c.signatureRequest(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	info := &models.EnvelopeStatusInfo{
		EnvelopeID: sr.SignatureRequestID,
		Status:     mapStatus(*sr),
		Metadata:   sr.Metadata,
	}
	if info.Status == models.EnvelopeCompleted {
		var last int64
		for _, s := range sr.Signatures {
			if s.SignedAt != nil && *s.SignedAt > last {
				last = *s.SignedAt
			}
		}
		if last > 0 {
			t := time.Unix(last, 0).UTC()
			info.CompletedAt = &t
		}
	}
	return info, nil
}

// DownloadCompleted fetches the signed PDF. Dropbox Sign delivers every
// document of the request merged into one file.
func (c *Client) DownloadCompleted(ctx context.Context, envelopeID string) ([]models.CompletedDocument, error) {
	resp, err := c.api.Send(ctx, commonhttp.Request{
		Method: http.MethodGet,
		Path:   "signature_request/files/" + url.PathEscape(envelopeID) + "?file_type=pdf",
		Header: http.Header{"Accept": []string{"application/pdf"}},
	})
	if err != nil {
		return nil, transportError(err, "downloadDocument")
	}
	if !resp.OK() {
		return nil, apiError(resp, "downloadDocument")
	}
	return []models.CompletedDocument{{DocumentID: envelopeID, Name: "signed.pdf", Content: resp.Body}}, nil
}

func (c *Client) signatureRequest(ctx context.Context, id string) (*signatureRequest, error) {
	var out signatureRequestResponse
	if err := c.call(ctx, "getSignatureRequest", http.MethodGet, "signature_request/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out.SignatureRequest, nil
}

// ==========================
// Transport helpers
// ==========================

func (c *Client) call(ctx context.Context, operation, method, path string, out interface{}) error {
	resp, err := c.api.JSON(ctx, method, path, nil, out)
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

// apiError normalizes {"error":{"error_msg","error_name"}}.
func apiError(resp *commonhttp.Response, operation string) error {
	var body struct {
		Error struct {
			Message string `json:"error_msg"`
			Name    string `json:"error_name"`
		} `json:"error"`
	}
	_ = json.Unmarshal(resp.Body, &body)
	if resp.Status == http.StatusUnauthorized {
		return apperrors.NewAuthError(providerName, resp.Status, string(resp.Body), fmt.Errorf("%s: %s", body.Error.Name, body.Error.Message))
	}
	return apperrors.NewProviderAPIError(providerName, resp.Status, body.Error.Name, body.Error.Message, string(resp.Body)).
		WithMetadata("operation", operation)
}

func mapStatus(sr signatureRequest) models.EnvelopeStatus {
	switch {
	case sr.IsComplete:
		return models.EnvelopeCompleted
	case sr.IsDeclined:
		return models.EnvelopeCancelled
	default:
		return models.EnvelopeSent
	}
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
