package docusign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/envelope"
)

// EventEnvelopeCompleted is the Connect event sent once every signer finished.
const EventEnvelopeCompleted = "envelope-completed"

// Connect signs with up to this many keys during key rotation.
const maxConnectSignatures = 5

type connectEvent struct {
	Event string `json:"event"`
	Data  struct {
		AccountID  string `json:"accountId"`
		EnvelopeID string `json:"envelopeId"`
	} `json:"data"`
}

// VerifyWebhook checks the Connect HMAC headers (X-DocuSign-Signature-N,
// base64 HMAC-SHA256 of the raw body).
func (c *Client) VerifyWebhook(header http.Header, body []byte) error {
	if c.opts.WebhookSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(c.opts.WebhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	for i := 1; i <= maxConnectSignatures; i++ {
		got := header.Get(fmt.Sprintf("X-DocuSign-Signature-%d", i))
		if got == "" {
			continue
		}
		sig, err := base64.StdEncoding.DecodeString(got)
		if err != nil {
			continue
		}
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return envelope.ErrInvalidSignature
}

func (c *Client) ParseEvent(_ http.Header, body []byte) (*models.EnvelopeEvent, error) {
	var ev connectEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperrors.NewValidationError("Malformed DocuSign Connect payload", err.Error())
	}
	return &models.EnvelopeEvent{
		Provider:   models.ProviderDocuSign,
		EventType:  ev.Event,
		EnvelopeID: ev.Data.EnvelopeID,
		Completed:  ev.Event == EventEnvelopeCompleted,
		RawPayload: body,
	}, nil
}

// Acknowledgement is empty; Connect only looks at the status code.
func (c *Client) Acknowledgement() string { return "" }
