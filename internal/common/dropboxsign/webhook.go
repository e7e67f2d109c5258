package dropboxsign

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/envelope"
)

// EventAllSigned is sent once every signer completed the request.
const EventAllSigned = "signature_request_all_signed"

// callbackAck is the literal body Dropbox Sign expects; anything else counts
// as a failed delivery.
const callbackAck = "Hello API Event Received"

type callbackEvent struct {
	Event struct {
		EventTime string `json:"event_time"`
		EventType string `json:"event_type"`
		EventHash string `json:"event_hash"`
	} `json:"event"`
	SignatureRequest *struct {
		SignatureRequestID string `json:"signature_request_id"`
	} `json:"signature_request"`
}

// VerifyWebhook checks event_hash, the hex HMAC-SHA256 of event_time and
// event_type keyed with the API key.
func (c *Client) VerifyWebhook(header http.Header, body []byte) error {
	if c.opts.APIKey == "" {
		return nil
	}
	ev, err := decodeCallback(header, body)
	if err != nil {
		return envelope.ErrInvalidSignature
	}
	got, err := hex.DecodeString(ev.Event.EventHash)
	if err != nil {
		return envelope.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(c.opts.APIKey))
	mac.Write([]byte(ev.Event.EventTime + ev.Event.EventType))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return envelope.ErrInvalidSignature
	}
	return nil
}

func (c *Client) ParseEvent(header http.Header, body []byte) (*models.EnvelopeEvent, error) {
	ev, err := decodeCallback(header, body)
	if err != nil {
		return nil, apperrors.NewValidationError("Malformed Dropbox Sign callback", err.Error())
	}
	out := &models.EnvelopeEvent{
		Provider:   models.ProviderDropboxSign,
		EventType:  ev.Event.EventType,
		Completed:  ev.Event.EventType == EventAllSigned,
		RawPayload: body,
	}
	if ev.SignatureRequest != nil {
		out.EnvelopeID = ev.SignatureRequest.SignatureRequestID
	}
	return out, nil
}

func (c *Client) Acknowledgement() string { return callbackAck }

// decodeCallback accepts the multipart "json" field Dropbox Sign posts, the
// urlencoded equivalent, or a bare JSON body.
func decodeCallback(header http.Header, body []byte) (*callbackEvent, error) {
	payload, err := callbackJSON(header, body)
	if err != nil {
		return nil, err
	}
	var ev callbackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	return &ev, nil
}

func callbackJSON(header http.Header, body []byte) ([]byte, error) {
	mediaType, params, _ := mime.ParseMediaType(header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		r := multipart.NewReader(bytes.NewReader(body), params["boundary"])
		for {
			part, err := r.NextPart()
			if err == io.EOF {
				return nil, fmt.Errorf("multipart callback has no json field")
			}
			if err != nil {
				return nil, fmt.Errorf("read multipart callback: %w", err)
			}
			if part.FormName() == "json" {
				return io.ReadAll(part)
			}
		}
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse form callback: %w", err)
		}
		return []byte(values.Get("json")), nil
	default:
		return body, nil
	}
}
