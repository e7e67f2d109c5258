package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// HTTP Mapping Tests
// ==========================

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("bad intake", ""), http.StatusBadRequest},
		{"auth", NewAuthError("docusign", 400, `{"error":"invalid_grant"}`, nil), http.StatusUnauthorized},
		{"provider rejected content", NewProviderAPIError("docusign", 400, "INVALID_REQUEST_BODY", "bad", "{}"), http.StatusUnprocessableEntity},
		{"provider outage", NewProviderAPIError("docusign", 503, "", "", ""), http.StatusInternalServerError},
		{"field not found", NewFieldNotFoundError("de-minimis-v3", "Bedrijfsnaam"), http.StatusInternalServerError},
		{"storage", NewStorageError("upload", 507, "", "", true, nil), http.StatusInternalServerError},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError},
		{"wrapped validation", fmt.Errorf("map intake: %w", NewValidationError("x", "")), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestToResponse_CarriesRemoteContext(t *testing.T) {
	err := NewProviderAPIError("dropboxsign", 400, "bad_request", "Signer email invalid", `{"error":{}}`)

	resp := ToResponse(err)

	assert.Equal(t, "PROVIDER_API_ERROR", resp.Error)
	assert.Equal(t, "Signer email invalid", resp.Message)
	details, ok := resp.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 400, details["status"])
	assert.Equal(t, "bad_request", details["code"])
	assert.Equal(t, "dropboxsign", details["provider"])
}

func TestToResponse_UnknownError(t *testing.T) {
	resp := ToResponse(stderrors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp.Error)
	assert.Equal(t, "Unexpected error", resp.Message)
}

// ==========================
// Taxonomy Tests
// ==========================

func TestTemplateFieldCategory(t *testing.T) {
	assert.True(t, IsTemplateFieldError(NewFieldNotFoundError("t", "f")))
	assert.True(t, IsTemplateFieldError(NewInvalidOptionError("t", "f", "x", []string{"a"})))
	assert.True(t, IsTemplateFieldError(NewTemplateFieldError("t", "missing")))
	assert.False(t, IsTemplateFieldError(NewValidationError("x", "")))
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewStorageError("upload", 0, "", "", true, cause)
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "connection reset", err.Details)
}

func TestGetRetryCount(t *testing.T) {
	storage := NewStorageError("upload", 503, "", "", true, nil)
	assert.Equal(t, 3, GetRetryCount(storage))

	folder := NewStorageError("ensureFolder", 400, "", "", false, nil)
	assert.Equal(t, 0, GetRetryCount(folder))

	download := NewProviderAPIError("docusign", 502, "", "", "")
	assert.Equal(t, 2, GetRetryCount(download))

	create := NewProviderAPIError("docusign", 502, "", "", "").WithMetadata("operation", "createEnvelope")
	assert.Equal(t, 0, GetRetryCount(create))

	assert.Equal(t, 0, GetRetryCount(NewValidationError("x", "")))
}

func TestWithoutRetry(t *testing.T) {
	orig := NewProviderAPIError("docusign", 503, "", "recipient view failed", "").WithMetadata("operation", "recipientView")
	require.Equal(t, 2, GetRetryCount(orig))

	err := WithoutRetry(orig)

	assert.Equal(t, 0, GetRetryCount(err))
	assert.False(t, ConvertToBPMNError(err).Retryable)
	assert.Equal(t, ErrCodeProviderAPI, err.Code)
	assert.Equal(t, 503, err.Status)
	assert.Equal(t, "recipientView", err.Metadata["operation"])
	assert.Equal(t, true, err.Metadata["retrySuppressed"])
	assert.True(t, orig.Retryable, "original is not modified")
	assert.NotContains(t, orig.Metadata, "retrySuppressed")
}

func TestConvertToBPMNError(t *testing.T) {
	stdErr := NewProviderAPIError("docusign", 409, "ENVELOPE_LOCKED", "locked", "")
	bpmn := ConvertToBPMNError(stdErr)

	assert.Equal(t, "PROVIDER_API_ERROR", bpmn.Code)
	assert.False(t, bpmn.Retryable)
	assert.Equal(t, 0, bpmn.Retries)

	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "PROVIDER_API_ERROR", vars["errorCode"])
	assert.Equal(t, 409, vars["remoteStatus"])
	assert.Equal(t, "ENVELOPE_LOCKED", vars["remoteCode"])
}
