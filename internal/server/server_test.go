package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/pipeline"
)

type fakeSigning struct {
	submitted  *pipeline.SubmitRequest
	submitErr  error
	statusErr  error
	statusArgs []string
}

func (f *fakeSigning) Submit(_ context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error) {
	f.submitted = &req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &pipeline.SubmitResult{
		Provider:   models.ProviderDocuSign,
		EnvelopeID: "env-1",
		Status:     models.EnvelopeSent,
		SigningURLs: []models.SigningURL{
			{RecipientID: "1", URL: "https://sign.example/1"},
		},
	}, nil
}

func (f *fakeSigning) Status(_ context.Context, providerName, envelopeID string) (*models.EnvelopeStatusInfo, error) {
	f.statusArgs = []string{providerName, envelopeID}
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &models.EnvelopeStatusInfo{EnvelopeID: envelopeID, Status: models.EnvelopeCompleted}, nil
}

func (f *fakeSigning) Classify(m models.CompanyMetrics) (models.CompanySizeResult, error) {
	if m.Employees == "" {
		return models.CompanySizeResult{}, apperrors.NewValidationError("employees is required", "")
	}
	return models.CompanySizeResult{Category: models.SizeSmall, Rationale: "fits small thresholds"}, nil
}

type fakeWebhooks struct {
	provider string
	limit    int64
}

func (f *fakeWebhooks) HTTPHandler(providerName func(*http.Request) string, maxBodyBytes int64) http.HandlerFunc {
	f.limit = maxBodyBytes
	return func(w http.ResponseWriter, r *http.Request) {
		f.provider = providerName(r)
		_, _ = w.Write([]byte("ok"))
	}
}

func newTestServer(t *testing.T, signing *fakeSigning, hooks *fakeWebhooks) *Server {
	t.Helper()
	cfg := &config.Config{
		App:    config.AppConfig{Name: "subsidy-esign", Version: "test"},
		Server: config.ServerConfig{RequestTimeout: 5000, MaxBodyBytes: 4096},
	}
	return New(cfg, signing, hooks, logger.NewTestLogger(t))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

const deMinimisBody = `{
	"provider": "docusign",
	"applicationId": "APP-2026-001",
	"signingMode": "embedded",
	"intake": {"selectedOption":1,"generalData":{"companyName":"Acme B.V.","kvkNumber":"12345678"}},
	"signers": [{"email":"jan@acme.nl","name":"Jan Jansen"}]
}`

// ==========================
// Sign
// ==========================

func TestSign_Created(t *testing.T) {
	signing := &fakeSigning{}
	s := newTestServer(t, signing, &fakeWebhooks{})

	rec := do(t, s, http.MethodPost, "/api/v1/applications/de-minimis/sign", deMinimisBody)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res pipeline.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "env-1", res.EnvelopeID)
	require.Len(t, res.SigningURLs, 1)

	require.NotNil(t, signing.submitted)
	assert.Equal(t, "docusign", signing.submitted.Provider)
	assert.Equal(t, models.SigningEmbedded, signing.submitted.SigningMode)
	require.NotNil(t, signing.submitted.Intake)
	assert.Equal(t, models.FormKindDeMinimis, signing.submitted.Intake.Kind)
	assert.Equal(t, "APP-2026-001", signing.submitted.Intake.ApplicationID)
	assert.Equal(t, "Acme B.V.", signing.submitted.Intake.CompanyName())
	require.Len(t, signing.submitted.Signers, 1)
	assert.Equal(t, "jan@acme.nl", signing.submitted.Signers[0].Email)
}

func TestSign_RejectsBeforeSubmit(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/api/v1/applications/de-minimis/sign", `{"intake":`},
		{"unknown form kind", "/api/v1/applications/subsidy-x/sign", deMinimisBody},
		{"intake fails schema", "/api/v1/applications/de-minimis/sign",
			`{"applicationId":"APP-1","intake":{"selectedOption":1,"generalData":{"companyName":"A","kvkNumber":"12"}}}`},
		{"missing intake", "/api/v1/applications/mandate/sign", `{"applicationId":"APP-1"}`},
		{"missing application id", "/api/v1/applications/de-minimis/sign",
			`{"intake":{"selectedOption":1,"generalData":{"companyName":"A","kvkNumber":"12345678"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signing := &fakeSigning{}
			s := newTestServer(t, signing, &fakeWebhooks{})

			rec := do(t, s, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(apperrors.ErrCodeValidation), decodeError(t, rec).Error)
			assert.Nil(t, signing.submitted)
		})
	}
}

func TestSign_BodyTooLarge(t *testing.T) {
	signing := &fakeSigning{}
	s := newTestServer(t, signing, &fakeWebhooks{})

	body := `{"applicationId":"` + strings.Repeat("x", 8192) + `"}`
	rec := do(t, s, http.MethodPost, "/api/v1/applications/de-minimis/sign", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Request body too large", decodeError(t, rec).Message)
	assert.Nil(t, signing.submitted)
}

func TestSign_PipelineErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"provider rejected content", apperrors.NewProviderAPIError("docusign", 400, "INVALID_EMAIL", "bad email", "{}"),
			http.StatusUnprocessableEntity, apperrors.ErrCodeProviderAPI},
		{"provider outage", apperrors.NewProviderAPIError("docusign", 503, "", "unavailable", ""),
			http.StatusInternalServerError, apperrors.ErrCodeProviderAPI},
		{"auth failure", apperrors.NewAuthError("docusign", 401, "", nil),
			http.StatusUnauthorized, apperrors.ErrCodeAuth},
		{"template defect", apperrors.NewTemplateFieldError("deminimis-v1", "no anchor"),
			http.StatusInternalServerError, apperrors.ErrCodeTemplateField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeSigning{submitErr: tt.err}, &fakeWebhooks{})

			rec := do(t, s, http.MethodPost, "/api/v1/applications/de-minimis/sign", deMinimisBody)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.code), decodeError(t, rec).Error)
		})
	}
}

// ==========================
// Classification / status
// ==========================

func TestClassify(t *testing.T) {
	s := newTestServer(t, &fakeSigning{}, &fakeWebhooks{})

	rec := do(t, s, http.MethodPost, "/api/v1/classification",
		`{"employees":"45","turnover":8000000,"balanceSheetTotal":"6000000","isIndependent":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.CompanySizeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.SizeSmall, res.Category)

	rec = do(t, s, http.MethodPost, "/api/v1/classification", `{"turnover":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnvelopeStatus(t *testing.T) {
	signing := &fakeSigning{}
	s := newTestServer(t, signing, &fakeWebhooks{})

	rec := do(t, s, http.MethodGet, "/api/v1/envelopes/dropboxsign/sr-42", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"dropboxsign", "sr-42"}, signing.statusArgs)
	var info models.EnvelopeStatusInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, models.EnvelopeCompleted, info.Status)

	signing.statusErr = apperrors.NewValidationError(`unknown provider "x"`, "")
	rec = do(t, s, http.MethodGet, "/api/v1/envelopes/x/sr-42", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==========================
// Webhooks / ops
// ==========================

func TestWebhookRouteUsesProviderParam(t *testing.T) {
	hooks := &fakeWebhooks{}
	s := newTestServer(t, &fakeSigning{}, hooks)

	rec := do(t, s, http.MethodPost, "/webhooks/docusign", `{"event":"envelope-completed"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "docusign", hooks.provider)
	assert.Equal(t, int64(4096), hooks.limit)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakeSigning{}, &fakeWebhooks{})

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "subsidy-esign", body["service"])

	rec = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDefaultBodyLimit(t *testing.T) {
	s := New(&config.Config{}, &fakeSigning{}, nil, logger.NewNoOpLogger())
	assert.Equal(t, int64(defaultMaxBodyBytes), s.cfg.MaxBodyBytes)

	rec := do(t, s, http.MethodPost, "/webhooks/docusign", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
