package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsidy-esign/internal/common/auth"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/graph"
	"subsidy-esign/internal/common/graph/graphtest"
	commonhttp "subsidy-esign/internal/common/http"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/envelope"
	"subsidy-esign/internal/signing/storage"
)

const ack = "Hello API Event Received"

type fakeProvider struct {
	mu          sync.Mutex
	status      *models.EnvelopeStatusInfo
	statusErr   error
	docs        []models.CompletedDocument
	downloadErr error
	downloads   int
}

func (f *fakeProvider) Kind() models.ProviderKind { return models.ProviderDropboxSign }

func (f *fakeProvider) Authenticate(context.Context) error { return nil }

func (f *fakeProvider) CreateEnvelope(context.Context, models.EnvelopeRequest) (*models.EnvelopeSession, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) SigningURL(context.Context, string, models.SigningURLRequest) (*models.SigningURL, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) DownloadCompleted(context.Context, string) ([]models.CompletedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.docs, f.downloadErr
}

func (f *fakeProvider) Status(_ context.Context, id string) (*models.EnvelopeStatusInfo, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	s := *f.status
	s.EnvelopeID = id
	return &s, nil
}

func (f *fakeProvider) VerifyWebhook(header http.Header, _ []byte) error {
	if header.Get("X-Test-Signature") != "good" {
		return envelope.ErrInvalidSignature
	}
	return nil
}

func (f *fakeProvider) ParseEvent(_ http.Header, body []byte) (*models.EnvelopeEvent, error) {
	var ev struct {
		Event      string `json:"event"`
		EnvelopeID string `json:"envelopeId"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperrors.NewValidationError("Malformed callback", err.Error())
	}
	return &models.EnvelopeEvent{
		Provider:   models.ProviderDropboxSign,
		EventType:  ev.Event,
		EnvelopeID: ev.EnvelopeID,
		Completed:  ev.Event == "signature_request_all_signed",
		RawPayload: body,
	}, nil
}

func (f *fakeProvider) Acknowledgement() string { return ack }

type recorder struct {
	mu         sync.Mutex
	alerts     []string
	notices    []string
	messages   []map[string]interface{}
	alertErr   error
	publishErr error
}

func (r *recorder) PublishMessage(_ context.Context, name, correlationKey string, vars map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := map[string]interface{}{"name": name, "key": correlationKey}
	for k, v := range vars {
		msg[k] = v
	}
	r.messages = append(r.messages, msg)
	return r.publishErr
}

func (r *recorder) Alert(_ context.Context, subject, _ string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, subject)
	return r.alertErr
}

func (r *recorder) Notify(_ context.Context, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, subject)
	return nil
}

type fixture struct {
	provider  *fakeProvider
	drive     *graphtest.Drive
	recorder  *recorder
	processor *Processor
}

func completedStatus() *models.EnvelopeStatusInfo {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	return &models.EnvelopeStatusInfo{
		Status:      models.EnvelopeCompleted,
		CompletedAt: &at,
		Metadata: map[string]string{
			models.MetaApplicationID: "APP-2026-001",
			models.MetaFormKind:      string(models.FormKindDeMinimis),
			models.MetaCompanyName:   "Acme B.V.",
			models.MetaYear:          "2026",
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	drive := graphtest.NewDrive("drive-1")
	t.Cleanup(drive.Close)

	client := graph.NewClient(graph.Options{
		BaseURL: drive.BaseURL(),
		DriveID: drive.DriveID,
		Retry:   graph.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2},
	}, auth.StaticCredentials("graph-token"), commonhttp.WithHTTPClient(drive.Server.Client()), logger.NewTestLogger(t))
	store := storage.NewService(client, storage.Options{RootFolder: "Subsidieaanvragen"}, logger.NewTestLogger(t))

	provider := &fakeProvider{
		status: completedStatus(),
		docs:   []models.CompletedDocument{{DocumentID: "1", Name: "signed.pdf", Content: []byte("%PDF-1.7 signed")}},
	}
	reg, err := envelope.NewRegistry(models.ProviderDropboxSign, provider)
	require.NoError(t, err)

	rec := &recorder{}
	p := NewProcessor(reg, store, logger.NewTestLogger(t), WithAlerter(rec), WithNoticer(rec), WithPublisher(rec))
	return &fixture{provider: provider, drive: drive, recorder: rec, processor: p}
}

func (f *fixture) deliver(t *testing.T, signature, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := f.processor.HTTPHandler(func(*http.Request) string { return "dropboxsign" }, 1<<20)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dropboxsign", strings.NewReader(body))
	req.Header.Set("X-Test-Signature", signature)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

const completedBody = `{"event":"signature_request_all_signed","envelopeId":"env-1"}`

const folderPath = "Subsidieaanvragen 2026/APP-2026-001 - Acme B.V"

// ==========================
// HTTP Adapter Tests
// ==========================

func TestHTTP_BadSignatureIs401WithoutSideEffects(t *testing.T) {
	f := newFixture(t)

	w := f.deliver(t, "forged", completedBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, f.provider.downloads)
	_, exists := f.drive.Lookup("Subsidieaanvragen 2026")
	assert.False(t, exists)
}

func TestHTTP_NonCompletionEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	w := f.deliver(t, "good", `{"event":"signature_request_viewed","envelopeId":"env-1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ack, w.Body.String())
	assert.Equal(t, 0, f.provider.downloads)
}

func TestHTTP_FailuresStillAnswer200(t *testing.T) {
	f := newFixture(t)
	f.provider.statusErr = apperrors.NewProviderAPIError("dropboxsign", 500, "", "boom", "")

	w := f.deliver(t, "good", completedBody)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ack, w.Body.String())
	assert.Len(t, f.recorder.alerts, 1)
}

func TestHTTP_MalformedPayloadAnswers200(t *testing.T) {
	f := newFixture(t)
	w := f.deliver(t, "good", `not json`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTP_ClientDisconnectDoesNotAbortStorage(t *testing.T) {
	f := newFixture(t)
	handler := f.processor.HTTPHandler(func(*http.Request) string { return "dropboxsign" }, 1<<20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dropboxsign", strings.NewReader(completedBody)).WithContext(ctx)
	req.Header.Set("X-Test-Signature", "good")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	stored, ok := f.drive.Lookup(folderPath + "/de-minimis_env-1.pdf")
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.7 signed", string(stored.Content))
	assert.Empty(t, f.recorder.alerts)
}

// ==========================
// Completion Flow Tests
// ==========================

func TestHandleDelivery_StoresSignedDocument(t *testing.T) {
	f := newFixture(t)
	header := http.Header{"X-Test-Signature": []string{"good"}}

	res := f.processor.HandleDelivery(context.Background(), "dropboxsign", header, []byte(completedBody))
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeStored, res.Outcome)
	assert.Equal(t, StateStored, res.State)
	assert.Equal(t, "signature_request_all_signed", res.EventType)
	assert.Equal(t, "APP-2026-001", res.ApplicationID)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "de-minimis_env-1.pdf", res.Artifacts[0].FileName)

	stored, ok := f.drive.Lookup(folderPath + "/de-minimis_env-1.pdf")
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.7 signed", string(stored.Content))
	assert.Len(t, f.drive.Children(folderPath+"/logs"), 1)
	assert.Equal(t, []string{"Signed: APP-2026-001"}, f.recorder.notices)
	assert.Empty(t, f.recorder.alerts)
}

func TestHandleDelivery_DuplicateDeliveryKeepsOneArtifact(t *testing.T) {
	f := newFixture(t)
	header := http.Header{"X-Test-Signature": []string{"good"}}

	for i := 0; i < 2; i++ {
		res := f.processor.HandleDelivery(context.Background(), "dropboxsign", header, []byte(completedBody))
		require.Equal(t, OutcomeStored, res.Outcome)
	}

	assert.Equal(t, []string{"de-minimis_env-1.pdf", "logs"}, f.drive.Children(folderPath))
	assert.Equal(t, []string{"APP-2026-001 - Acme B.V"}, f.drive.Children("Subsidieaanvragen 2026"))
	assert.Len(t, f.drive.Children(folderPath+"/logs"), 2)
}

func TestComplete_MultipleDocumentsAreNumbered(t *testing.T) {
	f := newFixture(t)
	f.provider.docs = []models.CompletedDocument{
		{DocumentID: "1", Content: []byte("%PDF a")},
		{DocumentID: "2", Content: []byte("%PDF b")},
	}

	res := f.processor.Complete(context.Background(), "dropboxsign", "env-2")
	require.Equal(t, OutcomeStored, res.Outcome)
	assert.Equal(t, []string{"de-minimis_env-2_1.pdf", "de-minimis_env-2_2.pdf", "logs"}, f.drive.Children(folderPath))

	require.Len(t, f.recorder.messages, 1)
	msg := f.recorder.messages[0]
	assert.Equal(t, MessageEnvelopeStored, msg["name"])
	assert.Equal(t, "env-2", msg["key"])
	assert.Equal(t, "APP-2026-001", msg["applicationId"])
	assert.Equal(t, []string{"de-minimis_env-2_1.pdf", "de-minimis_env-2_2.pdf"}, msg["signedFiles"])
}

func TestComplete_PublishErrorDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.recorder.publishErr = errors.New("gateway unavailable")

	res := f.processor.Complete(context.Background(), "dropboxsign", "env-1")
	assert.Equal(t, OutcomeStored, res.Outcome)
	assert.Len(t, f.recorder.notices, 1)
}

func TestComplete_YearFallsBackToCompletionDate(t *testing.T) {
	f := newFixture(t)
	delete(f.provider.status.Metadata, models.MetaYear)
	at := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	f.provider.status.CompletedAt = &at

	res := f.processor.Complete(context.Background(), "dropboxsign", "env-1")
	require.Equal(t, OutcomeStored, res.Outcome)
	_, ok := f.drive.Lookup("Subsidieaanvragen 2025/APP-2026-001 - Acme B.V/de-minimis_env-1.pdf")
	assert.True(t, ok)
}

func TestComplete_UnfinishedEnvelopeIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.provider.status.Status = models.EnvelopeSent

	res := f.processor.Complete(context.Background(), "dropboxsign", "env-1")
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, StateSent, res.State)
	assert.Equal(t, 0, f.provider.downloads)
}

func TestComplete_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantState State
		wantCode  apperrors.ErrorCode
	}{
		{
			name:      "missing correlation metadata",
			setup:     func(f *fixture) { delete(f.provider.status.Metadata, models.MetaApplicationID) },
			wantState: StateCompleted,
			wantCode:  apperrors.ErrCodeValidation,
		},
		{
			name:      "download rejected",
			setup:     func(f *fixture) { f.provider.downloadErr = apperrors.NewProviderAPIError("dropboxsign", 409, "conflict", "files not ready", "") },
			wantState: StateCompleted,
			wantCode:  apperrors.ErrCodeProviderAPI,
		},
		{
			name:      "no documents",
			setup:     func(f *fixture) { f.provider.docs = nil },
			wantState: StateCompleted,
			wantCode:  apperrors.ErrCodeProviderAPI,
		},
		{
			name: "upload keeps failing",
			setup: func(f *fixture) {
				f.drive.FailSimplePuts = 2
				f.drive.FailSimpleStatus = http.StatusInternalServerError
			},
			wantState: StateDownloaded,
			wantCode:  apperrors.ErrCodeStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			res := f.processor.Complete(context.Background(), "dropboxsign", "env-1")
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, tt.wantState, res.State)
			assert.True(t, apperrors.IsCode(res.Err, tt.wantCode), "got %v", res.Err)
			assert.Len(t, f.recorder.alerts, 1)
			assert.Empty(t, f.recorder.notices)
		})
	}
}

func TestComplete_FailedUploadLeavesAuditTrail(t *testing.T) {
	f := newFixture(t)
	f.drive.FailSimplePuts = 2

	res := f.processor.Complete(context.Background(), "dropboxsign", "env-1")
	require.Equal(t, OutcomeFailed, res.Outcome)

	logs := f.drive.Children(folderPath + "/logs")
	require.Len(t, logs, 1)
	assert.True(t, strings.HasPrefix(logs[0], "audit-failed-"))
}

func TestComplete_AlertErrorDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.recorder.alertErr = errors.New("sns down")
	f.provider.statusErr = errors.New("timeout")

	res := f.processor.Complete(context.Background(), "dropboxsign", "env-1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestHandleDelivery_UnknownProviderIgnored(t *testing.T) {
	f := newFixture(t)
	res := f.processor.HandleDelivery(context.Background(), "adobesign", http.Header{}, []byte(completedBody))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.False(t, IsRejected(res))
}
