package storage

import (
	"context"
	"encoding/json"
	"errors"
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
)

var fixedNow = time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)

type recordingIndexer struct {
	mu   sync.Mutex
	docs map[string]interface{}
	err  error
}

func (r *recordingIndexer) IndexDocument(_ context.Context, index, id string, doc interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.docs == nil {
		r.docs = make(map[string]interface{})
	}
	r.docs[index+"/"+id] = doc
	return nil
}

func newService(t *testing.T, opts Options, options ...Option) (*Service, *graphtest.Drive) {
	t.Helper()
	drive := graphtest.NewDrive("drive-1")
	t.Cleanup(drive.Close)

	client := graph.NewClient(graph.Options{
		BaseURL: drive.BaseURL(),
		DriveID: drive.DriveID,
		Retry:   graph.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2},
	}, auth.StaticCredentials("graph-token"), commonhttp.WithHTTPClient(drive.Server.Client()), logger.NewTestLogger(t))

	if opts.RootFolder == "" {
		opts.RootFolder = "Subsidieaanvragen"
	}
	options = append([]Option{WithClock(func() time.Time { return fixedNow })}, options...)
	svc := NewService(client, opts, logger.NewTestLogger(t), options...)
	n := 0
	svc.newID = func() string {
		n++
		return []string{"0f8e2c4a-1111-4e8b-9c3d-aaaaaaaaaaaa", "7b1d9e00-2222-4e8b-9c3d-bbbbbbbbbbbb"}[(n-1)%2]
	}
	return svc, drive
}

// ==========================
// Folder Layout Tests
// ==========================

func TestEnsureApplicationFolder_CreatesLayout(t *testing.T) {
	svc, drive := newService(t, Options{})

	folder, err := svc.EnsureApplicationFolder(context.Background(), 2026, "APP-2026-001", "Acme B.V.")
	require.NoError(t, err)
	assert.Equal(t, "APP-2026-001 - Acme B.V", folder.Name)
	assert.Equal(t, "Subsidieaanvragen 2026/APP-2026-001 - Acme B.V", folder.Path)
	assert.False(t, folder.Renamed)

	_, ok := drive.Lookup(folder.Path)
	assert.True(t, ok)
}

func TestEnsureApplicationFolder_ReusesAndRenamesOnChange(t *testing.T) {
	svc, drive := newService(t, Options{})
	ctx := context.Background()

	first, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-2026-001", "Acme")
	require.NoError(t, err)

	again, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-2026-001", "Acme")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.False(t, again.Renamed)

	renamed, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-2026-001", "Acme Holding")
	require.NoError(t, err)
	assert.Equal(t, first.ID, renamed.ID)
	assert.True(t, renamed.Renamed)
	assert.Equal(t, "APP-2026-001 - Acme Holding", renamed.Name)

	assert.Equal(t, []string{"APP-2026-001 - Acme Holding"}, drive.Children("Subsidieaanvragen 2026"))
}

func TestEnsureApplicationFolder_KeyMatchIgnoresOtherApplications(t *testing.T) {
	svc, drive := newService(t, Options{})
	drive.MkdirAll("Subsidieaanvragen 2026/APP-2026-0011 - Other")

	folder, err := svc.EnsureApplicationFolder(context.Background(), 2026, "APP-2026-001", "")
	require.NoError(t, err)
	assert.Equal(t, "APP-2026-001", folder.Name)
	assert.Equal(t, []string{"APP-2026-001", "APP-2026-0011 - Other"}, drive.Children("Subsidieaanvragen 2026"))
}

func TestEnsureApplicationFolder_SeparatorInIDDoesNotCollide(t *testing.T) {
	svc, drive := newService(t, Options{})
	ctx := context.Background()

	other, err := svc.EnsureApplicationFolder(ctx, 2026, "A - 1", "Other Co")
	require.NoError(t, err)
	assert.Equal(t, "A-1 - Other Co", other.Name)

	mine, err := svc.EnsureApplicationFolder(ctx, 2026, "A", "Mine BV")
	require.NoError(t, err)
	assert.NotEqual(t, other.ID, mine.ID)
	assert.False(t, mine.Renamed)
	assert.Equal(t, "A - Mine BV", mine.Name)

	again, err := svc.EnsureApplicationFolder(ctx, 2026, "A - 1", "Other Co")
	require.NoError(t, err)
	assert.Equal(t, other.ID, again.ID)
	assert.False(t, again.Renamed)

	assert.Equal(t, []string{"A - Mine BV", "A-1 - Other Co"}, drive.Children("Subsidieaanvragen 2026"))
}

func TestEnsureApplicationFolder_DisplayMayContainSeparator(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()

	first, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-7", "Acme - Holding")
	require.NoError(t, err)
	again, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-7", "Acme - Holding")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.False(t, again.Renamed)
}

func TestApplicationKey(t *testing.T) {
	assert.Equal(t, "A-1", ApplicationKey("A - 1"))
	assert.Equal(t, "APP-2026-001", ApplicationKey("APP-2026-001"))
	assert.Equal(t, "A-B", ApplicationKey("A-  B"))
	assert.Equal(t, "", ApplicationKey(" - "))
}

func TestEnsureApplicationFolder_RejectsEmptyKey(t *testing.T) {
	svc, _ := newService(t, Options{})
	_, err := svc.EnsureApplicationFolder(context.Background(), 2026, " / ", "Acme")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

// ==========================
// Artifact Tests
// ==========================

func TestStoreArtifact_DuplicateDeliveryKeepsOneFile(t *testing.T) {
	svc, drive := newService(t, Options{})
	ctx := context.Background()
	folder, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-1", "Acme")
	require.NoError(t, err)

	name := SignedDocumentName(models.FormKindDeMinimis, "env-123", 0, 1)
	for i := 0; i < 2; i++ {
		artifact, err := svc.StoreArtifact(ctx, folder, name, []byte("%PDF signed"))
		require.NoError(t, err)
		assert.Equal(t, "de-minimis_env-123.pdf", artifact.FileName)
		assert.Equal(t, int64(11), artifact.SizeBytes)
		assert.Equal(t, folder.ID, artifact.FolderID)
		assert.Equal(t, fixedNow, artifact.UploadedAt)
	}
	assert.Equal(t, []string{"de-minimis_env-123.pdf"}, drive.Children(folder.Path))
}

func TestStoreArtifact_ArchiveCopy(t *testing.T) {
	svc, drive := newService(t, Options{ArchiveCopies: true})
	ctx := context.Background()
	folder, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-1", "")
	require.NoError(t, err)

	_, err = svc.StoreArtifact(ctx, folder, "mandate_env-9.pdf", []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, []string{"archive", "mandate_env-9.pdf"}, drive.Children(folder.Path))
	assert.Equal(t, []string{"mandate_env-9-20260302T101500Z.pdf"}, drive.Children(folder.Path+"/archive"))
}

// ==========================
// Audit Tests
// ==========================

func TestRecordAudit_AppendOnlyAndMirrored(t *testing.T) {
	indexer := &recordingIndexer{}
	svc, drive := newService(t, Options{AuditIndex: "esign-audit"}, WithAuditIndexer(indexer))
	ctx := context.Background()
	folder, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-1", "")
	require.NoError(t, err)

	first, err := svc.RecordAudit(ctx, folder, "APP-1", "completed", map[string]string{"envelopeId": "env-1"})
	require.NoError(t, err)
	assert.Equal(t, "audit-completed-20260302T101500Z-0f8e2c4a.json", first.FileName)

	second, err := svc.RecordAudit(ctx, folder, "APP-1", "completed", map[string]string{"envelopeId": "env-1"})
	require.NoError(t, err)
	assert.Equal(t, "audit-completed-20260302T101500Z-7b1d9e00.json", second.FileName)

	assert.Equal(t, []string{first.FileName, second.FileName}, drive.Children(folder.Path+"/logs"))

	stored, ok := drive.Lookup(folder.Path + "/logs/" + first.FileName)
	require.True(t, ok)
	var entry AuditEntry
	require.NoError(t, json.Unmarshal(stored.Content, &entry))
	assert.Equal(t, "completed", entry.Kind)
	assert.Equal(t, "APP-1", entry.ApplicationID)

	assert.Contains(t, indexer.docs, "esign-audit/0f8e2c4a-1111-4e8b-9c3d-aaaaaaaaaaaa")
}

func TestRecordAudit_RefusesToOverwrite(t *testing.T) {
	svc, _ := newService(t, Options{})
	svc.newID = func() string { return "same-id-every-time" }
	ctx := context.Background()
	folder, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-1", "")
	require.NoError(t, err)

	_, err = svc.RecordAudit(ctx, folder, "APP-1", "failed", nil)
	require.NoError(t, err)
	_, err = svc.RecordAudit(ctx, folder, "APP-1", "failed", nil)
	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeStorage, stdErr.Code)
	assert.Equal(t, 409, stdErr.Status)
}

func TestRecordAudit_IndexFailureIsNotFatal(t *testing.T) {
	svc, _ := newService(t, Options{AuditIndex: "esign-audit"}, WithAuditIndexer(&recordingIndexer{err: errors.New("cluster red")}))
	ctx := context.Background()
	folder, err := svc.EnsureApplicationFolder(ctx, 2026, "APP-1", "")
	require.NoError(t, err)

	_, err = svc.RecordAudit(ctx, folder, "APP-1", "completed", nil)
	assert.NoError(t, err)
}

// ==========================
// Naming Tests
// ==========================

func TestSanitizeSegment(t *testing.T) {
	tests := map[string]string{
		"APP-2026-001":         "APP-2026-001",
		"APP/2026:001":         "APP-2026-001",
		"  Acme   B.V.  ":      "Acme B.V",
		`Foo "Bar" <Baz>`:      "Foo -Bar- -Baz",
		"...":                  "",
		"Bakkerij De Tarwe #1": "Bakkerij De Tarwe -1",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeSegment(in), in)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "APP-1", FolderName("APP-1", "  "))
	assert.Equal(t, "APP-1 - Acme", FolderName("APP-1", "Acme"))

	assert.Equal(t, "sme-declaration_env-1.pdf", SignedDocumentName(models.FormKindSMEDeclaration, "env-1", 0, 1))
	assert.Equal(t, "mandate_env-1_2.pdf", SignedDocumentName(models.FormKindMandate, "env-1", 1, 2))

	assert.Equal(t, "audit-failed-20260302T101500Z-abcdef12.json", AuditFileName("failed", fixedNow, "abcdef12-3456"))
	assert.Equal(t, "signed-20260302T101500Z.pdf", ArchiveName("signed.pdf", fixedNow))
}
