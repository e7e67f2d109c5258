// Package storage lays signed artifacts out in the cloud drive:
//
//	<RootFolder> <Year>/<ApplicationId> - <Display>/
//	    <formKind>_<envelopeId>.pdf
//	    logs/audit-<kind>-<timestamp>-<id>.json
//	    archive/<file>-<timestamp>.pdf
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/graph"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/models"
)

const (
	logsFolder    = "logs"
	archiveFolder = "archive"

	// displaySeparator joins the application key and the display part of a
	// folder name.
	displaySeparator = " - "

	timestampLayout = "20060102T150405Z"
)

// Drive is the subset of the Graph client the layout needs.
type Drive interface {
	EnsureFolder(ctx context.Context, path string) (*graph.DriveItem, error)
	Children(ctx context.Context, folderID string) ([]graph.DriveItem, error)
	CreateFolder(ctx context.Context, parentID, name string) (*graph.DriveItem, error)
	Rename(ctx context.Context, itemID, name string) (*graph.DriveItem, error)
	UploadWithRetry(ctx context.Context, folderID, fileName string, data []byte, conflict string) (*graph.DriveItem, error)
}

// AuditIndexer mirrors audit entries into a search index.
type AuditIndexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

// ApplicationFolder is the resolved per-application folder.
type ApplicationFolder struct {
	ID      string
	Name    string
	Path    string
	Renamed bool
}

// AuditEntry is one append-only record written under logs/.
type AuditEntry struct {
	ID            string      `json:"id"`
	Kind          string      `json:"kind"`
	ApplicationID string      `json:"applicationId,omitempty"`
	FolderID      string      `json:"folderId"`
	RecordedAt    time.Time   `json:"recordedAt"`
	Payload       interface{} `json:"payload"`
}

type Options struct {
	RootFolder    string
	ArchiveCopies bool
	AuditIndex    string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RootFolder:    cfg.Storage.RootFolder,
		ArchiveCopies: cfg.Storage.ArchiveCopies,
		AuditIndex:    cfg.Elasticsearch.AuditIndex,
	}
}

type Service struct {
	drive   Drive
	opts    Options
	indexer AuditIndexer
	log     logger.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

// WithAuditIndexer mirrors every audit entry into the configured index.
func WithAuditIndexer(indexer AuditIndexer) Option {
	return func(s *Service) { s.indexer = indexer }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(drive Drive, opts Options, log logger.Logger, options ...Option) *Service {
	s := &Service{
		drive: drive,
		opts:  opts,
		log:   logger.Component(log, "storage"),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// ==========================
// Folder layout
// ==========================

// YearFolderPath is "<RootFolder> <year>".
func (s *Service) YearFolderPath(year int) string {
	return fmt.Sprintf("%s %d", SanitizeSegment(s.opts.RootFolder), year)
}

// EnsureApplicationFolder finds the folder keyed by applicationID in the year
// folder, creating it when missing and renaming it when its display part
// changed. It never creates a second folder for the same key.
func (s *Service) EnsureApplicationFolder(ctx context.Context, year int, applicationID, display string) (*ApplicationFolder, error) {
	key := ApplicationKey(applicationID)
	if key == "" {
		return nil, apperrors.NewValidationError("Application id is required for storage", fmt.Sprintf("%q sanitizes to nothing", applicationID))
	}
	want := FolderName(key, display)
	yearPath := s.YearFolderPath(year)

	yearFolder, err := s.drive.EnsureFolder(ctx, yearPath)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByKey(ctx, yearFolder.ID, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		created, err := s.drive.CreateFolder(ctx, yearFolder.ID, want)
		switch {
		case err == nil:
			s.log.Info("Application folder created", map[string]interface{}{"applicationId": applicationID, "folder": want})
			return &ApplicationFolder{ID: created.ID, Name: created.Name, Path: yearPath + "/" + created.Name}, nil
		case errors.Is(err, graph.ErrConflict):
			if existing, err = s.findByKey(ctx, yearFolder.ID, key); err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, apperrors.NewStorageError("ensureFolder", 409, "nameAlreadyExists", "", false,
					fmt.Errorf("folder %q conflicts but cannot be found", want))
			}
		default:
			return nil, wrap("ensureFolder", err)
		}
	}

	folder := &ApplicationFolder{ID: existing.ID, Name: existing.Name, Path: yearPath + "/" + existing.Name}
	if existing.Name != want {
		renamed, err := s.drive.Rename(ctx, existing.ID, want)
		if err != nil {
			return nil, err
		}
		s.log.Info("Application folder renamed", map[string]interface{}{
			"applicationId": applicationID,
			"from":          existing.Name,
			"to":            renamed.Name,
		})
		folder.Name = renamed.Name
		folder.Path = yearPath + "/" + renamed.Name
		folder.Renamed = true
	}
	return folder, nil
}

func (s *Service) findByKey(ctx context.Context, parentID, key string) (*graph.DriveItem, error) {
	children, err := s.drive.Children(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		c := &children[i]
		if !c.IsFolder() {
			continue
		}
		if strings.EqualFold(folderKey(c.Name), key) {
			return c, nil
		}
	}
	return nil, nil
}

// ==========================
// Artifacts
// ==========================

// StoreArtifact uploads data replacing any previous file of the same name.
// With archive copies enabled a timestamped copy also goes to archive/.
func (s *Service) StoreArtifact(ctx context.Context, folder *ApplicationFolder, fileName string, data []byte) (*models.StoredArtifact, error) {
	item, err := s.drive.UploadWithRetry(ctx, folder.ID, fileName, data, graph.ConflictReplace)
	if err != nil {
		return nil, err
	}
	artifact := s.artifact(folder.ID, item, fileName, len(data))

	if s.opts.ArchiveCopies {
		archive, err := s.drive.EnsureFolder(ctx, folder.Path+"/"+archiveFolder)
		if err != nil {
			return nil, err
		}
		if _, err := s.drive.UploadWithRetry(ctx, archive.ID, ArchiveName(fileName, s.now()), data, graph.ConflictFail); err != nil {
			return nil, err
		}
	}
	return artifact, nil
}

// RecordAudit writes an append-only JSON entry into logs/. An existing file
// of the same name is never overwritten.
func (s *Service) RecordAudit(ctx context.Context, folder *ApplicationFolder, applicationID, kind string, payload interface{}) (*models.StoredArtifact, error) {
	logs, err := s.drive.EnsureFolder(ctx, folder.Path+"/"+logsFolder)
	if err != nil {
		return nil, err
	}

	entry := AuditEntry{
		ID:            s.newID(),
		Kind:          kind,
		ApplicationID: applicationID,
		FolderID:      folder.ID,
		RecordedAt:    s.now().UTC(),
		Payload:       payload,
	}
	body, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("encode audit entry: %w", err))
	}

	name := AuditFileName(kind, entry.RecordedAt, entry.ID)
	item, err := s.drive.UploadWithRetry(ctx, logs.ID, name, body, graph.ConflictFail)
	if err != nil {
		return nil, err
	}

	if s.indexer != nil {
		if err := s.indexer.IndexDocument(ctx, s.opts.AuditIndex, entry.ID, entry); err != nil {
			s.log.Warn("Audit entry not mirrored to search index", map[string]interface{}{
				"entryId": entry.ID,
				"error":   err.Error(),
			})
		}
	}
	return s.artifact(logs.ID, item, name, len(body)), nil
}

func (s *Service) artifact(folderID string, item *graph.DriveItem, fileName string, size int) *models.StoredArtifact {
	a := &models.StoredArtifact{
		FolderID:   folderID,
		FileName:   fileName,
		SizeBytes:  int64(size),
		UploadedAt: s.now().UTC(),
	}
	if item != nil {
		a.ItemID = item.ID
		a.WebURL = item.WebURL
		if item.Name != "" {
			a.FileName = item.Name
		}
	}
	return a
}

// ==========================
// Naming
// ==========================

var (
	invalidChars = regexp.MustCompile(`["*:<>?/\\|#%~&{}]+`)
	whitespace   = regexp.MustCompile(`\s+`)
	spacedDash   = regexp.MustCompile(`\s*-\s*`)
)

// SanitizeSegment makes s usable as one drive path segment.
func SanitizeSegment(s string) string {
	s = invalidChars.ReplaceAllString(s, "-")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.Trim(s, " .-")
}

// ApplicationKey is the sanitized application id with spacing around dashes
// removed, so a key never contains the display separator.
func ApplicationKey(applicationID string) string {
	return strings.Trim(spacedDash.ReplaceAllString(SanitizeSegment(applicationID), "-"), "-")
}

// folderKey is the part of a folder name before the first display separator.
func folderKey(name string) string {
	if i := strings.Index(name, displaySeparator); i >= 0 {
		return name[:i]
	}
	return name
}

// FolderName is "<key> - <display>", or just the key without a display part.
func FolderName(key, display string) string {
	display = SanitizeSegment(display)
	if display == "" {
		return key
	}
	return key + displaySeparator + display
}

// SignedDocumentName is stable per envelope document, so redelivered
// completions overwrite instead of duplicating.
func SignedDocumentName(formKind models.FormKind, envelopeID string, index, total int) string {
	base := SanitizeSegment(string(formKind)) + "_" + SanitizeSegment(envelopeID)
	if total > 1 {
		base = fmt.Sprintf("%s_%d", base, index+1)
	}
	return base + ".pdf"
}

func AuditFileName(kind string, at time.Time, id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("audit-%s-%s-%s.json", SanitizeSegment(kind), at.UTC().Format(timestampLayout), short)
}

func ArchiveName(fileName string, at time.Time) string {
	ext := path.Ext(fileName)
	return fmt.Sprintf("%s-%s%s", strings.TrimSuffix(fileName, ext), at.UTC().Format(timestampLayout), ext)
}

func wrap(op string, err error) error {
	if _, ok := apperrors.AsStandard(err); ok {
		return err
	}
	return apperrors.NewStorageError(op, 0, "", "", false, err)
}
