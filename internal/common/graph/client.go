// Package graph is a small Microsoft Graph drive client: folder resolution,
// simple and resumable uploads, and renames.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subsidy-esign/internal/common/auth"
	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	commonhttp "subsidy-esign/internal/common/http"
	"subsidy-esign/internal/common/logger"
)

// Conflict behaviors understood by the drive API.
const (
	ConflictFail    = "fail"
	ConflictReplace = "replace"
	ConflictRename  = "rename"
)

// chunkAlignment is the granularity upload session chunks must respect.
const chunkAlignment = 320 * 1024

const chunkAttempts = 3

var (
	ErrNotFound = errors.New("drive item not found")
	ErrConflict = errors.New("drive item already exists")
)

type DriveItem struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Size            int64            `json:"size"`
	WebURL          string           `json:"webUrl"`
	Folder          *json.RawMessage `json:"folder,omitempty"`
	ParentReference struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	} `json:"parentReference"`
}

func (d *DriveItem) IsFolder() bool { return d.Folder != nil }

type Options struct {
	BaseURL              string
	DriveID              string
	SimpleUploadMaxBytes int64
	ChunkSize            int64
	Retry                RetryPolicy
}

// RetryPolicy bounds upload retries. The delay before retry n is
// BaseDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func OptionsFromConfig(cfg config.StorageConfig) Options {
	return Options{
		BaseURL:              cfg.Graph.BaseURL,
		DriveID:              cfg.Graph.DriveID,
		SimpleUploadMaxBytes: cfg.SimpleUploadMaxBytes,
		ChunkSize:            cfg.ChunkSize,
		Retry: RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   config.GetDuration(cfg.Retry.BaseDelay),
			Multiplier:  cfg.Retry.Multiplier,
		},
	}
}

type Client struct {
	api   *commonhttp.APIClient
	opts  Options
	log   logger.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options, creds auth.CredentialProvider, hc *commonhttp.Client, log logger.Logger) *Client {
	if opts.SimpleUploadMaxBytes <= 0 {
		opts.SimpleUploadMaxBytes = 4 << 20
	}
	if opts.ChunkSize <= 0 || opts.ChunkSize%chunkAlignment != 0 {
		opts.ChunkSize = 12 * chunkAlignment
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.Multiplier <= 0 {
		opts.Retry.Multiplier = 1
	}
	return &Client{
		api:   commonhttp.NewAPIClient(hc, opts.BaseURL, creds),
		opts:  opts,
		log:   logger.Component(log, "graph"),
		sleep: sleepContext,
	}
}

func (c *Client) drivePath(suffix string) string {
	return "drives/" + url.PathEscape(c.opts.DriveID) + "/" + suffix
}

// escapePath escapes each segment of a slash-separated drive path.
func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// ==========================
// Folders
// ==========================

// ItemByPath resolves a path below the drive root. A missing item yields
// ErrNotFound.
func (c *Client) ItemByPath(ctx context.Context, path string) (*DriveItem, error) {
	var item DriveItem
	resp, err := c.api.JSON(ctx, http.MethodGet, c.drivePath("root:/"+escapePath(path)), nil, &item)
	if err != nil {
		return nil, transportError("lookup", err)
	}
	if resp.Status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if !resp.OK() {
		return nil, apiError("lookup", resp)
	}
	return &item, nil
}

// Children lists the direct children of a folder, following paging links.
func (c *Client) Children(ctx context.Context, folderID string) ([]DriveItem, error) {
	var items []DriveItem
	next := c.drivePath("items/" + url.PathEscape(folderID) + "/children")
	for next != "" {
		var page struct {
			Value    []DriveItem `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		resp, err := c.api.JSON(ctx, http.MethodGet, next, nil, &page)
		if err != nil {
			return nil, transportError("list", err)
		}
		if !resp.OK() {
			return nil, apiError("list", resp)
		}
		items = append(items, page.Value...)
		next = page.NextLink
	}
	return items, nil
}

// CreateFolder creates name under parentID (the drive root when empty) and
// fails with ErrConflict when the name is taken.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*DriveItem, error) {
	target := c.drivePath("root/children")
	if parentID != "" {
		target = c.drivePath("items/" + url.PathEscape(parentID) + "/children")
	}
	body := map[string]interface{}{
		"name":                              name,
		"folder":                            map[string]interface{}{},
		"@microsoft.graph.conflictBehavior": ConflictFail,
	}

	var item DriveItem
	resp, err := c.api.JSON(ctx, http.MethodPost, target, body, &item)
	if err != nil {
		return nil, transportError("createFolder", err)
	}
	if resp.Status == http.StatusConflict {
		return nil, ErrConflict
	}
	if !resp.OK() {
		return nil, apiError("createFolder", resp)
	}
	return &item, nil
}

// EnsureFolder resolves path segment by segment, creating what is missing.
// Losing a creation race to a concurrent request reuses the winner's folder.
// It is never retried.
func (c *Client) EnsureFolder(ctx context.Context, path string) (*DriveItem, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	var parent *DriveItem
	current := ""
	for _, segment := range segments {
		if segment == "" {
			return nil, apperrors.NewValidationError("Invalid folder path", fmt.Sprintf("%q has an empty segment", path))
		}
		if current == "" {
			current = segment
		} else {
			current += "/" + segment
		}

		item, err := c.ItemByPath(ctx, current)
		if errors.Is(err, ErrNotFound) {
			parentID := ""
			if parent != nil {
				parentID = parent.ID
			}
			item, err = c.CreateFolder(ctx, parentID, segment)
			if errors.Is(err, ErrConflict) {
				c.log.Debug("Folder created concurrently, reusing", map[string]interface{}{"path": current})
				item, err = c.ItemByPath(ctx, current)
			}
		}
		if err != nil {
			return nil, c.storageError("ensureFolder", err)
		}
		parent = item
	}
	return parent, nil
}

// Rename changes the name of an item in place.
func (c *Client) Rename(ctx context.Context, itemID, name string) (*DriveItem, error) {
	var item DriveItem
	resp, err := c.api.JSON(ctx, http.MethodPatch, c.drivePath("items/"+url.PathEscape(itemID)), map[string]string{"name": name}, &item)
	if err != nil {
		return nil, transportError("rename", err)
	}
	if resp.Status == http.StatusConflict {
		return nil, apperrors.NewStorageError("rename", resp.Status, "nameAlreadyExists", string(resp.Body), false, ErrConflict)
	}
	if !resp.OK() {
		return nil, apiError("rename", resp)
	}
	return &item, nil
}

// ==========================
// Uploads
// ==========================

// Upload stores data as fileName in folderID. Small files go in one PUT;
// larger ones through an upload session.
func (c *Client) Upload(ctx context.Context, folderID, fileName string, data []byte, conflict string) (*DriveItem, error) {
	if conflict == "" {
		conflict = ConflictReplace
	}
	if int64(len(data)) < c.opts.SimpleUploadMaxBytes {
		return c.simpleUpload(ctx, folderID, fileName, data, conflict)
	}
	return c.sessionUpload(ctx, folderID, fileName, data, conflict)
}

// UploadWithRetry retries Upload on retryable failures with exponential
// backoff.
func (c *Client) UploadWithRetry(ctx context.Context, folderID, fileName string, data []byte, conflict string) (*DriveItem, error) {
	policy := c.opts.Retry
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(policy, attempt-1)
			c.log.Warn("Retrying upload", map[string]interface{}{
				"fileName": fileName,
				"attempt":  attempt,
				"delayMs":  delay.Milliseconds(),
				"error":    lastErr.Error(),
			})
			if err := c.sleep(ctx, delay); err != nil {
				return nil, c.storageError("upload", err)
			}
		}

		item, err := c.Upload(ctx, folderID, fileName, data, conflict)
		if err == nil {
			return item, nil
		}
		lastErr = err
		if stdErr, ok := apperrors.AsStandard(err); ok && !stdErr.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

// Backoff is the delay before retry n (1-based): base * multiplier^(n-1).
func Backoff(p RetryPolicy, n int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1)))
}

func (c *Client) contentPath(folderID, fileName, suffix string) string {
	return c.drivePath("items/" + url.PathEscape(folderID) + ":/" + url.PathEscape(fileName) + ":/" + suffix)
}

func (c *Client) simpleUpload(ctx context.Context, folderID, fileName string, data []byte, conflict string) (*DriveItem, error) {
	resp, err := c.api.Send(ctx, commonhttp.Request{
		Method:      http.MethodPut,
		Path:        c.contentPath(folderID, fileName, "content") + "?@microsoft.graph.conflictBehavior=" + conflict,
		Body:        bytes.NewReader(data),
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return nil, transportError("upload", err)
	}
	if !resp.OK() {
		return nil, apiError("upload", resp)
	}
	return decodeItem(resp)
}

func (c *Client) sessionUpload(ctx context.Context, folderID, fileName string, data []byte, conflict string) (*DriveItem, error) {
	body := map[string]interface{}{
		"item": map[string]interface{}{"@microsoft.graph.conflictBehavior": conflict},
	}
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	resp, err := c.api.JSON(ctx, http.MethodPost, c.contentPath(folderID, fileName, "createUploadSession"), body, &session)
	if err != nil {
		return nil, transportError("createUploadSession", err)
	}
	if !resp.OK() {
		return nil, apiError("createUploadSession", resp)
	}

	total := int64(len(data))
	for start := int64(0); start < total; start += c.opts.ChunkSize {
		end := start + c.opts.ChunkSize
		if end > total {
			end = total
		}
		resp, err := c.putChunk(ctx, session.UploadURL, data[start:end], start, end-1, total)
		if err != nil {
			c.cancelSession(session.UploadURL)
			return nil, err
		}
		if resp.Status == http.StatusOK || resp.Status == http.StatusCreated {
			return decodeItem(resp)
		}
	}
	return nil, apperrors.NewStorageError("upload", 0, "", "", true, fmt.Errorf("upload session for %s ended without a completed item", fileName))
}

// putChunk sends one byte range, retrying it in place on transient failures.
func (c *Client) putChunk(ctx context.Context, uploadURL string, chunk []byte, first, last, total int64) (*commonhttp.Response, error) {
	contentRange := fmt.Sprintf("bytes %d-%d/%d", first, last, total)
	var lastErr error
	for attempt := 1; attempt <= chunkAttempts; attempt++ {
		resp, err := c.api.Send(ctx, commonhttp.Request{
			Method:    http.MethodPut,
			Path:      uploadURL,
			Body:      bytes.NewReader(chunk),
			Header:    http.Header{"Content-Range": []string{contentRange}},
			Anonymous: true,
		})
		switch {
		case err != nil:
			lastErr = transportError("uploadChunk", err)
		case resp.OK():
			return resp, nil
		default:
			lastErr = apiError("uploadChunk", resp)
		}
		if stdErr, ok := apperrors.AsStandard(lastErr); ok && !stdErr.Retryable {
			return nil, lastErr
		}
		if attempt == chunkAttempts {
			break
		}
		c.log.Warn("Retrying upload chunk", map[string]interface{}{"range": contentRange, "attempt": attempt})
		if err := c.sleep(ctx, Backoff(c.opts.Retry, attempt)); err != nil {
			return nil, c.storageError("uploadChunk", err)
		}
	}
	return nil, lastErr
}

// cancelSession releases the server-side session; failures are ignored.
func (c *Client) cancelSession(uploadURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = c.api.Send(ctx, commonhttp.Request{Method: http.MethodDelete, Path: uploadURL, Anonymous: true})
}

// ==========================
// Helpers
// ==========================

func decodeItem(resp *commonhttp.Response) (*DriveItem, error) {
	var item DriveItem
	if err := json.Unmarshal(resp.Body, &item); err != nil {
		return nil, apperrors.NewStorageError("upload", resp.Status, "", string(resp.Body), false, fmt.Errorf("decode drive item: %w", err))
	}
	return &item, nil
}

func (c *Client) storageError(op string, err error) error {
	if _, ok := apperrors.AsStandard(err); ok {
		return err
	}
	return apperrors.NewStorageError(op, 0, "", "", false, err)
}

func transportError(op string, err error) error {
	if _, ok := apperrors.AsStandard(err); ok {
		return err
	}
	return apperrors.NewStorageError(op, 0, "", "", true, err)
}

// apiError normalizes {"error":{"code","message"}}.
func apiError(op string, resp *commonhttp.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(resp.Body, &body)
	if resp.Status == http.StatusUnauthorized {
		return apperrors.NewAuthError("graph", resp.Status, string(resp.Body), fmt.Errorf("%s: %s", body.Error.Code, body.Error.Message))
	}
	return apperrors.NewStorageError(op, resp.Status, body.Error.Code, string(resp.Body),
		apperrors.IsTransientStatus(resp.Status), fmt.Errorf("%s", body.Error.Message))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
