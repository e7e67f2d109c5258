// Package graphtest provides an in-memory Microsoft Graph drive served over
// httptest for exercising the graph client and the storage layer.
package graphtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const RootID = "root"

type Item struct {
	ID       string
	Name     string
	ParentID string
	Folder   bool
	Content  []byte
}

type uploadSession struct {
	parentID string
	name     string
	conflict string
	buf      []byte
}

// Drive is a fake drive. Fields prefixed with Fail inject errors and are
// consumed as they fire.
type Drive struct {
	Server  *httptest.Server
	DriveID string

	mu       sync.Mutex
	items    map[string]*Item
	sessions map[string]*uploadSession
	nextID   int

	// Ranges records every Content-Range received by upload sessions.
	Ranges []string
	// Requests records "METHOD path" for every call.
	Requests []string

	FailChunks       int
	FailSimplePuts   int
	FailSimpleStatus int
	// BeforeCreate runs before a folder is created; returning true makes the
	// create lose a race to an identical folder created first.
	BeforeCreate func(parentID, name string) bool
}

func NewDrive(driveID string) *Drive {
	d := &Drive{
		DriveID:  driveID,
		items:    map[string]*Item{RootID: {ID: RootID, Folder: true}},
		sessions: make(map[string]*uploadSession),
	}
	d.Server = httptest.NewServer(http.HandlerFunc(d.serve))
	return d
}

// BaseURL is the Graph API root to configure the client with.
func (d *Drive) BaseURL() string { return d.Server.URL + "/v1.0" }

func (d *Drive) Close() { d.Server.Close() }

// ==========================
// Inspection
// ==========================

// Lookup resolves a slash-separated path below the root.
func (d *Drive) Lookup(path string) (*Item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	it := d.resolve(path)
	if it == nil {
		return nil, false
	}
	cp := *it
	return &cp, true
}

// Children lists the names below a path, sorted.
func (d *Drive) Children(path string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := d.resolve(path)
	if parent == nil {
		return nil
	}
	var names []string
	for _, it := range d.items {
		if it.ParentID == parent.ID {
			names = append(names, it.Name)
		}
	}
	sort.Strings(names)
	return names
}

// MkdirAll creates a folder path directly, bypassing the API.
func (d *Drive) MkdirAll(path string) *Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := d.items[RootID]
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		child := d.child(parent.ID, seg)
		if child == nil {
			child = d.add(parent.ID, seg, true, nil)
		}
		parent = child
	}
	return parent
}

// CountRequests counts recorded requests starting with prefix.
func (d *Drive) CountRequests(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.Requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (d *Drive) resolve(path string) *Item {
	cur := d.items[RootID]
	path = strings.Trim(path, "/")
	if path == "" {
		return cur
	}
	for _, seg := range strings.Split(path, "/") {
		cur = d.child(cur.ID, seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (d *Drive) child(parentID, name string) *Item {
	for _, it := range d.items {
		if it.ParentID == parentID && strings.EqualFold(it.Name, name) && it.ID != RootID {
			return it
		}
	}
	return nil
}

func (d *Drive) add(parentID, name string, folder bool, content []byte) *Item {
	d.nextID++
	it := &Item{ID: fmt.Sprintf("item-%d", d.nextID), Name: name, ParentID: parentID, Folder: folder, Content: content}
	d.items[it.ID] = it
	return it
}

// ==========================
// HTTP handling
// ==========================

func (d *Drive) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Requests = append(d.Requests, r.Method+" "+r.URL.Path)

	if strings.HasPrefix(r.URL.Path, "/upload/") {
		d.serveUpload(w, r, strings.TrimPrefix(r.URL.Path, "/upload/"))
		return
	}

	prefix := "/v1.0/drives/" + d.DriveID + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "itemNotFound", "unknown drive")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	switch {
	case strings.HasPrefix(rest, "root:/") && r.Method == http.MethodGet:
		it := d.resolve(strings.TrimPrefix(rest, "root:/"))
		if it == nil {
			writeError(w, http.StatusNotFound, "itemNotFound", "The resource could not be found.")
			return
		}
		writeItem(w, http.StatusOK, it)
	case rest == "root/children" && r.Method == http.MethodPost:
		d.createFolder(w, r, RootID)
	case strings.HasPrefix(rest, "items/"):
		d.serveItem(w, r, strings.TrimPrefix(rest, "items/"))
	default:
		writeError(w, http.StatusBadRequest, "invalidRequest", "unsupported route "+rest)
	}
}

func (d *Drive) serveItem(w http.ResponseWriter, r *http.Request, rest string) {
	if idx := strings.Index(rest, ":/"); idx >= 0 {
		parentID := rest[:idx]
		tail := strings.TrimPrefix(rest[idx:], ":/")
		sep := strings.LastIndex(tail, ":/")
		if sep < 0 {
			writeError(w, http.StatusBadRequest, "invalidRequest", "bad content path")
			return
		}
		name, action := tail[:sep], tail[sep+2:]
		switch {
		case action == "content" && r.Method == http.MethodPut:
			d.simplePut(w, r, parentID, name)
		case action == "createUploadSession" && r.Method == http.MethodPost:
			d.createSession(w, r, parentID, name)
		default:
			writeError(w, http.StatusBadRequest, "invalidRequest", "unsupported action "+action)
		}
		return
	}

	id := rest
	if strings.HasSuffix(rest, "/children") {
		id = strings.TrimSuffix(rest, "/children")
		if _, ok := d.items[id]; !ok {
			writeError(w, http.StatusNotFound, "itemNotFound", "parent missing")
			return
		}
		if r.Method == http.MethodPost {
			d.createFolder(w, r, id)
			return
		}
		var values []map[string]interface{}
		for _, it := range d.sortedChildren(id) {
			values = append(values, itemJSON(it))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"value": values})
		return
	}

	it, ok := d.items[id]
	if !ok {
		writeError(w, http.StatusNotFound, "itemNotFound", "item missing")
		return
	}
	if r.Method != http.MethodPatch {
		writeItem(w, http.StatusOK, it)
		return
	}
	var patch struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&patch)
	if other := d.child(it.ParentID, patch.Name); other != nil && other.ID != it.ID {
		writeError(w, http.StatusConflict, "nameAlreadyExists", "name taken")
		return
	}
	it.Name = patch.Name
	writeItem(w, http.StatusOK, it)
}

func (d *Drive) sortedChildren(parentID string) []*Item {
	var out []*Item
	for _, it := range d.items {
		if it.ParentID == parentID && it.ID != RootID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Drive) createFolder(w http.ResponseWriter, r *http.Request, parentID string) {
	var body struct {
		Name     string `json:"name"`
		Conflict string `json:"@microsoft.graph.conflictBehavior"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if d.BeforeCreate != nil && d.BeforeCreate(parentID, body.Name) {
		if d.child(parentID, body.Name) == nil {
			d.add(parentID, body.Name, true, nil)
		}
	}
	if d.child(parentID, body.Name) != nil {
		writeError(w, http.StatusConflict, "nameAlreadyExists", "An item with the same name already exists.")
		return
	}
	writeItem(w, http.StatusCreated, d.add(parentID, body.Name, true, nil))
}

func (d *Drive) simplePut(w http.ResponseWriter, r *http.Request, parentID, name string) {
	if d.FailSimplePuts > 0 {
		d.FailSimplePuts--
		status := d.FailSimpleStatus
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "serviceNotAvailable", "try later")
		return
	}
	content, _ := io.ReadAll(r.Body)
	it, status := d.store(parentID, name, r.URL.Query().Get("@microsoft.graph.conflictBehavior"), content)
	if it == nil {
		writeError(w, status, "nameAlreadyExists", "file exists")
		return
	}
	writeItem(w, status, it)
}

func (d *Drive) store(parentID, name, conflict string, content []byte) (*Item, int) {
	if existing := d.child(parentID, name); existing != nil {
		if conflict == "fail" {
			return nil, http.StatusConflict
		}
		existing.Content = content
		return existing, http.StatusOK
	}
	return d.add(parentID, name, false, content), http.StatusCreated
}

func (d *Drive) createSession(w http.ResponseWriter, r *http.Request, parentID, name string) {
	var body struct {
		Item struct {
			Conflict string `json:"@microsoft.graph.conflictBehavior"`
		} `json:"item"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Item.Conflict == "fail" && d.child(parentID, name) != nil {
		writeError(w, http.StatusConflict, "nameAlreadyExists", "file exists")
		return
	}
	d.nextID++
	id := fmt.Sprintf("session-%d", d.nextID)
	d.sessions[id] = &uploadSession{parentID: parentID, name: name, conflict: body.Item.Conflict}
	writeJSON(w, http.StatusOK, map[string]string{"uploadUrl": d.Server.URL + "/upload/" + id})
}

func (d *Drive) serveUpload(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := d.sessions[id]
	if !ok {
		writeError(w, http.StatusNotFound, "itemNotFound", "session expired")
		return
	}
	if r.Method == http.MethodDelete {
		delete(d.sessions, id)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Header.Get("Authorization") != "" {
		writeError(w, http.StatusBadRequest, "invalidRequest", "upload URLs are pre-authorized")
		return
	}

	contentRange := r.Header.Get("Content-Range")
	d.Ranges = append(d.Ranges, contentRange)
	if d.FailChunks > 0 {
		d.FailChunks--
		writeError(w, http.StatusServiceUnavailable, "serviceNotAvailable", "chunk dropped")
		return
	}

	first, last, total, err := parseRange(contentRange)
	if err != nil || first != int64(len(s.buf)) {
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalidRange", "unexpected range "+contentRange)
		return
	}
	chunk, _ := io.ReadAll(r.Body)
	if int64(len(chunk)) != last-first+1 {
		writeError(w, http.StatusBadRequest, "invalidRange", "length mismatch")
		return
	}
	s.buf = append(s.buf, chunk...)
	if int64(len(s.buf)) < total {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"nextExpectedRanges": []string{strconv.FormatInt(last+1, 10) + "-"},
		})
		return
	}

	delete(d.sessions, id)
	it, status := d.store(s.parentID, s.name, s.conflict, s.buf)
	if it == nil {
		writeError(w, status, "nameAlreadyExists", "file exists")
		return
	}
	writeItem(w, status, it)
}

func parseRange(v string) (first, last, total int64, err error) {
	_, err = fmt.Sscanf(v, "bytes %d-%d/%d", &first, &last, &total)
	return
}

func itemJSON(it *Item) map[string]interface{} {
	out := map[string]interface{}{
		"id":              it.ID,
		"name":            it.Name,
		"size":            len(it.Content),
		"webUrl":          "https://tenant.sharepoint.com/" + it.ID,
		"parentReference": map[string]string{"id": it.ParentID},
	}
	if it.Folder {
		out["folder"] = map[string]int{"childCount": 0}
	}
	return out
}

func writeItem(w http.ResponseWriter, status int, it *Item) {
	writeJSON(w, status, itemJSON(it))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": code, "message": message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
