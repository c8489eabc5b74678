// Package streamstub hosts a fake of the remote video service for handler
// and client tests: create, upload, and status endpoints with optional
// failure injection, recording every interaction for assertions.
package streamstub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Options describes how the fake video service should behave.
type Options struct {
	// LibraryID restricts requests to one library path. If empty, any
	// library is accepted.
	LibraryID string

	// AccessKey is the credential the stub enforces on every request. If
	// empty, the check is skipped.
	AccessKey string

	// VideoIDs are the identifiers handed out by successive create calls.
	// When exhausted (or empty) the stub generates video-0001, video-0002...
	VideoIDs []string

	// FailCreates causes the first N create requests to return HTTP 500.
	FailCreates int

	// EmptyIDCreates causes the first N non-failed create responses to carry
	// an empty identifier, violating the create/transfer contract.
	EmptyIDCreates int

	// FailUploads causes the first N byte uploads to return HTTP 500.
	FailUploads int

	// FailStatus causes the first N status requests to return HTTP 500.
	FailStatus int

	// StatusSequence holds the processing states returned by successive
	// status calls; the last entry repeats. Defaults to 4 (finished).
	StatusSequence []int
}

// Operation represents one recorded exchange with the stub.
type Operation struct {
	Kind         string
	VideoID      string
	Title        string
	CollectionID string
	ContentType  string
	Bytes        int64
	Attempt      int
	Status       int
	Timestamp    time.Time
}

// VideoService hosts a single httptest.Server that serves all video
// endpoints.
type VideoService struct {
	server *httptest.Server
	opts   Options

	mu             sync.Mutex
	operations     []Operation
	createAttempts int
	emptyIssued    int
	uploadAttempts int
	statusAttempts int
	statusCalls    int
	nextID         int
}

// Start spins up a new video-service stub using the provided options.
func Start(opts Options) *VideoService {
	vs := &VideoService{opts: opts}
	vs.server = httptest.NewServer(http.HandlerFunc(vs.handle))
	return vs
}

// Close shuts down the underlying HTTP server.
func (v *VideoService) Close() {
	if v.server != nil {
		v.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all video endpoints.
func (v *VideoService) BaseURL() string {
	return v.server.URL
}

// Operations returns a copy of all recorded operations in order.
func (v *VideoService) Operations() []Operation {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Operation, len(v.operations))
	copy(out, v.operations)
	return out
}

// OperationsOfKind filters recorded operations by kind.
func (v *VideoService) OperationsOfKind(kind string) []Operation {
	all := v.Operations()
	out := make([]Operation, 0, len(all))
	for _, op := range all {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (v *VideoService) handle(w http.ResponseWriter, r *http.Request) {
	if !v.expectAccessKey(w, r) {
		return
	}

	library, videoID, ok := splitVideoPath(r.URL.Path)
	if !ok {
		http.Error(w, "unexpected request", http.StatusNotFound)
		return
	}
	if v.opts.LibraryID != "" && library != v.opts.LibraryID {
		http.Error(w, "unknown library", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodPost && videoID == "":
		v.handleCreate(w, r)
	case r.Method == http.MethodPut && videoID != "":
		v.handleUpload(w, r, videoID)
	case r.Method == http.MethodGet && videoID != "":
		v.handleStatus(w, videoID)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (v *VideoService) handleCreate(w http.ResponseWriter, r *http.Request) {
	type createRequest struct {
		Title        string `json:"title"`
		CollectionID string `json:"collectionId"`
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	v.mu.Lock()
	v.createAttempts++
	attempt := v.createAttempts
	v.mu.Unlock()

	op := Operation{
		Kind:         "video-create",
		Title:        req.Title,
		CollectionID: req.CollectionID,
		Attempt:      attempt,
		Status:       http.StatusOK,
	}

	if attempt <= v.opts.FailCreates {
		op.Status = http.StatusInternalServerError
		v.record(op)
		http.Error(w, "video service unavailable", http.StatusInternalServerError)
		return
	}

	id := ""
	v.mu.Lock()
	if v.emptyIssued < v.opts.EmptyIDCreates {
		v.emptyIssued++
	} else {
		id = v.issueIDLocked()
	}
	v.mu.Unlock()

	op.VideoID = id
	v.record(op)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"guid": id})
}

func (v *VideoService) handleUpload(w http.ResponseWriter, r *http.Request, videoID string) {
	size, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusInternalServerError)
		return
	}

	v.mu.Lock()
	v.uploadAttempts++
	attempt := v.uploadAttempts
	v.mu.Unlock()

	op := Operation{
		Kind:        "video-upload",
		VideoID:     videoID,
		ContentType: r.Header.Get("Content-Type"),
		Bytes:       size,
		Attempt:     attempt,
		Status:      http.StatusOK,
	}

	if attempt <= v.opts.FailUploads {
		op.Status = http.StatusInternalServerError
		v.record(op)
		http.Error(w, "upload rejected", http.StatusInternalServerError)
		return
	}

	v.record(op)
	w.WriteHeader(http.StatusOK)
}

func (v *VideoService) handleStatus(w http.ResponseWriter, videoID string) {
	v.mu.Lock()
	v.statusAttempts++
	attempt := v.statusAttempts
	status := 4
	if len(v.opts.StatusSequence) > 0 {
		idx := v.statusCalls
		if idx >= len(v.opts.StatusSequence) {
			idx = len(v.opts.StatusSequence) - 1
		}
		status = v.opts.StatusSequence[idx]
		v.statusCalls++
	}
	v.mu.Unlock()

	op := Operation{
		Kind:    "video-status",
		VideoID: videoID,
		Attempt: attempt,
		Status:  http.StatusOK,
	}

	if attempt <= v.opts.FailStatus {
		op.Status = http.StatusInternalServerError
		v.record(op)
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}

	v.record(op)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"guid":   videoID,
		"title":  "stub video",
		"status": status,
	})
}

func (v *VideoService) issueIDLocked() string {
	if v.nextID < len(v.opts.VideoIDs) {
		id := v.opts.VideoIDs[v.nextID]
		v.nextID++
		return id
	}
	v.nextID++
	return fmt.Sprintf("video-%04d", v.nextID)
}

func (v *VideoService) record(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.operations = append(v.operations, op)
}

func (v *VideoService) expectAccessKey(w http.ResponseWriter, r *http.Request) bool {
	expected := strings.TrimSpace(v.opts.AccessKey)
	if expected == "" {
		return true
	}
	if r.Header.Get("AccessKey") != expected {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// splitVideoPath parses /library/{lib}/videos and
// /library/{lib}/videos/{id}. The returned videoID is empty for the
// collection path.
func splitVideoPath(path string) (library, videoID string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "library" || parts[2] != "videos" {
		return "", "", false
	}
	switch len(parts) {
	case 3:
		return parts[1], "", true
	case 4:
		return parts[1], parts[3], true
	default:
		return "", "", false
	}
}
