package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/semaphore"
)

// Remote processing states reported by the video service.
const (
	StatusCreated      = 0
	StatusUploaded     = 1
	StatusProcessing   = 2
	StatusTranscoding  = 3
	StatusFinished     = 4
	StatusError        = 5
	StatusUploadFailed = 6
)

// Client performs the two-step video push and status lookups against the
// remote video service. At most MaxConcurrentPushes byte transfers run at a
// time; control-plane calls are not throttled.
type Client struct {
	config     Config
	http       *http.Client
	uploadHTTP *http.Client
	sem        *semaphore.Weighted
	logger     *slog.Logger
}

type createVideoRequest struct {
	Title        string `json:"title"`
	CollectionID string `json:"collectionId,omitempty"`
}

type createVideoResponse struct {
	GUID string `json:"guid"`
}

type videoStatusResponse struct {
	GUID   string `json:"guid"`
	Title  string `json:"title"`
	Status int    `json:"status"`
}

// VideoStatus captures the remote state of a stored video.
type VideoStatus struct {
	ID     string
	Title  string
	Status int
}

// Terminal reports whether the remote side will not advance the video any
// further, successfully or otherwise.
func (s VideoStatus) Terminal() bool {
	switch s.Status {
	case StatusFinished, StatusError, StatusUploadFailed:
		return true
	}
	return false
}

// Succeeded reports whether the video reached a playable state.
func (s VideoStatus) Succeeded() bool {
	return s.Status == StatusFinished
}

// CreateVideo registers a new entry under the configured library and returns
// the identifier assigned by the remote service. A 2xx response without an
// identifier is a protocol error; callers must not transfer bytes without
// one.
func (c *Client) CreateVideo(ctx context.Context, title string) (string, error) {
	payload := createVideoRequest{Title: title, CollectionID: c.config.CollectionID}
	var response createVideoResponse
	if err := c.post(ctx, c.videosURL(), payload, &response); err != nil {
		return "", err
	}
	id := strings.TrimSpace(response.GUID)
	if id == "" {
		return "", &ProtocolError{Op: "create video", Detail: "response missing video id"}
	}
	c.logger.Debug("video entry created", "video_id", id)
	return id, nil
}

// UploadVideo streams the raw bytes of an already-created entry with a single
// PUT. On failure the remote entry is left as-is; the caller owns logging the
// orphaned identifier.
func (c *Client) UploadVideo(ctx context.Context, videoID string, body io.Reader, size int64) error {
	if strings.TrimSpace(videoID) == "" {
		return &ProtocolError{Op: "upload video", Detail: "video id is required"}
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire upload slot: %w", err)
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.UploadURL(videoID), body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("AccessKey", c.config.AccessKey)
	req.Header.Set("Content-Type", "application/octet-stream")
	if size > 0 {
		req.ContentLength = size
	}

	resp, err := c.uploadHTTP.Do(req)
	if err != nil {
		return &ProtocolError{Op: "upload video", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProtocolError{Op: "upload video", Status: resp.StatusCode, Detail: readErrorBody(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("video bytes pushed", "video_id", videoID, "bytes", size)
	return nil
}

// Video fetches the remote processing state of a stored video.
func (c *Client) Video(ctx context.Context, videoID string) (VideoStatus, error) {
	if strings.TrimSpace(videoID) == "" {
		return VideoStatus{}, &ProtocolError{Op: "get video", Detail: "video id is required"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.videoURL(videoID), nil)
	if err != nil {
		return VideoStatus{}, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("AccessKey", c.config.AccessKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return VideoStatus{}, &ProtocolError{Op: "get video", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return VideoStatus{}, &ProtocolError{Op: "get video", Status: resp.StatusCode, Detail: readErrorBody(resp.Body)}
	}

	var response videoStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return VideoStatus{}, &ProtocolError{Op: "get video", Detail: fmt.Sprintf("decode response: %v", err)}
	}
	return VideoStatus{ID: response.GUID, Title: response.Title, Status: response.Status}, nil
}

// LibraryID exposes the configured library identifier for response shaping.
func (c *Client) LibraryID() string {
	return c.config.LibraryID
}

// AccessKey exposes the raw service key handed to direct uploaders.
func (c *Client) AccessKey() string {
	return c.config.AccessKey
}

// UploadURL returns the address a PUT of raw bytes for the given video must
// target.
func (c *Client) UploadURL(videoID string) string {
	return c.videoURL(videoID)
}

// EmbedURL returns the iframe embed address for a stored video.
func (c *Client) EmbedURL(videoID string) string {
	return EmbedURL(c.config.PlaybackHost, c.config.LibraryID, videoID)
}

// PlayURL returns the hosted player address for a stored video.
func (c *Client) PlayURL(videoID string) string {
	return PlayURL(c.config.PlaybackHost, c.config.LibraryID, videoID)
}

// DirectUploadReady reports whether the configuration carries everything the
// credential issuer hands out.
func (c *Client) DirectUploadReady() error {
	if missing := c.config.missingDirectUploadFields(); len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

func (c *Client) post(ctx context.Context, target string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("AccessKey", c.config.AccessKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProtocolError{Op: "create video", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProtocolError{Op: "create video", Status: resp.StatusCode, Detail: readErrorBody(resp.Body)}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &ProtocolError{Op: "create video", Detail: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func (c *Client) videosURL() string {
	return fmt.Sprintf("%s/library/%s/videos", strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(c.config.LibraryID))
}

func (c *Client) videoURL(videoID string) string {
	return fmt.Sprintf("%s/%s", c.videosURL(), url.PathEscape(videoID))
}

func readErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	return strings.TrimSpace(string(data))
}
