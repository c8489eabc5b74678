package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"mediarelay/internal/observability/logging"
	"mediarelay/internal/observability/metrics"
	"mediarelay/internal/staging"
	"mediarelay/internal/stream"
)

// DefaultMaxUploadBytes caps relayed files when no explicit limit is
// configured.
const DefaultMaxUploadBytes int64 = 5 << 30

// uploadPartName is the multipart field the video bytes must arrive under.
const uploadPartName = "video"

var allowedExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".avi":  {},
	".mkv":  {},
	".webm": {},
	".flv":  {},
	".mpeg": {},
	".mpg":  {},
}

var allowedMIMETypes = map[string]struct{}{
	"video/mp4":        {},
	"video/quicktime":  {},
	"video/x-msvideo":  {},
	"video/x-matroska": {},
	"video/webm":       {},
	"video/x-flv":      {},
	"video/mpeg":       {},
}

// allowedTypeList is the client-facing form of the extension allow-list.
var allowedTypeList = []string{"mp4", "mov", "avi", "mkv", "webm", "flv", "mpeg", "mpg"}

type uploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	PlayURL string `json:"playUrl"`
	VideoID string `json:"videoId"`
	Message string `json:"message"`
}

// uploadedMedia carries a staged file plus the declared metadata the
// post-receipt re-check needs.
type uploadedMedia struct {
	staged      *staging.Staged
	filename    string
	contentType string
}

// Uploads relays one multipart video to the remote service: gate on headers,
// stage to disk, re-check the staged artifact, then create-and-push. The
// staged file is discarded on every exit path.
func (h *Handler) Uploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	h.metrics().UploadStarted()
	defer h.metrics().UploadFinished()

	media, ok := h.receiveUpload(w, r)
	if !ok {
		return
	}
	defer h.discardStaged(r, media.staged)

	if !h.recheckUpload(w, media) {
		return
	}
	h.relayUpload(w, r, media)
}

// receiveUpload streams the multipart body through the gatekeeper. The part
// policy is fail-closed: the body must contain exactly one part, a file named
// after uploadPartName; anything else aborts before or during staging.
func (h *Handler) receiveUpload(w http.ResponseWriter, r *http.Request) (*uploadedMedia, bool) {
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("request body must be multipart/form-data"))
		return nil, false
	}

	var media *uploadedMedia
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if media != nil {
				h.discardStaged(r, media.staged)
			}
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return nil, false
		}

		name := part.FormName()
		filename := part.FileName()
		if name != uploadPartName || filename == "" {
			_ = part.Close()
			if media != nil {
				h.discardStaged(r, media.staged)
			}
			writeError(w, http.StatusBadRequest, fmt.Errorf("unexpected form field %q", name))
			return nil, false
		}
		if media != nil {
			_ = part.Close()
			h.discardStaged(r, media.staged)
			writeError(w, http.StatusBadRequest, fmt.Errorf("exactly one %s file part is allowed", uploadPartName))
			return nil, false
		}

		contentType := strings.TrimSpace(part.Header.Get("Content-Type"))
		if err := checkUploadType(filename, contentType); err != nil {
			_ = part.Close()
			h.metrics().ObserveUpload(metrics.UploadRejectedType, 0)
			writeTypeError(w, err, allowedTypeList)
			return nil, false
		}

		staged, stageErr := h.Staging.Stage(part, h.uploadLimit())
		_ = part.Close()
		if stageErr != nil {
			h.rejectStagingFailure(w, stageErr)
			return nil, false
		}
		media = &uploadedMedia{staged: staged, filename: filename, contentType: contentType}
	}

	if media == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("a %s file part is required", uploadPartName))
		return nil, false
	}
	return media, true
}

// checkUploadType enforces the extension allow-list and, when a MIME type was
// declared, the MIME allow-list. An absent content type is not a rejection.
func checkUploadType(filename, contentType string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("file extension %q is not allowed", ext)
	}
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("unparsable content type %q", contentType)
	}
	if _, ok := allowedMIMETypes[strings.ToLower(mediaType)]; !ok {
		return fmt.Errorf("content type %s is not allowed", mediaType)
	}
	return nil
}

func (h *Handler) rejectStagingFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, staging.ErrTooLarge):
		h.metrics().ObserveUpload(metrics.UploadRejectedSize, 0)
		writeError(w, http.StatusBadRequest, fmt.Errorf("file exceeds the maximum upload size of %d bytes", h.uploadLimit()))
	case errors.Is(err, staging.ErrEmpty):
		h.metrics().ObserveUpload(metrics.UploadRejectedEmpty, 0)
		writeError(w, http.StatusBadRequest, staging.ErrEmpty)
	default:
		writeServerError(w, "staging upload failed", err)
	}
}

// recheckUpload re-runs the gate on the staged artifact. The pre-stream
// filter sees only part headers; this check decides, so a header/file
// mismatch never admits a disallowed upload.
func (h *Handler) recheckUpload(w http.ResponseWriter, media *uploadedMedia) bool {
	if err := checkUploadType(media.filename, media.contentType); err != nil {
		h.metrics().ObserveUpload(metrics.UploadRejectedType, media.staged.Size)
		writeTypeError(w, err, allowedTypeList)
		return false
	}
	if media.staged.Size <= 0 {
		h.metrics().ObserveUpload(metrics.UploadRejectedEmpty, 0)
		writeError(w, http.StatusBadRequest, staging.ErrEmpty)
		return false
	}
	if limit := h.uploadLimit(); media.staged.Size > limit {
		h.metrics().ObserveUpload(metrics.UploadRejectedSize, media.staged.Size)
		writeError(w, http.StatusBadRequest, fmt.Errorf("file exceeds the maximum upload size of %d bytes", limit))
		return false
	}
	h.metrics().ObserveUpload(metrics.UploadAccepted, media.staged.Size)
	return true
}

// relayUpload performs the two-step remote push. A create failure stops the
// transfer; a transfer failure leaves the created entry behind as an orphan,
// which is recorded but never deleted from here.
func (h *Handler) relayUpload(w http.ResponseWriter, r *http.Request, media *uploadedMedia) {
	ctx := logging.ContextWithUploadID(r.Context(), media.staged.ID)
	logger := logging.WithContext(ctx, h.logger())

	title := stream.TitleFromFilename(media.filename)
	if title == "" {
		title = media.staged.ID
	}
	videoID, err := h.Stream.CreateVideo(ctx, title)
	if err != nil {
		h.metrics().ObserveUpload(metrics.UploadRemoteFailed, media.staged.Size)
		logger.Error("remote video create failed", "filename", media.filename, "error", err)
		writeServerError(w, "upload to stream service failed", err)
		return
	}

	file, err := h.Staging.Open(media.staged)
	if err != nil {
		// The remote entry now exists with no bytes behind it. Deleting it is
		// the host's operation, not ours; record the orphan and report.
		h.metrics().ObserveUpload(metrics.UploadRemoteFailed, media.staged.Size)
		h.metrics().OrphanRecorded()
		logger.Error("staged file unreadable after remote create", "video_id", videoID, "error", err)
		writeServerError(w, "staged upload unavailable", err)
		return
	}
	defer file.Close()

	if err := h.Stream.UploadVideo(ctx, videoID, file, media.staged.Size); err != nil {
		h.metrics().ObserveUpload(metrics.UploadRemoteFailed, media.staged.Size)
		h.metrics().OrphanRecorded()
		logger.Error("remote byte push failed, entry orphaned", "video_id", videoID, "size_bytes", media.staged.Size, "error", err)
		writeServerError(w, "upload to stream service failed", err)
		return
	}

	h.metrics().ObserveUpload(metrics.UploadSucceeded, media.staged.Size)
	logger.Info("upload relayed", "video_id", videoID, "title", title, "size_bytes", media.staged.Size)

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		URL:     h.Stream.EmbedURL(videoID),
		PlayURL: h.Stream.PlayURL(videoID),
		VideoID: videoID,
		Message: "Video uploaded successfully",
	})
}

func (h *Handler) discardStaged(r *http.Request, staged *staging.Staged) {
	if staged == nil {
		return
	}
	if err := h.Staging.Remove(staged); err != nil {
		logging.WithContext(r.Context(), h.logger()).Warn("staging cleanup failed", "path", staged.Path, "error", err)
	}
}
