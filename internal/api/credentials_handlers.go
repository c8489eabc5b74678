package api

import (
	"fmt"
	"net/http"
	"strings"

	"mediarelay/internal/observability/logging"
	"mediarelay/internal/stream"
)

type directUploadRequest struct {
	Filename       string `json:"filename"`
	ContentEntryID string `json:"contentEntryId"`
}

type directUploadResponse struct {
	Success   bool              `json:"success"`
	VideoID   string            `json:"videoId"`
	UploadURL string            `json:"uploadUrl"`
	LibraryID string            `json:"libraryId"`
	Headers   map[string]string `json:"headers"`
	Message   string            `json:"message"`
}

// DirectUploads issues push credentials so an admin client can transfer the
// bytes to the remote service itself. Only the create step runs here; the
// caller owns the byte push, and the reconciler watches whether it ever
// happens.
func (h *Handler) DirectUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	claims, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req directUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	filename := strings.TrimSpace(req.Filename)
	entryID := strings.TrimSpace(req.ContentEntryID)
	if filename == "" || entryID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("filename and contentEntryId are required"))
		return
	}

	if err := h.Stream.DirectUploadReady(); err != nil {
		writeServerError(w, "stream service not configured", err)
		return
	}

	logger := logging.WithContext(r.Context(), h.logger())
	title := stream.TitleFromFilename(filename)
	if title == "" {
		title = entryID
	}
	videoID, err := h.Stream.CreateVideo(r.Context(), title)
	if err != nil {
		logger.Error("remote video create failed", "filename", filename, "content_entry_id", entryID, "error", err)
		writeServerError(w, "upload to stream service failed", err)
		return
	}

	h.metrics().CredentialIssued()
	if h.Reconciler != nil {
		h.Reconciler.Watch(videoID)
	}
	logger.Info("direct upload credentials issued",
		"video_id", videoID, "content_entry_id", entryID, "admin", claims.UserID)

	writeJSON(w, http.StatusOK, directUploadResponse{
		Success:   true,
		VideoID:   videoID,
		UploadURL: h.Stream.UploadURL(videoID),
		LibraryID: h.Stream.LibraryID(),
		Headers: map[string]string{
			"AccessKey":    h.Stream.AccessKey(),
			"Content-Type": "application/octet-stream",
		},
		Message: "Upload the file directly to this URL using PUT",
	})
}
