package api

import (
	"log/slog"
	"net/http"

	"mediarelay/internal/auth"
	"mediarelay/internal/observability/metrics"
	"mediarelay/internal/staging"
	"mediarelay/internal/stream"
)

// Handler bundles the dependencies behind the relay's HTTP surface. Stream,
// Staging, and Tokens are required; the remaining fields default when unset.
type Handler struct {
	Stream         *stream.Client
	Staging        *staging.Manager
	Tokens         *auth.Verifier
	Reconciler     *Reconciler
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
	MaxUploadBytes int64
}

func NewHandler(streamClient *stream.Client, stagingManager *staging.Manager, tokens *auth.Verifier) *Handler {
	return &Handler{
		Stream:  streamClient,
		Staging: stagingManager,
		Tokens:  tokens,
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

func (h *Handler) uploadLimit() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

type healthService struct {
	Component string `json:"component"`
	Status    string `json:"status"`
}

// Health reports process liveness plus the state of the two dependencies an
// upload needs: a writable staging directory and complete stream settings.
// Degraded dependencies flip the status field but keep the 200; liveness is
// process-level.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	services := make([]healthService, 0, 2)

	stagingStatus := "ok"
	if h.Staging == nil {
		stagingStatus = "disabled"
	} else if err := h.Staging.Writable(); err != nil {
		stagingStatus = "error"
	}
	services = append(services, healthService{Component: "staging", Status: stagingStatus})

	streamStatus := "ok"
	if h.Stream == nil {
		streamStatus = "disabled"
	} else if err := h.Stream.DirectUploadReady(); err != nil {
		streamStatus = "degraded"
	}
	services = append(services, healthService{Component: "stream", Status: streamStatus})

	status := "ok"
	for _, service := range services {
		switch service.Status {
		case "ok", "disabled":
			continue
		default:
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}
