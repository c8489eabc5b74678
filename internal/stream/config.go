package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultBaseURL             = "https://video.bunnycdn.com"
	defaultPlaybackHost        = "iframe.mediadelivery.net"
	defaultRequestTimeout      = 15 * time.Second
	defaultUploadTimeout       = 2 * time.Hour
	defaultMaxConcurrentPushes = 4
)

// Config stores connectivity information for the remote video service.
type Config struct {
	BaseURL             string
	LibraryID           string
	AccessKey           string
	CollectionID        string
	PlaybackHost        string
	RequestTimeout      time.Duration
	UploadTimeout       time.Duration
	MaxConcurrentPushes int64
	HTTPClient          *http.Client
}

// LoadConfigFromEnv initialises a Config from environment variables, applying
// defaults for everything unset. Completeness is checked by NewClient, so
// callers may still override individual fields first.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:             strings.TrimSpace(os.Getenv("MEDIARELAY_STREAM_BASE_URL")),
		LibraryID:           strings.TrimSpace(os.Getenv("MEDIARELAY_STREAM_LIBRARY_ID")),
		AccessKey:           strings.TrimSpace(os.Getenv("MEDIARELAY_STREAM_ACCESS_KEY")),
		CollectionID:        strings.TrimSpace(os.Getenv("MEDIARELAY_STREAM_COLLECTION_ID")),
		PlaybackHost:        strings.TrimSpace(os.Getenv("MEDIARELAY_PLAYBACK_HOST")),
		RequestTimeout:      defaultRequestTimeout,
		UploadTimeout:       defaultUploadTimeout,
		MaxConcurrentPushes: defaultMaxConcurrentPushes,
	}

	if timeout := strings.TrimSpace(os.Getenv("MEDIARELAY_STREAM_REQUEST_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEDIARELAY_STREAM_REQUEST_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.RequestTimeout = parsed
		}
	}

	if timeout := strings.TrimSpace(os.Getenv("MEDIARELAY_STREAM_UPLOAD_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEDIARELAY_STREAM_UPLOAD_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.UploadTimeout = parsed
		}
	}

	if pushes := strings.TrimSpace(os.Getenv("MEDIARELAY_STREAM_MAX_PUSHES")); pushes != "" {
		parsed, err := strconv.ParseInt(pushes, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEDIARELAY_STREAM_MAX_PUSHES: %w", err)
		}
		if parsed > 0 {
			cfg.MaxConcurrentPushes = parsed
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PlaybackHost == "" {
		cfg.PlaybackHost = defaultPlaybackHost
	}

	return cfg, nil
}

// Validate ensures the configuration can reach the remote video service.
func (c Config) Validate() error {
	if missing := c.missingRequiredFields(); len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	if c.UploadTimeout < 0 {
		return fmt.Errorf("upload timeout cannot be negative")
	}
	if c.MaxConcurrentPushes <= 0 {
		return fmt.Errorf("max concurrent pushes must be positive")
	}
	return nil
}

func (c Config) missingRequiredFields() []string {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(c.BaseURL) == "" {
		missing = append(missing, "MEDIARELAY_STREAM_BASE_URL")
	}
	if strings.TrimSpace(c.LibraryID) == "" {
		missing = append(missing, "MEDIARELAY_STREAM_LIBRARY_ID")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		missing = append(missing, "MEDIARELAY_STREAM_ACCESS_KEY")
	}
	return missing
}

// missingDirectUploadFields reports the configuration the credential issuer
// needs beyond the relay path.
func (c Config) missingDirectUploadFields() []string {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(c.CollectionID) == "" {
		missing = append(missing, "MEDIARELAY_STREAM_COLLECTION_ID")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		missing = append(missing, "MEDIARELAY_STREAM_ACCESS_KEY")
	}
	return missing
}

// NewClient constructs a Client backed by the remote HTTP API.
func (c Config) NewClient(logger *slog.Logger) (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	client := &Client{config: c}
	client.http = c.HTTPClient
	if client.http == nil {
		client.http = &http.Client{Timeout: c.RequestTimeout}
	}
	// Byte pushes run far longer than control calls, so they get their own
	// client with the upload timeout.
	client.uploadHTTP = &http.Client{Timeout: c.UploadTimeout}
	if c.HTTPClient != nil {
		client.uploadHTTP = c.HTTPClient
	}
	client.sem = semaphore.NewWeighted(c.MaxConcurrentPushes)
	client.logger = logger
	if client.logger == nil {
		client.logger = slog.Default()
	}
	return client, nil
}
