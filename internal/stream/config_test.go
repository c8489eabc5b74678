package stream

import (
	"errors"
	"testing"
	"time"
)

func clearStreamEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MEDIARELAY_STREAM_BASE_URL",
		"MEDIARELAY_STREAM_LIBRARY_ID",
		"MEDIARELAY_STREAM_ACCESS_KEY",
		"MEDIARELAY_STREAM_COLLECTION_ID",
		"MEDIARELAY_PLAYBACK_HOST",
		"MEDIARELAY_STREAM_REQUEST_TIMEOUT",
		"MEDIARELAY_STREAM_UPLOAD_TIMEOUT",
		"MEDIARELAY_STREAM_MAX_PUSHES",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigFromEnvAppliesDefaults(t *testing.T) {
	clearStreamEnv(t)
	t.Setenv("MEDIARELAY_STREAM_LIBRARY_ID", "lib42")
	t.Setenv("MEDIARELAY_STREAM_ACCESS_KEY", "key-abc")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}

	if cfg.BaseURL != defaultBaseURL {
		t.Fatalf("BaseURL = %q, want %q", cfg.BaseURL, defaultBaseURL)
	}
	if cfg.PlaybackHost != defaultPlaybackHost {
		t.Fatalf("PlaybackHost = %q, want %q", cfg.PlaybackHost, defaultPlaybackHost)
	}
	if cfg.RequestTimeout != defaultRequestTimeout {
		t.Fatalf("RequestTimeout = %v, want %v", cfg.RequestTimeout, defaultRequestTimeout)
	}
	if cfg.UploadTimeout != defaultUploadTimeout {
		t.Fatalf("UploadTimeout = %v, want %v", cfg.UploadTimeout, defaultUploadTimeout)
	}
	if cfg.MaxConcurrentPushes != defaultMaxConcurrentPushes {
		t.Fatalf("MaxConcurrentPushes = %d, want %d", cfg.MaxConcurrentPushes, defaultMaxConcurrentPushes)
	}
}

func TestLoadConfigFromEnvReadsOverrides(t *testing.T) {
	clearStreamEnv(t)
	t.Setenv("MEDIARELAY_STREAM_BASE_URL", "https://video.example.test")
	t.Setenv("MEDIARELAY_STREAM_LIBRARY_ID", " lib42 ")
	t.Setenv("MEDIARELAY_STREAM_ACCESS_KEY", "key-abc")
	t.Setenv("MEDIARELAY_STREAM_COLLECTION_ID", "col-7")
	t.Setenv("MEDIARELAY_PLAYBACK_HOST", "player.example.test")
	t.Setenv("MEDIARELAY_STREAM_REQUEST_TIMEOUT", "5s")
	t.Setenv("MEDIARELAY_STREAM_UPLOAD_TIMEOUT", "30m")
	t.Setenv("MEDIARELAY_STREAM_MAX_PUSHES", "2")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}

	if cfg.BaseURL != "https://video.example.test" {
		t.Fatalf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.LibraryID != "lib42" {
		t.Fatalf("LibraryID = %q, want trimmed value", cfg.LibraryID)
	}
	if cfg.CollectionID != "col-7" {
		t.Fatalf("CollectionID = %q", cfg.CollectionID)
	}
	if cfg.PlaybackHost != "player.example.test" {
		t.Fatalf("PlaybackHost = %q", cfg.PlaybackHost)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.UploadTimeout != 30*time.Minute {
		t.Fatalf("UploadTimeout = %v", cfg.UploadTimeout)
	}
	if cfg.MaxConcurrentPushes != 2 {
		t.Fatalf("MaxConcurrentPushes = %d", cfg.MaxConcurrentPushes)
	}
}

func TestLoadConfigFromEnvRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		env   string
		value string
	}{
		{name: "bad request timeout", env: "MEDIARELAY_STREAM_REQUEST_TIMEOUT", value: "soon"},
		{name: "bad upload timeout", env: "MEDIARELAY_STREAM_UPLOAD_TIMEOUT", value: "2 hours"},
		{name: "bad max pushes", env: "MEDIARELAY_STREAM_MAX_PUSHES", value: "many"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			clearStreamEnv(t)
			t.Setenv("MEDIARELAY_STREAM_LIBRARY_ID", "lib42")
			t.Setenv("MEDIARELAY_STREAM_ACCESS_KEY", "key-abc")
			t.Setenv(tc.env, tc.value)

			if _, err := LoadConfigFromEnv(); err == nil {
				t.Fatalf("expected parse error for %s=%q", tc.env, tc.value)
			}
		})
	}
}

func TestValidateReportsMissingFields(t *testing.T) {
	cfg := Config{
		RequestTimeout:      defaultRequestTimeout,
		UploadTimeout:       defaultUploadTimeout,
		MaxConcurrentPushes: defaultMaxConcurrentPushes,
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	want := []string{
		"MEDIARELAY_STREAM_BASE_URL",
		"MEDIARELAY_STREAM_LIBRARY_ID",
		"MEDIARELAY_STREAM_ACCESS_KEY",
	}
	if len(configErr.Missing) != len(want) {
		t.Fatalf("missing = %v, want %v", configErr.Missing, want)
	}
	for i, name := range want {
		if configErr.Missing[i] != name {
			t.Fatalf("missing[%d] = %q, want %q", i, configErr.Missing[i], name)
		}
	}
}

func TestValidateRejectsNonPositivePushes(t *testing.T) {
	cfg := Config{
		BaseURL:             defaultBaseURL,
		LibraryID:           "lib42",
		AccessKey:           "key-abc",
		RequestTimeout:      defaultRequestTimeout,
		UploadTimeout:       defaultUploadTimeout,
		MaxConcurrentPushes: 0,
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero concurrent pushes")
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	cfg := Config{MaxConcurrentPushes: defaultMaxConcurrentPushes}
	if _, err := cfg.NewClient(nil); err == nil {
		t.Fatalf("expected error for incomplete config")
	}
}
