// Command server starts the media relay HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediarelay/internal/api"
	"mediarelay/internal/auth"
	"mediarelay/internal/observability/logging"
	"mediarelay/internal/observability/metrics"
	"mediarelay/internal/server"
	"mediarelay/internal/staging"
	"mediarelay/internal/stream"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (text or json)")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret for verifying admin tokens")
	jwtLeeway := flag.Duration("jwt-leeway", 0, "clock-skew allowance for token timestamps")
	stagingDir := flag.String("staging-dir", "", "directory holding upload bytes in flight")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes")
	sweepInterval := flag.Duration("sweep-interval", 0, "interval between staging sweeps")
	sweepGrace := flag.Duration("sweep-grace", 0, "minimum age before a staged file is reclaimed")
	streamBaseURL := flag.String("stream-base-url", "", "base URL of the stream service API")
	streamLibraryID := flag.String("stream-library-id", "", "stream service library identifier")
	streamAccessKey := flag.String("stream-access-key", "", "stream service access key")
	streamCollectionID := flag.String("stream-collection-id", "", "collection assigned to uploaded videos")
	playbackHost := flag.String("playback-host", "", "host serving playback embed and play pages")
	streamRequestTimeout := flag.Duration("stream-request-timeout", 0, "timeout for stream service control calls")
	streamUploadTimeout := flag.Duration("stream-upload-timeout", 0, "timeout for stream service byte pushes")
	streamMaxPushes := flag.Int("stream-max-pushes", 0, "maximum concurrent byte pushes to the stream service")
	reconcileInterval := flag.Duration("reconcile-interval", 0, "poll interval while reconciling direct uploads")
	reconcileBudget := flag.Int("reconcile-budget", 0, "maximum polls per watched direct upload")
	globalRPS := flag.Float64("rate-limit-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-limit-burst", 0, "global rate limit burst allowance")
	uploadAttempts := flag.Int("upload-attempts", 0, "maximum upload attempts per window for a single client")
	uploadWindow := flag.Duration("upload-window", 0, "window for counting upload attempts")
	trustForwarded := flag.Bool("trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	redisAddr := flag.String("redis-addr", "", "Redis address backing a shared upload attempt store")
	redisPassword := flag.String("redis-password", "", "Redis password for the attempt store")
	redisDB := flag.Int("redis-db", 0, "Redis database for the attempt store")
	redisTimeout := flag.Duration("redis-timeout", 0, "timeout for Redis operations")
	redisTLSCA := flag.String("redis-tls-ca", "", "path to a CA bundle for Redis TLS")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed for cross-origin requests")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIARELAY_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIARELAY_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	verifier, err := auth.NewVerifier(
		firstNonEmpty(*jwtSecret, os.Getenv("MEDIARELAY_JWT_SECRET")),
		auth.WithLeeway(resolveDuration(*jwtLeeway, "MEDIARELAY_JWT_LEEWAY", 0)),
	)
	if err != nil {
		logger.Error("token verifier configuration rejected", "error", err)
		os.Exit(1)
	}

	stagingManager, err := staging.NewManager(firstNonEmpty(*stagingDir, os.Getenv("MEDIARELAY_STAGING_DIR")))
	if err != nil {
		logger.Error("failed to prepare staging directory", "error", err)
		os.Exit(1)
	}
	if err := stagingManager.Writable(); err != nil {
		logger.Warn("staging directory is not writable", "dir", stagingManager.Dir(), "error", err)
	}

	streamCfg, err := stream.LoadConfigFromEnv()
	if err != nil {
		logger.Error("invalid stream configuration", "error", err)
		os.Exit(1)
	}
	streamCfg = applyStreamOverrides(streamCfg, streamOverrides{
		BaseURL:        *streamBaseURL,
		LibraryID:      *streamLibraryID,
		AccessKey:      *streamAccessKey,
		CollectionID:   *streamCollectionID,
		PlaybackHost:   *playbackHost,
		RequestTimeout: *streamRequestTimeout,
		UploadTimeout:  *streamUploadTimeout,
		MaxPushes:      int64(*streamMaxPushes),
	})
	streamClient, err := streamCfg.NewClient(logging.WithComponent(logger, "stream"))
	if err != nil {
		logger.Error("failed to configure stream client", "error", err)
		os.Exit(1)
	}

	reconciler := api.NewReconciler(api.ReconcilerConfig{
		Stream:       streamClient,
		PollInterval: resolveDuration(*reconcileInterval, "MEDIARELAY_RECONCILE_INTERVAL", 0),
		PollBudget:   resolveInt(*reconcileBudget, "MEDIARELAY_RECONCILE_BUDGET", 0),
		Logger:       logging.WithComponent(logger, "reconciler"),
		Metrics:      recorder,
	})
	reconciler.Start()

	uploadCap := resolveInt64(*maxUploadBytes, "MEDIARELAY_MAX_UPLOAD_BYTES", 0)
	if uploadCap <= 0 {
		uploadCap = api.DefaultMaxUploadBytes
	}

	handler := api.NewHandler(streamClient, stagingManager, verifier)
	handler.Reconciler = reconciler
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder
	handler.MaxUploadBytes = uploadCap

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "MEDIARELAY_RATE_LIMIT_RPS", 50),
		GlobalBurst:           resolveInt(*globalBurst, "MEDIARELAY_RATE_LIMIT_BURST", 100),
		UploadLimit:           resolveInt(*uploadAttempts, "MEDIARELAY_UPLOAD_ATTEMPTS", 20),
		UploadWindow:          resolveDuration(*uploadWindow, "MEDIARELAY_UPLOAD_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "MEDIARELAY_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("MEDIARELAY_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*redisAddr, os.Getenv("MEDIARELAY_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*redisPassword, os.Getenv("MEDIARELAY_REDIS_PASSWORD")),
		RedisDB:               resolveInt(*redisDB, "MEDIARELAY_REDIS_DB", 0),
		RedisTimeout:          resolveDuration(*redisTimeout, "MEDIARELAY_REDIS_TIMEOUT", 2*time.Second),
		RedisTLS: server.RedisTLSConfig{
			CAFile: firstNonEmpty(*redisTLSCA, os.Getenv("MEDIARELAY_REDIS_TLS_CA")),
		},
	}

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIARELAY_TLS_CERT_FILE")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIARELAY_TLS_KEY_FILE")),
	}

	listenAddr := resolveListenAddr(*addr, os.Getenv("MEDIARELAY_ADDR"))
	sweepEvery := resolveDuration(*sweepInterval, "MEDIARELAY_SWEEP_INTERVAL", 15*time.Minute)
	sweepAge := resolveDuration(*sweepGrace, "MEDIARELAY_SWEEP_GRACE", time.Hour)

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       tlsCfg,
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("MEDIARELAY_CORS_ALLOWED_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	summary := newStartupSummary(startupSummaryInput{
		Addr:           listenAddr,
		TLSEnabled:     tlsCfg.CertFile != "" && tlsCfg.KeyFile != "",
		StagingDir:     stagingManager.Dir(),
		MaxUploadBytes: uploadCap,
		SweepInterval:  sweepEvery,
		SweepGrace:     sweepAge,
		Stream:         streamCfg,
		RateLimit:      rateCfg,
	})
	logger.Info("media relay configuration", summary.LogArgs()...)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	sweeperStop := startStagingSweeper(workerCtx, logging.WithComponent(logger, "staging-sweeper"), stagingManager, recorder, sweepEvery, sweepAge)
	defer sweeperStop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("media relay listening", "addr", listenAddr)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sweeperStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := reconciler.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop reconciler", "error", err)
	}

	logger.Info("server stopped")
}

// startupSummaryInput gathers the configuration the process resolved so it
// can be logged in one place before serving.
type startupSummaryInput struct {
	Addr           string
	TLSEnabled     bool
	StagingDir     string
	MaxUploadBytes int64
	SweepInterval  time.Duration
	SweepGrace     time.Duration
	Stream         stream.Config
	RateLimit      server.RateLimitConfig
}

type startupSummary struct {
	args []any
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	listen := map[string]any{
		"addr": input.Addr,
		"tls":  input.TLSEnabled,
	}

	stagingSummary := map[string]any{
		"dir":              input.StagingDir,
		"max_upload_bytes": input.MaxUploadBytes,
		"sweep_interval":   input.SweepInterval.String(),
		"sweep_grace":      input.SweepGrace.String(),
	}

	streamSummary := map[string]any{
		"base_url":      input.Stream.BaseURL,
		"library_id":    input.Stream.LibraryID,
		"playback_host": input.Stream.PlaybackHost,
		"access_key":    maskSecret(input.Stream.AccessKey),
		"max_pushes":    input.Stream.MaxConcurrentPushes,
	}
	if input.Stream.CollectionID != "" {
		streamSummary["collection_id"] = input.Stream.CollectionID
	}

	throttle := map[string]any{
		"driver": "memory",
		"limit":  input.RateLimit.UploadLimit,
		"window": input.RateLimit.UploadWindow.String(),
	}
	if strings.TrimSpace(input.RateLimit.RedisAddr) != "" {
		throttle["driver"] = "redis"
		throttle["addr"] = input.RateLimit.RedisAddr
		if input.RateLimit.RedisDB > 0 {
			throttle["db"] = input.RateLimit.RedisDB
		}
	}

	return startupSummary{args: []any{
		"listen", listen,
		"staging", stagingSummary,
		"stream", streamSummary,
		"upload_throttle", throttle,
	}}
}

// LogArgs returns the summary as slog key/value pairs.
func (s startupSummary) LogArgs() []any {
	return s.args
}

// maskSecret hides a credential while still showing whether one is set.
func maskSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "*****"
}

// streamOverrides carries command-line values layered over the
// environment-derived stream configuration. Zero values leave the underlying
// setting untouched.
type streamOverrides struct {
	BaseURL        string
	LibraryID      string
	AccessKey      string
	CollectionID   string
	PlaybackHost   string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	MaxPushes      int64
}

func applyStreamOverrides(cfg stream.Config, o streamOverrides) stream.Config {
	cfg.BaseURL = firstNonEmpty(o.BaseURL, cfg.BaseURL)
	cfg.LibraryID = firstNonEmpty(o.LibraryID, cfg.LibraryID)
	cfg.AccessKey = firstNonEmpty(o.AccessKey, cfg.AccessKey)
	cfg.CollectionID = firstNonEmpty(o.CollectionID, cfg.CollectionID)
	cfg.PlaybackHost = firstNonEmpty(o.PlaybackHost, cfg.PlaybackHost)
	if o.RequestTimeout > 0 {
		cfg.RequestTimeout = o.RequestTimeout
	}
	if o.UploadTimeout > 0 {
		cfg.UploadTimeout = o.UploadTimeout
	}
	if o.MaxPushes > 0 {
		cfg.MaxConcurrentPushes = o.MaxPushes
	}
	return cfg
}

func resolveListenAddr(flagValue, envValue string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envValue)
	}
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	return listenAddr
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string, fallback float64) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return fallback
}

func resolveInt(flagValue int, envKey string, fallback int) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return fallback
}

func resolveInt64(flagValue int64, envKey string, fallback int64) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return fallback
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
