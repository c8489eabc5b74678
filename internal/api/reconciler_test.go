package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediarelay/internal/observability/metrics"
	"mediarelay/internal/stream"
	"mediarelay/internal/testsupport/streamstub"
)

func newTestReconciler(t *testing.T, opts streamstub.Options, cfg ReconcilerConfig) (*Reconciler, *streamstub.VideoService, *metrics.Recorder) {
	t.Helper()
	if opts.LibraryID == "" {
		opts.LibraryID = "lib-1"
	}
	if opts.AccessKey == "" {
		opts.AccessKey = "unit-access-key"
	}
	stub := streamstub.Start(opts)
	t.Cleanup(stub.Close)

	streamCfg := stream.Config{
		BaseURL:             stub.BaseURL(),
		LibraryID:           opts.LibraryID,
		AccessKey:           opts.AccessKey,
		CollectionID:        "col-1",
		RequestTimeout:      time.Second,
		UploadTimeout:       time.Second,
		MaxConcurrentPushes: 1,
	}
	client, err := streamCfg.NewClient(nil)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	recorder := metrics.New()
	cfg.Stream = client
	cfg.Metrics = recorder
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	reconciler := NewReconciler(cfg)
	reconciler.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := reconciler.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown error: %v", err)
		}
	})
	return reconciler, stub, recorder
}

func scrapeRecorder(t *testing.T, recorder *metrics.Recorder) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

func waitForScrape(t *testing.T, recorder *metrics.Recorder, timeout time.Duration, want string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		scrape := scrapeRecorder(t, recorder)
		if strings.Contains(scrape, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scrape never contained %q:\n%s", want, scrape)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconcilerFinishesOnTerminalStatus(t *testing.T) {
	reconciler, stub, recorder := newTestReconciler(t,
		streamstub.Options{StatusSequence: []int{2, 4}},
		ReconcilerConfig{PollInterval: time.Millisecond, PollBudget: 10},
	)

	reconciler.Watch("video-live")
	waitForScrape(t, recorder, 2*time.Second, `mediarelay_reconcile_outcomes_total{outcome="finished"} 1`)

	polls := stub.OperationsOfKind("video-status")
	if len(polls) != 2 {
		t.Fatalf("status polls = %d, want 2", len(polls))
	}
	for _, poll := range polls {
		if poll.VideoID != "video-live" {
			t.Fatalf("polled video id = %q, want %q", poll.VideoID, "video-live")
		}
	}
}

func TestReconcilerRecordsFailedStatus(t *testing.T) {
	reconciler, _, recorder := newTestReconciler(t,
		streamstub.Options{StatusSequence: []int{5}},
		ReconcilerConfig{PollInterval: time.Millisecond, PollBudget: 10},
	)

	reconciler.Watch("video-err")
	waitForScrape(t, recorder, 2*time.Second, `mediarelay_reconcile_outcomes_total{outcome="failed"} 1`)
}

func TestReconcilerAbandonsAfterBudget(t *testing.T) {
	reconciler, stub, recorder := newTestReconciler(t,
		streamstub.Options{StatusSequence: []int{1}},
		ReconcilerConfig{PollInterval: time.Millisecond, PollBudget: 3},
	)

	reconciler.Watch("video-stuck")
	waitForScrape(t, recorder, 2*time.Second, `mediarelay_reconcile_outcomes_total{outcome="abandoned"} 1`)

	if polls := stub.OperationsOfKind("video-status"); len(polls) != 3 {
		t.Fatalf("status polls = %d, want 3", len(polls))
	}
}

func TestReconcilerPollErrorsConsumeBudget(t *testing.T) {
	reconciler, stub, recorder := newTestReconciler(t,
		streamstub.Options{FailStatus: 2},
		ReconcilerConfig{PollInterval: time.Millisecond, PollBudget: 2},
	)

	reconciler.Watch("video-degraded")
	waitForScrape(t, recorder, 2*time.Second, `mediarelay_reconcile_outcomes_total{outcome="abandoned"} 1`)

	if polls := stub.OperationsOfKind("video-status"); len(polls) != 2 {
		t.Fatalf("status polls = %d, want 2", len(polls))
	}
}

func TestReconcilerDeduplicatesInFlightWatches(t *testing.T) {
	reconciler, stub, _ := newTestReconciler(t,
		streamstub.Options{StatusSequence: []int{1}},
		// A long interval keeps the first watch parked between polls while the
		// duplicate arrives.
		ReconcilerConfig{PollInterval: time.Hour, PollBudget: 5, Workers: 2},
	)

	reconciler.Watch("video-dup")

	deadline := time.Now().Add(2 * time.Second)
	for len(stub.OperationsOfKind("video-status")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first poll never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	reconciler.Watch("video-dup")
	time.Sleep(50 * time.Millisecond)

	if polls := stub.OperationsOfKind("video-status"); len(polls) != 1 {
		t.Fatalf("status polls = %d, want 1", len(polls))
	}
}

func TestReconcilerShutdownUnblocksWaiters(t *testing.T) {
	stub := streamstub.Start(streamstub.Options{
		LibraryID:      "lib-1",
		AccessKey:      "unit-access-key",
		StatusSequence: []int{1},
	})
	t.Cleanup(stub.Close)

	streamCfg := stream.Config{
		BaseURL:             stub.BaseURL(),
		LibraryID:           "lib-1",
		AccessKey:           "unit-access-key",
		CollectionID:        "col-1",
		RequestTimeout:      time.Second,
		UploadTimeout:       time.Second,
		MaxConcurrentPushes: 1,
	}
	client, err := streamCfg.NewClient(nil)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	reconciler := NewReconciler(ReconcilerConfig{
		Stream:       client,
		PollInterval: time.Hour,
		PollBudget:   5,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      metrics.New(),
	})
	reconciler.Start()
	reconciler.Watch("video-parked")

	deadline := time.Now().Add(2 * time.Second)
	for len(stub.OperationsOfKind("video-status")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first poll never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reconciler.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	// A watch after shutdown is dropped without blocking.
	reconciler.Watch("video-late")
}
