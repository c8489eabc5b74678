package api

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mediarelay/internal/observability/metrics"
	"mediarelay/internal/stream"
)

type ReconcilerConfig struct {
	Stream       *stream.Client
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	PollBudget   int
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// Reconciler watches videos whose bytes are pushed by someone else. Issued
// credentials promise nothing about the transfer, so each watched id is
// polled until the remote side reports a terminal state or the poll budget
// runs out. The watch list lives in memory only; a restart drops it.
type Reconciler struct {
	stream       *stream.Client
	workers      int
	pollInterval time.Duration
	pollBudget   int
	logger       *slog.Logger
	metrics      *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultReconcileWorkers  = 2
	defaultReconcileQueue    = 64
	defaultReconcileInterval = 30 * time.Second
	defaultReconcileBudget   = 20
)

// Reconcile outcome labels.
const (
	reconcileFinished  = "finished"
	reconcileFailed    = "failed"
	reconcileAbandoned = "abandoned"
)

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultReconcileWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultReconcileQueue
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	budget := cfg.PollBudget
	if budget <= 0 {
		budget = defaultReconcileBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		stream:       cfg.Stream,
		workers:      workers,
		pollInterval: interval,
		pollBudget:   budget,
		logger:       logger,
		metrics:      recorder,
		ctx:          ctx,
		cancel:       cancel,
		queue:        make(chan string, queueSize),
		inFlight:     make(map[string]struct{}),
	}
}

func (rc *Reconciler) Start() {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	if rc.started {
		rc.mu.Unlock()
		return
	}
	rc.started = true
	rc.mu.Unlock()

	for i := 0; i < rc.workers; i++ {
		rc.wg.Add(1)
		go rc.worker()
	}
}

func (rc *Reconciler) Shutdown(ctx context.Context) error {
	if rc == nil {
		return nil
	}
	rc.cancel()
	done := make(chan struct{})
	go func() {
		rc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch enqueues a video for reconciliation. Watching an id already being
// polled is a no-op.
func (rc *Reconciler) Watch(videoID string) {
	if rc == nil || strings.TrimSpace(videoID) == "" {
		return
	}
	select {
	case <-rc.ctx.Done():
		return
	default:
	}
	select {
	case rc.queue <- videoID:
	case <-rc.ctx.Done():
	}
}

func (rc *Reconciler) worker() {
	defer rc.wg.Done()
	for {
		select {
		case <-rc.ctx.Done():
			return
		case id := <-rc.queue:
			if strings.TrimSpace(id) == "" {
				continue
			}
			if !rc.beginWork(id) {
				continue
			}
			rc.reconcile(id)
			rc.finishWork(id)
		}
	}
}

func (rc *Reconciler) beginWork(id string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.inFlight[id]; exists {
		return false
	}
	rc.inFlight[id] = struct{}{}
	return true
}

func (rc *Reconciler) finishWork(id string) {
	rc.mu.Lock()
	delete(rc.inFlight, id)
	rc.mu.Unlock()
}

func (rc *Reconciler) reconcile(id string) {
	if rc.stream == nil {
		return
	}
	ticker := time.NewTicker(rc.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= rc.pollBudget; attempt++ {
		status, err := rc.stream.Video(rc.ctx, id)
		switch {
		case err != nil:
			// A failed poll consumes budget like any other; the remote
			// entry stays whatever it is.
			rc.logger.Warn("direct upload poll failed", "video_id", id, "attempt", attempt, "error", err)
		case status.Terminal():
			outcome := reconcileFailed
			if status.Succeeded() {
				outcome = reconcileFinished
			}
			rc.metrics.ObserveReconcile(outcome)
			rc.logger.Info("direct upload reconciled", "video_id", id, "status", status.Status, "outcome", outcome)
			return
		}

		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
		}
	}

	rc.metrics.ObserveReconcile(reconcileAbandoned)
	rc.logger.Warn("direct upload never reached a terminal state", "video_id", id, "polls", rc.pollBudget)
}
