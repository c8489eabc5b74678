package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediarelay/internal/observability/metrics"
)

type stagingSweeper interface {
	Sweep(olderThan time.Duration) (int, error)
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// startStagingSweeper reclaims staged files older than the grace period: once
// at startup, clearing anything a previous process left behind, then on every
// tick. The returned stop function blocks until the worker exits.
func startStagingSweeper(ctx context.Context, logger *slog.Logger, store stagingSweeper, recorder *metrics.Recorder, interval, grace time.Duration) func() {
	return startStagingSweeperWithTicker(ctx, logger, store, recorder, interval, grace, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startStagingSweeperWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	store stagingSweeper,
	recorder *metrics.Recorder,
	interval time.Duration,
	grace time.Duration,
	newTicker tickerFactory,
) func() {
	if store == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})

	sweep := func() {
		removed, err := store.Sweep(grace)
		if err != nil && logger != nil {
			logger.Error("staging sweep failed", "error", err)
		}
		if removed > 0 {
			if recorder != nil {
				recorder.StagingSwept(removed)
			}
			if logger != nil {
				logger.Info("reclaimed staged files", "count", removed, "older_than", grace.String())
			}
		}
	}

	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		sweep()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				sweep()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
