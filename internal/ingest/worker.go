package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker drains pending records in the background.
type Worker struct {
	processor *Processor
	batchSize int
	poll      time.Duration
	logger    *zap.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0 it defaults to 2s; if
// batchSize is <= 0 it defaults to 100.
func NewWorker(processor *Processor, batchSize int, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		processor: processor,
		batchSize: batchSize,
		poll:      pollInterval,
		logger:    logger,
	}
}

// Run polls for pending records until ctx is cancelled. Full batches are
// followed immediately by another poll.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		more, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", zap.Error(err))
		}
		if more {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce processes a single batch. It returns true when the batch was full
// and at least one record left the pending state, meaning more pending
// records are likely waiting. Records the store cannot move out of pending
// wait for the next poll.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	res, err := w.processor.ProcessPending(ctx, w.batchSize)
	if err != nil {
		return false, err
	}
	n := res.ProcessedCount + res.FailedCount + res.SkippedCount
	if n > 0 {
		w.logger.Debug("worker batch done", zap.Int("records", n), zap.Bool("success", res.Success))
	}
	return n == w.batchSize && res.settled > 0, nil
}
