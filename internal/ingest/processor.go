// Package ingest moves raw records through extraction and triggers a profile
// rebuild for each record's owner.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/persona/internal/extract"
	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/storage"
)

// ErrNotPending is returned for records that have already left the pending
// state. Batches count them as skipped.
var ErrNotPending = errors.New("record is not pending")

// errStillPending marks failures that left the record in the pending state.
var errStillPending = errors.New("record still pending")

// RecordStore abstracts the record operations the Processor needs.
// Implemented by storage.Store.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (storage.RawRecord, error)
	FindPending(ctx context.Context, limit int) ([]storage.RawRecord, error)
	UpdateProcessedFields(ctx context.Context, id string, fields map[string]any) error
	UpdateRecordStatus(ctx context.Context, id string, status storage.Status, errMsg string) error
}

// Rebuilder recomputes a user's preferences. Implemented by profile.Manager.
type Rebuilder interface {
	Rebuild(ctx context.Context, userID string) (storage.UserPreferences, error)
}

// Result summarizes one batch.
type Result struct {
	Success        bool          `json:"success"`
	ProcessedCount int           `json:"processed_count"`
	FailedCount    int           `json:"failed_count"`
	SkippedCount   int           `json:"skipped_count"`
	Errors         []string      `json:"errors"`
	ProcessingTime time.Duration `json:"processing_time"`

	// settled counts records that reached completed or failed.
	settled int
}

// Processor extracts records one at a time and rebuilds the owner's profile
// after each successful extraction.
type Processor struct {
	store     RecordStore
	rebuilder Rebuilder
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewProcessor creates a Processor. A nil logger or collector disables
// logging or metrics respectively.
func NewProcessor(store RecordStore, rebuilder Rebuilder, logger *zap.Logger, m *metrics.Collector) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, rebuilder: rebuilder, logger: logger, metrics: m}
}

// ProcessRecord extracts one pending record. On extraction failure the record
// is marked failed and the *extract.Error is returned. A failed rebuild is
// logged but does not fail the record.
func (p *Processor) ProcessRecord(ctx context.Context, rec storage.RawRecord) error {
	log := p.logger.With(zap.String("record_id", rec.ID), zap.String("source", string(rec.Source)))

	if rec.Status != storage.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, rec.ID, rec.Status)
	}

	fields, err := extract.Extract(rec)
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		if serr := p.store.UpdateRecordStatus(ctx, rec.ID, storage.StatusFailed, err.Error()); serr != nil {
			if errors.Is(serr, storage.ErrInvalidTransition) {
				return fmt.Errorf("%w: %v", ErrNotPending, serr)
			}
			return errors.Join(err, fmt.Errorf("marking record %s failed: %w: %w", rec.ID, serr, errStillPending))
		}
		p.metrics.ObserveRecord(string(rec.Source), string(storage.StatusFailed))
		return err
	}

	if err := p.store.UpdateProcessedFields(ctx, rec.ID, fields); err != nil {
		return fmt.Errorf("saving fields for record %s: %w: %w", rec.ID, err, errStillPending)
	}
	if err := p.store.UpdateRecordStatus(ctx, rec.ID, storage.StatusCompleted, ""); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", ErrNotPending, err)
		}
		return fmt.Errorf("completing record %s: %w: %w", rec.ID, err, errStillPending)
	}
	p.metrics.ObserveRecord(string(rec.Source), string(storage.StatusCompleted))
	log.Debug("record processed", zap.Int("fields", len(fields)))

	if _, err := p.rebuilder.Rebuild(ctx, rec.UserID); err != nil {
		log.Warn("preference rebuild failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
	return nil
}

// ProcessByID loads a record and processes it.
func (p *Processor) ProcessByID(ctx context.Context, id string) error {
	rec, err := p.store.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("loading record %s: %w", id, err)
	}
	return p.ProcessRecord(ctx, rec)
}

// ProcessBatch processes records sequentially. One record's failure never
// stops the rest; Success is true only when nothing failed.
func (p *Processor) ProcessBatch(ctx context.Context, records []storage.RawRecord) Result {
	start := time.Now()
	res := Result{Errors: []string{}}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			res.FailedCount += len(records) - i
			res.Errors = append(res.Errors, fmt.Sprintf("batch interrupted: %v", err))
			break
		}

		err := p.ProcessRecord(ctx, rec)
		switch {
		case err == nil:
			res.ProcessedCount++
			res.settled++
		case errors.Is(err, ErrNotPending):
			res.SkippedCount++
		default:
			res.FailedCount++
			if !errors.Is(err, errStillPending) {
				res.settled++
			}
			res.Errors = append(res.Errors, fmt.Sprintf("Failed to process data: %s", rec.ID))
		}
	}

	res.Success = res.FailedCount == 0
	res.ProcessingTime = time.Since(start)
	p.logger.Info("batch processed",
		zap.Int("processed", res.ProcessedCount),
		zap.Int("failed", res.FailedCount),
		zap.Int("skipped", res.SkippedCount),
		zap.Duration("duration", res.ProcessingTime),
	)
	return res
}

// ProcessPending processes up to limit pending records, oldest first.
func (p *Processor) ProcessPending(ctx context.Context, limit int) (Result, error) {
	records, err := p.store.FindPending(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("finding pending records: %w", err)
	}
	return p.ProcessBatch(ctx, records), nil
}
