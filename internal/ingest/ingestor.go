// Package ingest writes normalized record sets to the persistence port in
// bounded batches, reporting fractional progress as it goes.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/qctrack/backend/internal/models"
)

// DefaultBatchSize bounds per-call memory and persistence transaction size.
// It matches the order-key lookup batch size by convention.
const DefaultBatchSize = 100

// OrderStore is the write side of the persistence port. A single bad record
// must not fail the call: per-record outcome is reported in the BatchResult.
// A returned error means the batch as a whole could not be persisted; the
// result may then hold whatever partial outcome was reached.
type OrderStore interface {
	SaveBatch(ctx context.Context, records []models.IngestRecord) (models.BatchResult, error)
}

// ProgressFunc receives cumulative progress after each batch. percent is
// 0-100 over the full record set; callers remap it into whatever sub-range
// of a session's bar they own. Batch counts are 1-based.
type ProgressFunc func(percent, processedRows, currentBatch, totalBatches int)

// Ingestor persists record sets through an OrderStore.
type Ingestor struct {
	store  OrderStore
	logger *zap.Logger
}

// New creates an ingestor over the given store.
func New(store OrderStore, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// Ingest partitions records into contiguous batches of at most batchSize and
// persists them in input order, so batch progress stays monotonic and
// human-interpretable. Cancellation is cooperative: the context is checked
// between batches, never mid-batch. On a batch-fatal error the summary
// accumulated so far is still returned alongside the error.
func (i *Ingestor) Ingest(ctx context.Context, records []models.IngestRecord, batchSize int, onProgress ProgressFunc) (models.BatchResult, error) {
	var summary models.BatchResult
	if len(records) == 0 {
		return summary, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	totalBatches := (len(records) + batchSize - 1) / batchSize
	processed := 0

	for b := 0; b < totalBatches; b++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		start := b * batchSize
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		res, err := i.store.SaveBatch(ctx, batch)
		summary.Add(res)
		if err != nil {
			return summary, fmt.Errorf("persist batch %d/%d: %w", b+1, totalBatches, err)
		}

		processed += len(batch)
		i.logger.Debug("batch persisted",
			zap.Int("batch", b+1),
			zap.Int("totalBatches", totalBatches),
			zap.Int("rows", len(batch)))

		if onProgress != nil {
			onProgress(processed*100/len(records), processed, b+1, totalBatches)
		}
	}
	return summary, nil
}
