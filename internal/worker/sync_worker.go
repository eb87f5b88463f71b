package worker

import (
	"context"
	"fmt"
	"log/slog"

	"buste/internal/amqp"
	"buste/internal/budget"
	"buste/internal/ledger"
	"buste/internal/storage"
)

// SyncWorker exports applied transfer batches from SQLite to the external
// ledger. Batches arrive via AMQP notifications; the pending-batch scan is a
// backup for lost messages and worker downtime.
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	ledger    ledger.TransferAppender
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, appender ledger.TransferAppender, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		ledger:    appender,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single batch sync message from AMQP.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.BatchSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"batch_id", msg.BatchID,
		"transfers", msg.Transfers)

	return w.exportBatch(ctx, msg.BatchID)
}

// ProcessPendingBatches exports any batches that are still pending. This is a
// backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPendingBatches(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncBatches(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending batches: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending batches", "count", len(pending))

	for _, batch := range pending {
		if err := w.exportBatch(ctx, batch.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export batch", "batch_id", batch.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupSyncCheck exports batches left pending across restarts. It uses a
// larger scan than the periodic pass to drain any backlog quickly.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncBatches(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending batches for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending batches found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending batches on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, batch := range pending {
		if err := w.exportBatch(ctx, batch.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export batch during startup",
				"batch_id", batch.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", successCount,
		"errors", errorCount)

	return nil
}

// exportBatch loads a batch with its transfers, resolves envelope names, and
// appends the rows to the ledger.
func (w *SyncWorker) exportBatch(ctx context.Context, batchID int64) error {
	batch, err := w.storage.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.SyncStatus == budget.SyncDone {
		slog.InfoContext(ctx, "Batch already synced, skipping", "batch_id", batchID)
		return nil
	}

	transfers, err := w.storage.ListTransfersByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("list transfers for batch %d: %w", batchID, err)
	}
	if len(transfers) == 0 {
		return fmt.Errorf("batch %d has no transfers", batchID)
	}

	names := make(map[int64]string)
	resolve := func(id int64) string {
		if name, ok := names[id]; ok {
			return name
		}
		e, err := w.storage.GetEnvelope(ctx, id)
		if err != nil {
			// Envelope may have been deleted after the batch was applied;
			// keep the row exportable.
			names[id] = fmt.Sprintf("envelope %d", id)
			return names[id]
		}
		names[id] = e.Name
		return e.Name
	}

	entries := make([]ledger.Entry, 0, len(transfers))
	for _, t := range transfers {
		entries = append(entries, ledger.Entry{
			BatchID:   batchID,
			From:      resolve(t.FromID),
			To:        resolve(t.ToID),
			Amount:    t.Amount,
			AppliedAt: batch.CreatedAt,
		})
	}

	ref, err := w.ledger.AppendBatch(ctx, entries)
	if err != nil {
		if markErr := w.storage.MarkBatchSyncError(ctx, batchID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "batch_id", batchID, "error", markErr)
		}
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.storage.MarkBatchSynced(ctx, batchID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as synced", "batch_id", batchID, "error", err)
		// Don't return error here - the export actually worked
	}

	slog.InfoContext(ctx, "Successfully synced batch",
		"batch_id", batchID,
		"ledger_ref", ref,
		"transfers", len(entries))

	return nil
}
