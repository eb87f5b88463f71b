package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"buste/internal/amqp"
	"buste/internal/budget"
	"buste/internal/core"
	ledgermem "buste/internal/ledger/memory"
	"buste/internal/storage"
)

func setup(t *testing.T) (*SyncWorker, *storage.SQLiteRepository, *ledgermem.Ledger, int64) {
	t.Helper()
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "buste.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	vacation, err := repo.CreateEnvelope(ctx, core.Envelope{
		Name: "Vacation", Current: core.Money{Cents: 10000}, Target: core.Money{Cents: 1000}, Priority: core.Discretionary,
	})
	if err != nil {
		t.Fatalf("seed vacation: %v", err)
	}
	rent, err := repo.CreateEnvelope(ctx, core.Envelope{
		Name: "Rent", Current: core.Money{Cents: 0}, Target: core.Money{Cents: 6000}, Priority: core.Essential,
	})
	if err != nil {
		t.Fatalf("seed rent: %v", err)
	}

	batchID, err := repo.ApplyTransfers(ctx, []core.Transfer{
		{FromID: vacation, ToID: rent, Amount: core.Money{Cents: 6000}},
	})
	if err != nil {
		t.Fatalf("apply transfers: %v", err)
	}

	led := ledgermem.New()
	return NewSyncWorker(repo, led, 10), repo, led, batchID
}

func TestHandleSyncMessageExportsBatch(t *testing.T) {
	w, repo, led, batchID := setup(t)
	ctx := context.Background()

	msg := amqp.NewBatchSyncMessage(batchID, 1)
	if err := w.HandleSyncMessage(ctx, msg); err != nil {
		t.Fatalf("handle sync message: %v", err)
	}

	entries := led.Entries()
	if len(entries) != 1 {
		t.Fatalf("ledger entries: %+v", entries)
	}
	if entries[0].From != "Vacation" || entries[0].To != "Rent" || entries[0].Amount.Cents != 6000 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}

	batch, err := repo.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.SyncStatus != budget.SyncDone {
		t.Fatalf("sync status = %q, want synced", batch.SyncStatus)
	}
}

func TestHandleSyncMessageIdempotent(t *testing.T) {
	w, _, led, batchID := setup(t)
	ctx := context.Background()

	msg := amqp.NewBatchSyncMessage(batchID, 1)
	if err := w.HandleSyncMessage(ctx, msg); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := w.HandleSyncMessage(ctx, msg); err != nil {
		t.Fatalf("second handle: %v", err)
	}

	// Redelivery must not duplicate ledger rows.
	if entries := led.Entries(); len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry after redelivery, got %d", len(entries))
	}
}

func TestHandleSyncMessageUnknownBatch(t *testing.T) {
	w, _, _, _ := setup(t)

	if err := w.HandleSyncMessage(context.Background(), amqp.NewBatchSyncMessage(999, 1)); err == nil {
		t.Fatal("expected error for unknown batch")
	}
}

func TestLedgerFailureMarksError(t *testing.T) {
	w, repo, led, batchID := setup(t)
	ctx := context.Background()

	led.FailWith(errors.New("ledger unavailable"))
	if err := w.HandleSyncMessage(ctx, amqp.NewBatchSyncMessage(batchID, 1)); err == nil {
		t.Fatal("expected error when ledger append fails")
	}

	batch, err := repo.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.SyncStatus != budget.SyncError {
		t.Fatalf("sync status = %q, want error", batch.SyncStatus)
	}
}

func TestStartupSyncCheckDrainsPending(t *testing.T) {
	w, repo, led, batchID := setup(t)
	ctx := context.Background()

	// The batch is pending; no AMQP message was ever handled.
	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("startup sync check: %v", err)
	}

	if entries := led.Entries(); len(entries) != 1 {
		t.Fatalf("expected pending batch to be exported, entries=%+v", entries)
	}
	batch, _ := repo.GetBatch(ctx, batchID)
	if batch.SyncStatus != budget.SyncDone {
		t.Fatalf("sync status = %q, want synced", batch.SyncStatus)
	}

	// Nothing left to do.
	if err := w.ProcessPendingBatches(ctx); err != nil {
		t.Fatalf("process pending on empty queue: %v", err)
	}
	if entries := led.Entries(); len(entries) != 1 {
		t.Fatalf("pending pass duplicated entries: %d", len(entries))
	}
}
