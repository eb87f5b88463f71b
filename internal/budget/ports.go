package budget

import (
	"context"
	"time"

	"buste/internal/core"
)

// Ports for envelope persistence adapters.
type (
	EnvelopeReader interface {
		// ListEnvelopes returns the full envelope snapshot in stable order.
		ListEnvelopes(ctx context.Context) ([]core.Envelope, error)
		GetEnvelope(ctx context.Context, id int64) (core.Envelope, error)
	}

	EnvelopeWriter interface {
		CreateEnvelope(ctx context.Context, e core.Envelope) (int64, error)
		UpdateEnvelope(ctx context.Context, e core.Envelope) error
		DeleteEnvelope(ctx context.Context, id int64) error
	}

	// TransferApplier atomically moves balances for a confirmed plan and
	// records the batch. Either every transfer applies or none do.
	TransferApplier interface {
		ApplyTransfers(ctx context.Context, transfers []core.Transfer) (batchID int64, err error)
	}

	// BatchLister exposes the applied-transfer history.
	BatchLister interface {
		ListBatches(ctx context.Context, limit int) ([]TransferBatch, error)
		ListTransfersByBatch(ctx context.Context, batchID int64) ([]core.Transfer, error)
	}
)

// TransferBatch is one applied plan: its transfers plus ledger-sync state.
type TransferBatch struct {
	ID            int64
	TransferCount int
	Total         core.Money
	SyncStatus    string
	CreatedAt     time.Time
}

// Sync status values for transfer batches.
const (
	SyncPending = "pending"
	SyncDone    = "synced"
	SyncError   = "error"
)
