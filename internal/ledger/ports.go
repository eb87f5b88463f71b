package ledger

import (
	"context"
	"time"

	"buste/internal/core"
)

// Entry is one transfer row as it appears in the external ledger. Envelope
// names are resolved before export so the ledger stays readable without
// access to the database.
type Entry struct {
	BatchID   int64
	From      string
	To        string
	Amount    core.Money
	AppliedAt time.Time
}

// TransferAppender is the outbound port for ledger export.
type TransferAppender interface {
	// AppendBatch writes all entries of one batch and returns a reference
	// to where they landed (sheet range, synthetic ID, ...).
	AppendBatch(ctx context.Context, entries []Entry) (ref string, err error)
}
