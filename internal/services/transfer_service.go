package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"buste/internal/budget"
	"buste/internal/core"
)

var (
	ErrEmptyBatch      = errors.New("transfer batch is empty")
	ErrSpendingAccount = errors.New("spending accounts cannot take part in reallocation")
	ErrExceedsSurplus  = errors.New("transfers exceed source surplus")
)

// syncPublisher is the slice of the AMQP client the service needs.
type syncPublisher interface {
	PublishBatchSync(ctx context.Context, batchID int64, transfers int) error
}

// TransferService applies reallocation batches: it re-validates the transfers
// against a fresh envelope snapshot, persists them atomically, then notifies
// the sync worker. Publishing is best-effort; the batch is already durable
// and pending batches are picked up by the worker on its own schedule.
type TransferService struct {
	reader    budget.EnvelopeReader
	applier   budget.TransferApplier
	publisher syncPublisher
}

func NewTransferService(reader budget.EnvelopeReader, applier budget.TransferApplier, publisher syncPublisher) *TransferService {
	return &TransferService{
		reader:    reader,
		applier:   applier,
		publisher: publisher,
	}
}

// Apply validates and persists a batch of transfers, returning the batch ID.
func (s *TransferService) Apply(ctx context.Context, transfers []core.Transfer) (int64, error) {
	if len(transfers) == 0 {
		return 0, ErrEmptyBatch
	}

	if err := s.validate(ctx, transfers); err != nil {
		return 0, err
	}

	batchID, err := s.applier.ApplyTransfers(ctx, transfers)
	if err != nil {
		return 0, fmt.Errorf("apply transfers: %w", err)
	}

	if err := s.publishSyncMessage(ctx, batchID, len(transfers)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish batch sync message",
			"batch_id", batchID, "error", err)
		// Don't fail the request - the batch is applied locally
	}

	return batchID, nil
}

// validate checks the batch against the current envelope snapshot. Balances
// may have moved since the plan was built, so each source's total outflow
// must still fit inside its surplus.
func (s *TransferService) validate(ctx context.Context, transfers []core.Transfer) error {
	envelopes, err := s.reader.ListEnvelopes(ctx)
	if err != nil {
		return fmt.Errorf("load envelopes: %w", err)
	}

	byID := make(map[int64]core.Envelope, len(envelopes))
	for _, e := range envelopes {
		byID[e.ID] = e
	}

	outflow := make(map[int64]int64)
	for _, t := range transfers {
		if err := t.Validate(); err != nil {
			return err
		}

		from, ok := byID[t.FromID]
		if !ok {
			return fmt.Errorf("source %d: %w", t.FromID, core.ErrUnknownEnvelope)
		}
		to, ok := byID[t.ToID]
		if !ok {
			return fmt.Errorf("destination %d: %w", t.ToID, core.ErrUnknownEnvelope)
		}
		if from.Spending || to.Spending {
			return ErrSpendingAccount
		}

		outflow[t.FromID] += t.Amount.Cents
	}

	for id, total := range outflow {
		if surplus := byID[id].Surplus(); total > surplus.Cents {
			return fmt.Errorf("%w: envelope %d gives %d cents, surplus is %d",
				ErrExceedsSurplus, id, total, surplus.Cents)
		}
	}

	return nil
}

func (s *TransferService) publishSyncMessage(ctx context.Context, batchID int64, transfers int) error {
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message")
		return nil
	}
	return s.publisher.PublishBatchSync(ctx, batchID, transfers)
}
