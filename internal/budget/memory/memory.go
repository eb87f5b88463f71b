// Package memory provides an in-memory envelope store for development and
// tests. It implements the same ports as the SQLite repository.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"buste/internal/budget"
	"buste/internal/core"
)

type Store struct {
	mu        sync.Mutex
	nextID    int64
	nextBatch int64
	envelopes []core.Envelope
	batches   []budget.TransferBatch
	transfers map[int64][]core.Transfer
}

func New() *Store {
	return &Store{
		nextID:    1,
		nextBatch: 1,
		transfers: make(map[int64][]core.Transfer),
	}
}

// NewSeeded creates a store pre-populated with the given envelopes,
// assigning ids in order.
func NewSeeded(envelopes []core.Envelope) *Store {
	s := New()
	for _, e := range envelopes {
		e.ID = s.nextID
		s.nextID++
		s.envelopes = append(s.envelopes, e)
	}
	return s
}

func (s *Store) ListEnvelopes(_ context.Context) ([]core.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out, nil
}

func (s *Store) GetEnvelope(_ context.Context, id int64) (core.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.envelopes {
		if e.ID == id {
			return e, nil
		}
	}
	return core.Envelope{}, core.ErrUnknownEnvelope
}

func (s *Store) CreateEnvelope(_ context.Context, e core.Envelope) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.envelopes = append(s.envelopes, e)
	return e.ID, nil
}

func (s *Store) UpdateEnvelope(_ context.Context, e core.Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.envelopes {
		if s.envelopes[i].ID == e.ID {
			s.envelopes[i] = e
			return nil
		}
	}
	return core.ErrUnknownEnvelope
}

func (s *Store) DeleteEnvelope(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.envelopes {
		if s.envelopes[i].ID == id {
			s.envelopes = append(s.envelopes[:i], s.envelopes[i+1:]...)
			return nil
		}
	}
	return core.ErrUnknownEnvelope
}

// ApplyTransfers moves balances for the whole batch or not at all.
func (s *Store) ApplyTransfers(_ context.Context, transfers []core.Transfer) (int64, error) {
	if len(transfers) == 0 {
		return 0, core.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[int64]int, len(s.envelopes))
	for i, e := range s.envelopes {
		index[e.ID] = i
	}

	// Validate the whole batch against a scratch copy first.
	scratch := make([]core.Envelope, len(s.envelopes))
	copy(scratch, s.envelopes)
	var total int64
	for _, t := range transfers {
		if err := t.Validate(); err != nil {
			return 0, err
		}
		fi, ok := index[t.FromID]
		if !ok {
			return 0, core.ErrUnknownEnvelope
		}
		ti, ok := index[t.ToID]
		if !ok {
			return 0, core.ErrUnknownEnvelope
		}
		if scratch[fi].Current.Cents < t.Amount.Cents {
			return 0, core.ErrInvalidAmount
		}
		scratch[fi].Current.Cents -= t.Amount.Cents
		scratch[ti].Current.Cents += t.Amount.Cents
		total += t.Amount.Cents
	}
	s.envelopes = scratch

	batchID := s.nextBatch
	s.nextBatch++
	s.batches = append(s.batches, budget.TransferBatch{
		ID:            batchID,
		TransferCount: len(transfers),
		Total:         core.Money{Cents: total},
		SyncStatus:    budget.SyncPending,
		CreatedAt:     time.Now(),
	})
	recorded := make([]core.Transfer, len(transfers))
	copy(recorded, transfers)
	s.transfers[batchID] = recorded
	return batchID, nil
}

func (s *Store) ListBatches(_ context.Context, limit int) ([]budget.TransferBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]budget.TransferBatch, len(s.batches))
	copy(out, s.batches)
	// Newest first, matching the SQLite repository.
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransfersByBatch(_ context.Context, batchID int64) ([]core.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfers, ok := s.transfers[batchID]
	if !ok {
		return nil, nil
	}
	out := make([]core.Transfer, len(transfers))
	copy(out, transfers)
	return out, nil
}
