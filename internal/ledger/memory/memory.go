package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"buste/internal/ledger"
)

// Ledger keeps appended entries in memory. Used by the memory backend and by
// worker tests.
type Ledger struct {
	mu      sync.Mutex
	entries []ledger.Entry
	failErr error
}

func New() *Ledger {
	return &Ledger{}
}

// AppendBatch stores the entries and returns a synthetic reference.
func (l *Ledger) AppendBatch(_ context.Context, entries []ledger.Entry) (string, error) {
	if len(entries) == 0 {
		return "", errors.New("empty batch")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return "", l.failErr
	}
	l.entries = append(l.entries, entries...)
	return fmt.Sprintf("mem:%d", len(l.entries)), nil
}

// Entries returns a copy of everything appended so far.
func (l *Ledger) Entries() []ledger.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Entry(nil), l.entries...)
}

// FailWith makes every subsequent append return err. Pass nil to recover.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}
