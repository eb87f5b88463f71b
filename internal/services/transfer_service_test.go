package services

import (
	"context"
	"errors"
	"testing"

	"buste/internal/budget/memory"
	"buste/internal/core"
)

type fakePublisher struct {
	batchIDs []int64
	counts   []int
	err      error
}

func (p *fakePublisher) PublishBatchSync(_ context.Context, batchID int64, transfers int) error {
	if p.err != nil {
		return p.err
	}
	p.batchIDs = append(p.batchIDs, batchID)
	p.counts = append(p.counts, transfers)
	return nil
}

func seedStore(t *testing.T) (*memory.Store, int64, int64, int64) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	vacation, err := store.CreateEnvelope(ctx, core.Envelope{
		Name: "Vacation", Current: core.Money{Cents: 10000}, Target: core.Money{Cents: 2000}, Priority: core.Discretionary,
	})
	if err != nil {
		t.Fatalf("seed vacation: %v", err)
	}
	rent, err := store.CreateEnvelope(ctx, core.Envelope{
		Name: "Rent", Current: core.Money{Cents: 0}, Target: core.Money{Cents: 6000}, Priority: core.Essential,
	})
	if err != nil {
		t.Fatalf("seed rent: %v", err)
	}
	checking, err := store.CreateEnvelope(ctx, core.Envelope{
		Name: "Checking", Current: core.Money{Cents: 50000}, Spending: true,
	})
	if err != nil {
		t.Fatalf("seed checking: %v", err)
	}
	return store, vacation, rent, checking
}

func TestApplyPersistsAndPublishes(t *testing.T) {
	store, vacation, rent, _ := seedStore(t)
	pub := &fakePublisher{}
	svc := NewTransferService(store, store, pub)

	batchID, err := svc.Apply(context.Background(), []core.Transfer{
		{FromID: vacation, ToID: rent, Amount: core.Money{Cents: 6000}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	src, _ := store.GetEnvelope(context.Background(), vacation)
	dst, _ := store.GetEnvelope(context.Background(), rent)
	if src.Current.Cents != 4000 || dst.Current.Cents != 6000 {
		t.Fatalf("balances after apply: %d / %d", src.Current.Cents, dst.Current.Cents)
	}

	if len(pub.batchIDs) != 1 || pub.batchIDs[0] != batchID || pub.counts[0] != 1 {
		t.Fatalf("publish calls: ids=%v counts=%v want batch %d", pub.batchIDs, pub.counts, batchID)
	}
}

func TestApplyRejectsEmptyBatch(t *testing.T) {
	store, _, _, _ := seedStore(t)
	svc := NewTransferService(store, store, nil)

	if _, err := svc.Apply(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestApplyRejectsSpendingAccounts(t *testing.T) {
	store, vacation, _, checking := seedStore(t)
	svc := NewTransferService(store, store, nil)

	_, err := svc.Apply(context.Background(), []core.Transfer{
		{FromID: checking, ToID: vacation, Amount: core.Money{Cents: 100}},
	})
	if !errors.Is(err, ErrSpendingAccount) {
		t.Fatalf("expected ErrSpendingAccount, got %v", err)
	}

	_, err = svc.Apply(context.Background(), []core.Transfer{
		{FromID: vacation, ToID: checking, Amount: core.Money{Cents: 100}},
	})
	if !errors.Is(err, ErrSpendingAccount) {
		t.Fatalf("expected ErrSpendingAccount, got %v", err)
	}
}

func TestApplyRejectsUnknownEnvelopes(t *testing.T) {
	store, vacation, _, _ := seedStore(t)
	svc := NewTransferService(store, store, nil)

	_, err := svc.Apply(context.Background(), []core.Transfer{
		{FromID: vacation, ToID: 999, Amount: core.Money{Cents: 100}},
	})
	if !errors.Is(err, core.ErrUnknownEnvelope) {
		t.Fatalf("expected ErrUnknownEnvelope, got %v", err)
	}
}

func TestApplyRejectsOutflowBeyondSurplus(t *testing.T) {
	store, vacation, rent, _ := seedStore(t)
	svc := NewTransferService(store, store, nil)

	// Vacation's surplus is 8000 cents; two transfers summing to 9000 must
	// be rejected even though each alone would fit.
	_, err := svc.Apply(context.Background(), []core.Transfer{
		{FromID: vacation, ToID: rent, Amount: core.Money{Cents: 5000}},
		{FromID: vacation, ToID: rent, Amount: core.Money{Cents: 4000}},
	})
	if !errors.Is(err, ErrExceedsSurplus) {
		t.Fatalf("expected ErrExceedsSurplus, got %v", err)
	}

	// Balances untouched.
	src, _ := store.GetEnvelope(context.Background(), vacation)
	if src.Current.Cents != 10000 {
		t.Fatalf("balance mutated by rejected batch: %d", src.Current.Cents)
	}
}

func TestApplySucceedsWhenPublishFails(t *testing.T) {
	store, vacation, rent, _ := seedStore(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewTransferService(store, store, pub)

	batchID, err := svc.Apply(context.Background(), []core.Transfer{
		{FromID: vacation, ToID: rent, Amount: core.Money{Cents: 1000}},
	})
	if err != nil {
		t.Fatalf("apply should not fail on publish error, got %v", err)
	}
	if batchID == 0 {
		t.Fatal("expected a batch ID")
	}

	batches, _ := store.ListBatches(context.Background(), 10)
	if len(batches) != 1 {
		t.Fatalf("batch not recorded: %+v", batches)
	}
}

func TestApplyWithoutPublisher(t *testing.T) {
	store, vacation, rent, _ := seedStore(t)
	svc := NewTransferService(store, store, nil)

	if _, err := svc.Apply(context.Background(), []core.Transfer{
		{FromID: vacation, ToID: rent, Amount: core.Money{Cents: 1000}},
	}); err != nil {
		t.Fatalf("apply without publisher: %v", err)
	}
}
