package expand

import (
	"context"
	"errors"
	"sync"
	"testing"

	"expandable/internal/infra/persistence/memory"
	"expandable/pkg/domain"
)

// failingStore rejects upserts of one key.
type failingStore struct {
	*memory.Store
	failKey string
}

func (s *failingStore) UpsertAttributeRow(ctx context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	if row.Key == s.failKey {
		return domain.AttributeRow{}, errors.New("disk full")
	}
	return s.Store.UpsertAttributeRow(ctx, row)
}

func (s *failingStore) RunInTransaction(ctx context.Context, fn func(tx domain.RowTx) error) error {
	return s.Store.RunInTransaction(ctx, func(tx domain.RowTx) error {
		return fn(&failingTx{RowTx: tx, failKey: s.failKey})
	})
}

type failingTx struct {
	domain.RowTx
	failKey string
}

func (tx *failingTx) UpsertAttributeRow(ctx context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	if row.Key == tx.failKey {
		return domain.AttributeRow{}, errors.New("disk full")
	}
	return tx.RowTx.UpsertAttributeRow(ctx, row)
}

func TestReconcileKeepsRowIdentity(t *testing.T) {
	store := memory.NewStore()
	r := NewReconciler(store, false)
	first, err := r.Reconcile(context.Background(), "u1", []domain.AttributeRow{{Key: "bio", Value: "a"}, {Key: "nick", Value: "b"}})
	if err != nil || len(first) != 2 {
		t.Fatalf("Reconcile: %v %v", first, err)
	}
	second, err := r.Reconcile(context.Background(), "u1", []domain.AttributeRow{{Key: "bio", Value: "c", ID: "forged"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if second[0].ID != first[0].ID || second[0].Value != "c" {
		t.Fatalf("expected update in place, got %+v want id %s", second[0], first[0].ID)
	}
	if store.Len() != 2 {
		t.Fatalf("expected two rows, got %d", store.Len())
	}
	if _, err := r.Reconcile(context.Background(), "", first); !errors.Is(err, domain.ErrEmptyOwner) {
		t.Fatalf("expected ErrEmptyOwner, got %v", err)
	}
}

func TestReconcileConcurrentWritersNeverDuplicate(t *testing.T) {
	store := memory.NewStore()
	r := NewReconciler(store, false)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Reconcile(context.Background(), "u1", []domain.AttributeRow{{Key: "bio", Value: string(rune('a' + i))}})
		}()
	}
	wg.Wait()
	if store.Len() != 1 {
		t.Fatalf("expected a single row for (u1, bio), got %d", store.Len())
	}
}

func TestReconcileFailureWrapsPersistenceError(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), failKey: "nick"}
	rows := []domain.AttributeRow{{Key: "bio", Value: "a"}, {Key: "nick", Value: "b"}, {Key: "age", Value: "3"}}

	saved, err := NewReconciler(store, false).Reconcile(context.Background(), "u1", rows)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	var rowErr domain.RowError
	if !errors.As(err, &rowErr) || rowErr.Key != "nick" || rowErr.OwnerID != "u1" {
		t.Fatalf("expected RowError naming nick, got %#v", err)
	}
	if len(saved) != 1 || store.Len() != 1 {
		t.Fatalf("expected the row before the failure to stay written, saved=%d stored=%d", len(saved), store.Len())
	}

	atomicStore := &failingStore{Store: memory.NewStore(), failKey: "nick"}
	if _, err := NewReconciler(atomicStore, true).Reconcile(context.Background(), "u1", rows); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if atomicStore.Len() != 0 {
		t.Fatalf("expected atomic batch to leave nothing behind, got %d rows", atomicStore.Len())
	}
}

func TestReconcileStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.NewStore()
	if _, err := NewReconciler(store, false).Reconcile(ctx, "u1", []domain.AttributeRow{{Key: "bio"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected nothing written")
	}
}
