package expand

import (
	"context"
	"fmt"

	"expandable/pkg/domain"
)

// Reconciler writes candidate rows to the side table so that every
// (owner, key) pair maps to at most one stored row.
type Reconciler struct {
	store  domain.RowStore
	atomic bool
}

// NewReconciler constructs a reconciler over store. With atomic set, a batch
// is applied inside one store transaction and a failing row discards the
// rows written before it.
func NewReconciler(store domain.RowStore, atomic bool) *Reconciler {
	return &Reconciler{store: store, atomic: atomic}
}

// Reconcile upserts rows for ownerID in order. Existing rows keep their id;
// the store's upsert resolves concurrent creates on (owner, key). It returns
// the stored rows. On failure the error wraps domain.ErrPersistence and a
// domain.RowError naming the failing key; without atomic batches the rows
// before it stay written.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID string, rows []domain.AttributeRow) ([]domain.AttributeRow, error) {
	if ownerID == "" {
		return nil, domain.ErrEmptyOwner
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if !r.atomic {
		return reconcileRows(ctx, r.store, ownerID, rows)
	}
	var saved []domain.AttributeRow
	err := r.store.RunInTransaction(ctx, func(tx domain.RowTx) error {
		var err error
		saved, err = reconcileRows(ctx, tx, ownerID, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func reconcileRows(ctx context.Context, tx domain.RowTx, ownerID string, rows []domain.AttributeRow) ([]domain.AttributeRow, error) {
	saved := make([]domain.AttributeRow, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		id, found, err := tx.FindAttributeRow(ctx, ownerID, row.Key)
		if err != nil {
			return saved, rowError(ownerID, row.Key, fmt.Errorf("lookup: %w", err))
		}
		row.OwnerID = ownerID
		row.ID = ""
		if found {
			row.ID = id
		}
		stored, err := tx.UpsertAttributeRow(ctx, row)
		if err != nil {
			return saved, rowError(ownerID, row.Key, fmt.Errorf("upsert: %w", err))
		}
		saved = append(saved, stored)
	}
	return saved, nil
}

func rowError(ownerID, key string, err error) error {
	return domain.RowError{
		OwnerID: ownerID,
		Key:     key,
		Err:     fmt.Errorf("%w: %w", domain.ErrPersistence, err),
	}
}
