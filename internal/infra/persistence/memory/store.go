// Package memory provides an in-memory implementation of the attribute row
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"expandable/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.RowStore = (*Store)(nil)

// Snapshot is the exported form of the store state.
type Snapshot struct {
	Rows []domain.AttributeRow `json:"rows"`
}

type storedRow struct {
	row domain.AttributeRow
	seq uint64
}

type memoryState struct {
	rows  map[string]storedRow
	index map[domain.RowKey]string
	seq   uint64
}

func newMemoryState() memoryState {
	return memoryState{
		rows:  make(map[string]storedRow),
		index: make(map[domain.RowKey]string),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		rows:  make(map[string]storedRow, len(s.rows)),
		index: make(map[domain.RowKey]string, len(s.index)),
		seq:   s.seq,
	}
	for id, r := range s.rows {
		out.rows[id] = r
	}
	for k, id := range s.index {
		out.index[k] = id
	}
	return out
}

// Store provides an in-memory transactional row store. Upserts are keyed on
// (owner, key) under the store lock, so concurrent writers never create two
// rows for the same pair.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for row timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.nowFn = now
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Rows: s.state.ordered(func(domain.AttributeRow) bool { return true })}
}

// ImportState replaces the store state with the provided snapshot. Later
// rows win when the snapshot repeats an (owner, key) pair.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for _, row := range snapshot.Rows {
		if id, ok := state.index[row.UniqueKey()]; ok {
			delete(state.rows, id)
		}
		state.seq++
		state.rows[row.ID] = storedRow{row: row, seq: state.seq}
		state.index[row.UniqueKey()] = row.ID
	}
	s.state = state
}

// FindAttributeRow implements domain.RowReader.
func (s *Store) FindAttributeRow(_ context.Context, ownerID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.find(ownerID, key)
}

// FindRowsByOwner implements domain.RowReader.
func (s *Store) FindRowsByOwner(_ context.Context, ownerID string) ([]domain.AttributeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.byOwner(ownerID), nil
}

// UpsertAttributeRow implements domain.RowTx.
func (s *Store) UpsertAttributeRow(_ context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.upsert(row, s.nowFn())
}

// RunInTransaction executes fn against a transactional copy of the store
// state and commits it only if fn succeeds. fn must not call the Store
// directly; it holds the store lock.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.RowTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), now: s.nowFn()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.rows)
}

type transaction struct {
	state memoryState
	now   time.Time
}

func (tx *transaction) FindAttributeRow(_ context.Context, ownerID, key string) (string, bool, error) {
	return tx.state.find(ownerID, key)
}

func (tx *transaction) FindRowsByOwner(_ context.Context, ownerID string) ([]domain.AttributeRow, error) {
	return tx.state.byOwner(ownerID), nil
}

func (tx *transaction) UpsertAttributeRow(_ context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	return tx.state.upsert(row, tx.now)
}

func (s *memoryState) find(ownerID, key string) (string, bool, error) {
	id, ok := s.index[domain.RowKey{OwnerID: ownerID, Key: key}]
	return id, ok, nil
}

func (s *memoryState) byOwner(ownerID string) []domain.AttributeRow {
	return s.ordered(func(r domain.AttributeRow) bool { return r.OwnerID == ownerID })
}

func (s *memoryState) ordered(keep func(domain.AttributeRow) bool) []domain.AttributeRow {
	entries := make([]storedRow, 0)
	for _, r := range s.rows {
		if keep(r.row) {
			entries = append(entries, r)
		}
	}
	slices.SortFunc(entries, func(a, b storedRow) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	out := make([]domain.AttributeRow, len(entries))
	for i, e := range entries {
		out[i] = e.row
	}
	return out
}

func (s *memoryState) upsert(row domain.AttributeRow, now time.Time) (domain.AttributeRow, error) {
	if row.OwnerID == "" {
		return domain.AttributeRow{}, domain.ErrEmptyOwner
	}
	if domain.IsBlankKey(row.Key) {
		return domain.AttributeRow{}, errors.New("memory: attribute key must not be blank")
	}
	if id, ok := s.index[row.UniqueKey()]; ok {
		existing := s.rows[id]
		existing.row.Value = row.Value
		existing.row.Modified = now
		s.rows[id] = existing
		return existing.row, nil
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	} else if other, taken := s.rows[row.ID]; taken {
		return domain.AttributeRow{}, fmt.Errorf("memory: row id %s already holds %q for owner %s", row.ID, other.row.Key, other.row.OwnerID)
	}
	row.Created = now
	row.Modified = now
	s.seq++
	s.rows[row.ID] = storedRow{row: row, seq: s.seq}
	s.index[row.UniqueKey()] = row.ID
	return row, nil
}
