package domain

import "context"

// SchemaSource describes the host mapping layer's knowledge of a host type.
type SchemaSource interface {
	// GetSchemaKeys returns the core attribute names. ok is false when the
	// host type is not configured.
	GetSchemaKeys(hostType string) (keys KeySet, ok bool)
	// GetAssociationKeys returns relation names excluded from extra attributes.
	GetAssociationKeys(hostType string) KeySet
}

// RowReader exposes the lookup side of the side table.
type RowReader interface {
	// FindAttributeRow returns the id of the row stored for (ownerID, key).
	FindAttributeRow(ctx context.Context, ownerID, key string) (id string, found bool, err error)
	// FindRowsByOwner returns the rows owned by ownerID in stable order.
	FindRowsByOwner(ctx context.Context, ownerID string) ([]AttributeRow, error)
}

// RowTx exposes the operations available within an atomic row batch.
type RowTx interface {
	RowReader
	// UpsertAttributeRow inserts or updates the row keyed on (OwnerID, Key)
	// atomically and returns it with its assigned id.
	UpsertAttributeRow(ctx context.Context, row AttributeRow) (AttributeRow, error)
}

// RowStore is the durable side table consumed by the engine.
type RowStore interface {
	RowTx
	// RunInTransaction applies fn atomically: either every upsert issued
	// through tx is visible afterwards or none is.
	RunInTransaction(ctx context.Context, fn func(tx RowTx) error) error
}

// RowValidator validates candidate rows as a batch and returns error
// messages keyed by attribute key.
type RowValidator interface {
	ValidateRows(ctx context.Context, rows []AttributeRow) (map[string][]string, error)
}

// StaticSchema is a map-backed SchemaSource for hosts that declare their
// schema up front.
type StaticSchema struct {
	Schemas      map[string]KeySet
	Associations map[string]KeySet
}

// GetSchemaKeys implements SchemaSource.
func (s StaticSchema) GetSchemaKeys(hostType string) (KeySet, bool) {
	keys, ok := s.Schemas[hostType]
	return keys, ok
}

// GetAssociationKeys implements SchemaSource.
func (s StaticSchema) GetAssociationKeys(hostType string) KeySet {
	return s.Associations[hostType]
}
