package core

import (
	"context"
	"fmt"
	"slices"

	"expandable/internal/config"
	"expandable/internal/infra/persistence/memory"
	"expandable/internal/infra/persistence/postgres"
	"expandable/internal/infra/persistence/sqlite"
	"expandable/internal/infra/persistence/sqlrows"
	"expandable/pkg/domain"
)

// StorageDriver identifies a concrete row store implementation.
type StorageDriver = config.StorageDriver

const (
	StorageMemory   = config.StorageMemory
	StorageSQLite   = config.StorageSQLite
	StoragePostgres = config.StoragePostgres
)

// OpenRowStores selects a backend from cfg and opens one row store per host
// type in tables (host type to side table). Stores of the sql drivers share
// one connection. An empty driver selects sqlite. The returned close
// function releases the backend's connections.
func OpenRowStores(ctx context.Context, cfg config.StorageConfig, tables map[string]string) (map[string]domain.RowStore, func() error, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	hostTypes := make([]string, 0, len(tables))
	for hostType := range tables {
		hostTypes = append(hostTypes, hostType)
	}
	slices.Sort(hostTypes)
	stores := make(map[string]domain.RowStore, len(tables))
	nop := func() error { return nil }

	var base *sqlrows.Store
	var closeBase func() error
	switch driver {
	case StorageMemory:
		byTable := make(map[string]*memory.Store, len(tables))
		for _, hostType := range hostTypes {
			table := tables[hostType]
			if byTable[table] == nil {
				byTable[table] = memory.NewStore()
			}
			stores[hostType] = byTable[table]
		}
		return stores, nop, nil
	case StorageSQLite, StoragePostgres:
		if len(hostTypes) == 0 {
			return stores, nop, nil
		}
		first := tables[hostTypes[0]]
		if driver == StorageSQLite {
			store, err := sqlite.NewStore(cfg.SQLitePath, first)
			if err != nil {
				return nil, nil, err
			}
			base, closeBase = store.Store, store.Close
		} else {
			store, err := postgres.NewStore(ctx, cfg.PostgresDSN, first)
			if err != nil {
				return nil, nil, err
			}
			base, closeBase = store.Store, store.Close
		}
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", driver)
	}

	for _, hostType := range hostTypes {
		store, err := base.ForTable(ctx, tables[hostType])
		if err != nil {
			_ = closeBase()
			return nil, nil, fmt.Errorf("host type %s: %w", hostType, err)
		}
		stores[hostType] = store
	}
	return stores, closeBase, nil
}
