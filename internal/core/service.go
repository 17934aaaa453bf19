// Package core assembles an expandable deployment from configuration: one
// row store per host type side table (optionally cached), one engine per
// host type with its validator, and the snapshot exporter.
package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"expandable/internal/blob"
	"expandable/internal/cache"
	"expandable/internal/config"
	"expandable/internal/expand"
	"expandable/internal/export"
	"expandable/internal/observability"
	"expandable/internal/validation"
	"expandable/pkg/domain"
)

// Service exposes the engine operations of every configured host type. Each
// host type reads and writes only its own side table.
type Service struct {
	cfg      *config.Config
	logger   observability.Logger
	stores   map[string]domain.RowStore
	schema   domain.SchemaSource
	engines  map[string]*expand.Engine
	blobs    blob.Store
	exporter *export.Exporter
	closers  []func() error
}

type serviceOptions struct {
	logger     observability.Logger
	registerer prometheus.Registerer
	stores     map[string]domain.RowStore
	redis      redis.Cmdable
	blobs      blob.Store
	schema     domain.SchemaSource
	nowFn      func() time.Time
}

// Option configures a Service.
type Option func(*serviceOptions)

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger: observability.NopLogger(),
		stores: make(map[string]domain.RowStore),
		nowFn:  time.Now,
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger observability.Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers engine and cache metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *serviceOptions) { o.registerer = reg }
}

// WithRowStore uses store for hostType's rows instead of opening its table
// with the configured driver.
func WithRowStore(hostType string, store domain.RowStore) Option {
	return func(o *serviceOptions) {
		if store != nil {
			o.stores[hostType] = store
		}
	}
}

// WithRedisClient uses client for the row cache instead of dialing the
// configured URL. The cache must still be enabled in configuration.
func WithRedisClient(client redis.Cmdable) Option {
	return func(o *serviceOptions) { o.redis = client }
}

// WithBlobStore uses store for snapshot export instead of the configured driver.
func WithBlobStore(store blob.Store) Option {
	return func(o *serviceOptions) { o.blobs = store }
}

// WithSchemaSource replaces the schema declared in configuration.
func WithSchemaSource(schema domain.SchemaSource) Option {
	return func(o *serviceOptions) { o.schema = schema }
}

// WithClock overrides the clock used for date defaults and snapshot times.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.nowFn = now
		}
	}
}

// NewService builds the row store, engines and exporter described by cfg.
func NewService(ctx context.Context, cfg *config.Config, opts ...Option) (svc *Service, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	svc = &Service{
		cfg:     cfg,
		logger:  o.logger,
		stores:  make(map[string]domain.RowStore, len(cfg.HostTypes)),
		engines: make(map[string]*expand.Engine, len(cfg.HostTypes)),
	}
	built := svc
	defer func() {
		if err != nil {
			_ = built.Close()
			svc = nil
		}
	}()

	tables := cfg.Tables()
	for hostType := range o.stores {
		delete(tables, hostType)
	}
	opened, closeStores, err := OpenRowStores(ctx, cfg.Storage, tables)
	if err != nil {
		return nil, fmt.Errorf("open row stores: %w", err)
	}
	svc.closers = append(svc.closers, closeStores)
	var client redis.Cmdable
	var cacheMetrics *cache.Metrics
	if cfg.Cache.Enabled {
		if client, err = svc.cacheClient(o); err != nil {
			return nil, err
		}
		cacheMetrics = cache.NewMetrics(o.registerer)
	}
	for _, hostType := range cfg.HostTypeNames() {
		store, ok := o.stores[hostType]
		if !ok {
			store = opened[hostType]
		}
		if client != nil {
			if store, err = svc.wrapCache(hostType, store, client, cacheMetrics, o); err != nil {
				return nil, err
			}
		}
		svc.stores[hostType] = store
	}

	svc.schema = o.schema
	if svc.schema == nil {
		svc.schema = cfg.Schema()
	}
	metrics := expand.NewMetrics(o.registerer)
	for _, hostType := range cfg.HostTypeNames() {
		engine, err := svc.buildEngine(hostType, cfg.HostTypes[hostType], metrics, o)
		if err != nil {
			return nil, fmt.Errorf("host type %s: %w", hostType, err)
		}
		svc.engines[hostType] = engine
	}

	svc.blobs = o.blobs
	if svc.blobs == nil {
		svc.blobs, err = blob.Open(ctx, blob.ConfigFromEnv(cfg.Export.Blob()))
		if err != nil {
			return nil, fmt.Errorf("open export store: %w", err)
		}
	}
	svc.exporter, err = export.New(svc, svc.blobs,
		export.WithPrefix(cfg.Export.Prefix),
		export.WithConcurrency(cfg.Export.Concurrency),
		export.WithLogger(o.logger),
		export.WithClock(func() time.Time { return o.nowFn().UTC() }))
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, svc.exporter.Close)

	o.logger.Info("expandable service ready",
		observability.String("storage", string(cfg.Storage.Driver)),
		observability.Bool("cache", cfg.Cache.Enabled),
		observability.Strings("host_types", svc.HostTypes()))
	return svc, nil
}

var _ export.Source = (*Service)(nil)

func (s *Service) cacheClient(o serviceOptions) (redis.Cmdable, error) {
	if o.redis != nil {
		return o.redis, nil
	}
	c, err := cache.NewClient(s.cfg.Cache.RedisURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, c.Close)
	return c, nil
}

// wrapCache caches hostType's rows under its own key prefix.
func (s *Service) wrapCache(hostType string, next domain.RowStore, client redis.Cmdable, metrics *cache.Metrics, o serviceOptions) (domain.RowStore, error) {
	return cache.New(next, client,
		cache.WithPrefix(s.cfg.Cache.KeyPrefix+hostType+":"),
		cache.WithTTL(s.cfg.Cache.TTL.Duration()),
		cache.WithHashedKeys(s.cfg.Cache.HashKeys),
		cache.WithLogger(o.logger.With(observability.String("host_type", hostType))),
		cache.WithMetrics(metrics))
}

func (s *Service) buildEngine(hostType string, hc config.HostTypeConfig, metrics *expand.Metrics, o serviceOptions) (*expand.Engine, error) {
	rules := validation.NewDefaultRulesEngine()
	for _, spec := range hc.RuleSpecs() {
		rule, err := validation.NewExpressionRule(spec)
		if err != nil {
			return nil, err
		}
		rules.Register(rule)
	}
	return expand.NewEngine(hostType, hc.EncodingConfig(), expand.Deps{
		Schema:    s.schema,
		Store:     s.stores[hostType],
		Validator: validation.NewValidator(rules, o.logger),
	},
		expand.WithLogger(o.logger),
		expand.WithMetrics(metrics),
		expand.WithClock(o.nowFn),
		expand.WithAtomicBatches(s.cfg.Storage.AtomicBatches))
}

// Engine returns the engine bound to hostType.
func (s *Service) Engine(hostType string) (*expand.Engine, error) {
	engine, ok := s.engines[hostType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownHostType, hostType)
	}
	return engine, nil
}

// HostTypes returns the configured host types in sorted order.
func (s *Service) HostTypes() []string {
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Store returns the row store holding hostType's attribute rows. It
// implements export.Source.
func (s *Service) Store(hostType string) (domain.RowStore, error) {
	store, ok := s.stores[hostType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownHostType, hostType)
	}
	return store, nil
}

// Blobs returns the snapshot blob store.
func (s *Service) Blobs() blob.Store { return s.blobs }

// Exporter returns the snapshot exporter.
func (s *Service) Exporter() *export.Exporter { return s.exporter }

// Save runs the write cycle for record with the engine of its host type.
func (s *Service) Save(ctx context.Context, record *domain.HostRecord, hostErrs domain.ValidationErrors, write expand.HostWriteFunc) (bool, error) {
	if record == nil {
		return false, errors.New("core: record must not be nil")
	}
	engine, err := s.Engine(record.Type)
	if err != nil {
		return false, err
	}
	return engine.Save(ctx, record, hostErrs, write)
}

// Load merges record's stored attributes into it.
func (s *Service) Load(ctx context.Context, record *domain.HostRecord) error {
	if record == nil {
		return nil
	}
	engine, err := s.Engine(record.Type)
	if err != nil {
		return err
	}
	return engine.Load(ctx, record)
}

// Export writes snapshots of ownerIDs' rows for hostType.
func (s *Service) Export(ctx context.Context, hostType string, ownerIDs []string) ([]export.Result, error) {
	if _, err := s.Engine(hostType); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, hostType, ownerIDs)
}

// Close releases the row store, cache client and exporter.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
