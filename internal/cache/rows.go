// Package cache provides a Redis read-through cache in front of an attribute
// row store. Only the per-owner row listing read by MergeOnRead is cached;
// lookups used to preserve row ids always reach the backing store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"

	"expandable/internal/observability"
	"expandable/pkg/domain"
)

// Compile-time contract assertion ensuring the cache satisfies the domain interface.
var _ domain.RowStore = (*Store)(nil)

const (
	defaultPrefix = "expandable:"
	defaultTTL    = 5 * time.Minute
)

// Metrics counts cache hits and misses. A nil *Metrics records nothing.
type Metrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
	errors prometheus.Counter
}

// NewMetrics creates the cache collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "expandable", Subsystem: "cache", Name: name, Help: help}
	}
	return &Metrics{
		hits:   factory.NewCounter(opts("hits_total", "Owner row listings served from the cache")),
		misses: factory.NewCounter(opts("misses_total", "Owner row listings read from the backing store")),
		errors: factory.NewCounter(opts("errors_total", "Cache operations that failed and fell back to the store")),
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.errors.Inc()
	}
}

// Store wraps a domain.RowStore with a Redis read-through cache.
type Store struct {
	next     domain.RowStore
	client   redis.Cmdable
	prefix   string
	ttl      time.Duration
	hashKeys bool
	logger   observability.Logger
	metrics  *Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithHashedKeys stores entries under an xxh3 digest of the owner id.
func WithHashedKeys(hash bool) Option {
	return func(s *Store) { s.hashKeys = hash }
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New wraps next with a cache backed by client.
func New(next domain.RowStore, client redis.Cmdable, opts ...Option) (*Store, error) {
	if next == nil {
		return nil, errors.New("cache: backing store is required")
	}
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	s := &Store{
		next:   next,
		client: client,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Key returns the cache key holding ownerID's rows.
func (s *Store) Key(ownerID string) string {
	if s.hashKeys {
		return s.prefix + "rows:" + strconv.FormatUint(xxh3.HashString(ownerID), 16)
	}
	return s.prefix + "rows:" + ownerID
}

// FindAttributeRow implements domain.RowReader and always reads the backing store.
func (s *Store) FindAttributeRow(ctx context.Context, ownerID, key string) (string, bool, error) {
	return s.next.FindAttributeRow(ctx, ownerID, key)
}

// FindRowsByOwner implements domain.RowReader. Cache failures fall back to
// the backing store.
func (s *Store) FindRowsByOwner(ctx context.Context, ownerID string) ([]domain.AttributeRow, error) {
	key := s.Key(ownerID)
	payload, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rows []domain.AttributeRow
		uerr := json.Unmarshal(payload, &rows)
		if uerr == nil {
			s.metrics.hit()
			return rows, nil
		}
		s.fail("decode cached rows", ownerID, uerr)
	case errors.Is(err, redis.Nil):
	default:
		s.fail("read cached rows", ownerID, err)
	}
	s.metrics.miss()

	rows, err := s.next.FindRowsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if data, merr := json.Marshal(rows); merr != nil {
		s.fail("encode rows", ownerID, merr)
	} else if serr := s.client.Set(ctx, key, data, s.ttl).Err(); serr != nil {
		s.fail("store cached rows", ownerID, serr)
	}
	return rows, nil
}

// UpsertAttributeRow implements domain.RowTx and evicts the owner's entry.
func (s *Store) UpsertAttributeRow(ctx context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	saved, err := s.next.UpsertAttributeRow(ctx, row)
	if err != nil {
		return saved, err
	}
	s.evict(ctx, saved.OwnerID)
	return saved, nil
}

// RunInTransaction implements domain.RowStore. Owners written inside fn are
// evicted once the transaction has finished, committed or not.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.RowTx) error) error {
	touched := &ownerSet{}
	err := s.next.RunInTransaction(ctx, func(tx domain.RowTx) error {
		return fn(&transaction{RowTx: tx, touched: touched})
	})
	for _, owner := range touched.list() {
		s.evict(ctx, owner)
	}
	return err
}

// Invalidate drops the cached rows of ownerID.
func (s *Store) Invalidate(ctx context.Context, ownerID string) error {
	return s.client.Del(ctx, s.Key(ownerID)).Err()
}

func (s *Store) evict(ctx context.Context, ownerID string) {
	if err := s.Invalidate(context.WithoutCancel(ctx), ownerID); err != nil {
		s.fail("evict cached rows", ownerID, err)
	}
}

func (s *Store) fail(op, ownerID string, err error) {
	s.metrics.failed()
	s.logger.Warn("row cache "+op+" failed",
		observability.String("owner_id", ownerID),
		observability.Error(err))
}

type transaction struct {
	domain.RowTx
	touched *ownerSet
}

func (tx *transaction) UpsertAttributeRow(ctx context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	tx.touched.add(row.OwnerID)
	return tx.RowTx.UpsertAttributeRow(ctx, row)
}

type ownerSet struct {
	mu     sync.Mutex
	owners []string
	seen   map[string]struct{}
}

func (o *ownerSet) add(owner string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = make(map[string]struct{})
	}
	if _, ok := o.seen[owner]; ok {
		return
	}
	o.seen[owner] = struct{}{}
	o.owners = append(o.owners, owner)
}

func (o *ownerSet) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.owners...)
}
