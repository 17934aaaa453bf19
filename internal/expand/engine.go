package expand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expandable/internal/observability"
	"expandable/pkg/domain"
)

// HostWriteFunc persists the host record itself. It runs after validation
// passed and before any attribute row is written, and may assign the
// record's id.
type HostWriteFunc func(ctx context.Context, record *domain.HostRecord) error

// Deps are the host collaborators an engine consumes.
type Deps struct {
	Schema    domain.SchemaSource
	Store     domain.RowStore
	Validator domain.RowValidator
}

// Engine binds the attribute pipeline to one host type and its immutable
// encoding configuration.
type Engine struct {
	hostType   string
	cfg        domain.EncodingConfig
	pipeline   *Pipeline
	schema     domain.SchemaSource
	store      domain.RowStore
	validator  domain.RowValidator
	reconciler *Reconciler
	logger     observability.Logger
	metrics    *Metrics
	nowFn      func() time.Time
	atomic     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used for date defaults.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithAtomicBatches makes each write's attribute rows commit or fail as a unit.
func WithAtomicBatches(atomic bool) Option {
	return func(e *Engine) { e.atomic = atomic }
}

// NewEngine constructs an engine for hostType.
func NewEngine(hostType string, cfg domain.EncodingConfig, deps Deps, opts ...Option) (*Engine, error) {
	if hostType == "" {
		return nil, errors.New("expand: host type must not be empty")
	}
	if deps.Schema == nil {
		return nil, errors.New("expand: schema source is required")
	}
	if deps.Store == nil {
		return nil, errors.New("expand: row store is required")
	}
	e := &Engine{
		hostType:  hostType,
		cfg:       cfg,
		schema:    deps.Schema,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    observability.NopLogger(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(observability.String("host_type", hostType))
	e.pipeline = NewPipeline(cfg, e.nowFn)
	e.reconciler = NewReconciler(e.store, e.atomic)
	if overlap := cfg.OverlappingKeys(); len(overlap) > 0 {
		e.logger.Warn("keys configured for both date and csv encoding", observability.Strings("keys", overlap))
	}
	return e, nil
}

// HostType returns the host type the engine is bound to.
func (e *Engine) HostType() string { return e.hostType }

// Config returns the engine's encoding configuration.
func (e *Engine) Config() domain.EncodingConfig { return e.cfg }

// Pipeline returns the encoding pipeline.
func (e *Engine) Pipeline() *Pipeline { return e.pipeline }

// Extract classifies record's extra attributes and encodes them into
// candidate rows owned by record. Values the pipeline cannot encode are
// reported as errors under their key and produce no row. Blank keys are
// passed through unencoded for Aggregate to report under the system key.
func (e *Engine) Extract(record *domain.HostRecord) ([]domain.AttributeRow, domain.ValidationErrors) {
	errs := domain.ValidationErrors{}
	if record == nil {
		return nil, errs
	}
	schema, ok := e.schema.GetSchemaKeys(e.hostType)
	if !ok {
		schema = nil
	}
	extra := Classify(record.Attributes, schema, e.schema.GetAssociationKeys(e.hostType), e.cfg.RestrictedKeys())
	if extra.Len() == 0 {
		return nil, errs
	}
	rows := make([]domain.AttributeRow, 0, extra.Len())
	for key, value := range extra.All() {
		if domain.IsBlankKey(key) {
			rows = append(rows, domain.AttributeRow{OwnerID: record.ID, Key: key})
			continue
		}
		encoded, err := e.pipeline.Encode(key, value)
		if err != nil {
			e.logger.Debug("attribute value not encodable", observability.String("key", key), observability.Error(err))
			errs.Add(key, "value cannot be stored")
			continue
		}
		rows = append(rows, domain.AttributeRow{OwnerID: record.ID, Key: key, Value: encoded})
	}
	return rows, errs
}

// Validate extracts record's rows and validates them together with the
// host's own errors, which it extends in place when non-nil. It reports
// whether the write may proceed and returns the candidate rows.
func (e *Engine) Validate(ctx context.Context, record *domain.HostRecord, hostErrs domain.ValidationErrors) (bool, []domain.AttributeRow, error) {
	if hostErrs == nil {
		hostErrs = domain.ValidationErrors{}
	}
	start := time.Now()
	rows, encodeErrs := e.Extract(record)
	hostErrs.Merge(encodeErrs)
	ok, err := Aggregate(ctx, hostErrs, rows, e.validator)
	e.metrics.observe(e.hostType, "validate", err, start)
	return ok, rows, err
}

// Save runs the write cycle: validate everything, then write the host
// record through write (may be nil), then reconcile the attribute rows.
// When validation fails nothing is written and Save returns false with a
// nil error; the messages are in hostErrs, which may be nil when the caller
// has no host errors to contribute.
func (e *Engine) Save(ctx context.Context, record *domain.HostRecord, hostErrs domain.ValidationErrors, write HostWriteFunc) (ok bool, err error) {
	if record == nil {
		return false, errors.New("expand: record must not be nil")
	}
	if hostErrs == nil {
		hostErrs = domain.ValidationErrors{}
	}
	start := time.Now()
	defer func() { e.metrics.observe(e.hostType, "save", err, start) }()

	valid, rows, err := e.Validate(ctx, record, hostErrs)
	if err != nil {
		return false, err
	}
	if !valid {
		e.metrics.rejected(e.hostType)
		e.logger.Info("attribute write rejected",
			observability.String("owner_id", record.ID),
			observability.Strings("fields", hostErrs.Fields()))
		return false, nil
	}

	if write != nil {
		if err := write(ctx, record); err != nil {
			return false, fmt.Errorf("write host record: %w", err)
		}
	}
	if len(rows) == 0 {
		return true, nil
	}

	saved, err := e.reconciler.Reconcile(ctx, record.ID, rows)
	e.metrics.persisted(e.hostType, len(saved))
	if err != nil {
		e.logger.Error("attribute rows not persisted",
			observability.String("owner_id", record.ID),
			observability.Int("persisted", len(saved)),
			observability.Error(err))
		return false, err
	}
	e.logger.Debug("attribute rows persisted",
		observability.String("owner_id", record.ID),
		observability.Int("rows", len(saved)))
	return true, nil
}

// Load reads record's stored rows and merges them into its attributes.
func (e *Engine) Load(ctx context.Context, record *domain.HostRecord) (err error) {
	start := time.Now()
	defer func() { e.metrics.observe(e.hostType, "load", err, start) }()
	if record == nil {
		return nil
	}
	if record.ID == "" {
		return domain.ErrEmptyOwner
	}
	rows, err := e.store.FindRowsByOwner(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("load attribute rows for %s: %w", record.ID, err)
	}
	Merge(record, rows, e.pipeline)
	return nil
}

// LoadAll merges stored rows into every record, stopping at the first error.
func (e *Engine) LoadAll(ctx context.Context, records []*domain.HostRecord) error {
	for _, record := range records {
		if err := e.Load(ctx, record); err != nil {
			return err
		}
	}
	return nil
}
