// Package export writes per-owner attribute row snapshots to a blob store
// and reads them back for backfills. Snapshots are zstd-compressed JSON
// carrying an xxh3 checksum of the uncompressed payload.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"expandable/internal/blob"
	"expandable/internal/observability"
	"expandable/pkg/domain"
)

const (
	defaultConcurrency = 4
	defaultPrefix      = "snapshots/"
	fileSuffix         = ".json.zst"

	metaChecksum = "xxh3"
	metaRows     = "rows"
	metaOwner    = "owner-id"
)

// ErrChecksumMismatch is returned when a snapshot payload does not match
// its recorded checksum.
var ErrChecksumMismatch = errors.New("export: snapshot checksum mismatch")

// Snapshot is the exported form of one owner's attribute rows.
type Snapshot struct {
	HostType   string                `json:"host_type"`
	OwnerID    string                `json:"owner_id"`
	ExportedAt time.Time             `json:"exported_at"`
	Rows       []domain.AttributeRow `json:"rows"`
}

// Result describes one written snapshot.
type Result struct {
	OwnerID  string
	Key      string
	Rows     int
	Size     int64
	Checksum string
}

// Source resolves the row store holding a host type's attribute rows.
type Source interface {
	Store(hostType string) (domain.RowStore, error)
}

// Stores is a map-backed Source.
type Stores map[string]domain.RowStore

// Store implements Source.
func (s Stores) Store(hostType string) (domain.RowStore, error) {
	store, ok := s[hostType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownHostType, hostType)
	}
	return store, nil
}

// Exporter writes snapshots with bounded concurrency.
type Exporter struct {
	source      Source
	blobs       blob.Store
	prefix      string
	concurrency int
	logger      observability.Logger
	nowFn       func() time.Time
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithPrefix sets the key prefix snapshots are written under.
func WithPrefix(prefix string) Option {
	return func(e *Exporter) {
		if prefix != "" {
			e.prefix = strings.TrimSuffix(prefix, "/") + "/"
		}
	}
}

// WithConcurrency bounds the number of owners exported at once.
func WithConcurrency(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// New constructs an exporter reading rows from source and writing to blobs.
func New(source Source, blobs blob.Store, opts ...Option) (*Exporter, error) {
	if source == nil || blobs == nil {
		return nil, errors.New("export: row source and blob store are required")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("export: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("export: zstd decoder: %w", err)
	}
	e := &Exporter{
		source:      source,
		blobs:       blobs,
		prefix:      defaultPrefix,
		concurrency: defaultConcurrency,
		logger:      observability.NopLogger(),
		nowFn:       func() time.Time { return time.Now().UTC() },
		encoder:     enc,
		decoder:     dec,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the zstd encoder and decoder.
func (e *Exporter) Close() error {
	err := e.encoder.Close()
	e.decoder.Close()
	return err
}

// Key returns the blob key of ownerID's snapshot for hostType.
func (e *Exporter) Key(hostType, ownerID string) string {
	return e.prefix + hostType + "/" + ownerID + fileSuffix
}

// Export writes a snapshot per owner of hostType's rows. The first failure
// cancels the remaining exports; results are returned in ownerIDs order.
func (e *Exporter) Export(ctx context.Context, hostType string, ownerIDs []string) ([]Result, error) {
	if hostType == "" {
		return nil, errors.New("export: host type must not be empty")
	}
	rows, err := e.source.Store(hostType)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	results := make([]Result, len(ownerIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, ownerID := range ownerIDs {
		g.Go(func() error {
			res, err := e.exportOwner(gctx, rows, hostType, ownerID)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.logger.Info("attribute snapshots exported",
		observability.String("host_type", hostType),
		observability.Int("owners", len(ownerIDs)))
	return results, nil
}

func (e *Exporter) exportOwner(ctx context.Context, reader domain.RowReader, hostType, ownerID string) (Result, error) {
	if ownerID == "" {
		return Result{}, domain.ErrEmptyOwner
	}
	rows, err := reader.FindRowsByOwner(ctx, ownerID)
	if err != nil {
		return Result{}, fmt.Errorf("export %s: read rows: %w", ownerID, err)
	}
	if rows == nil {
		rows = []domain.AttributeRow{}
	}
	raw, err := json.Marshal(Snapshot{HostType: hostType, OwnerID: ownerID, ExportedAt: e.nowFn(), Rows: rows})
	if err != nil {
		return Result{}, fmt.Errorf("export %s: encode: %w", ownerID, err)
	}
	checksum := strconv.FormatUint(xxh3.Hash(raw), 16)
	compressed := e.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	key := e.Key(hostType, ownerID)
	info, err := e.blobs.Put(ctx, key, bytes.NewReader(compressed), blob.PutOptions{
		ContentType:     "application/json",
		ContentEncoding: "zstd",
		Metadata: map[string]string{
			metaChecksum: checksum,
			metaRows:     strconv.Itoa(len(rows)),
			metaOwner:    ownerID,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("export %s: write %s: %w", ownerID, key, err)
	}
	e.logger.Debug("attribute snapshot written",
		observability.String("key", key),
		observability.Int("rows", len(rows)))
	return Result{OwnerID: ownerID, Key: key, Rows: len(rows), Size: info.Size, Checksum: checksum}, nil
}

// Read loads and verifies the snapshot stored at key.
func (e *Exporter) Read(ctx context.Context, key string) (Snapshot, error) {
	info, rc, err := e.blobs.Get(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export: read %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	compressed, err := io.ReadAll(rc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export: read %s: %w", key, err)
	}
	raw, err := e.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export: decompress %s: %w", key, err)
	}
	if want := info.Metadata[metaChecksum]; want != "" && want != strconv.FormatUint(xxh3.Hash(raw), 16) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrChecksumMismatch, key)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("export: decode %s: %w", key, err)
	}
	return snap, nil
}

// Restore upserts the snapshot's rows into the store of its host type
// inside one transaction and returns the number of rows written.
func (e *Exporter) Restore(ctx context.Context, snap Snapshot) (int, error) {
	if snap.OwnerID == "" {
		return 0, domain.ErrEmptyOwner
	}
	store, err := e.source.Store(snap.HostType)
	if err != nil {
		return 0, fmt.Errorf("export: restore: %w", err)
	}
	written := 0
	err = store.RunInTransaction(ctx, func(tx domain.RowTx) error {
		written = 0
		for _, row := range snap.Rows {
			row.OwnerID = snap.OwnerID
			if _, err := tx.UpsertAttributeRow(ctx, row); err != nil {
				return domain.RowError{OwnerID: snap.OwnerID, Key: row.Key, Err: fmt.Errorf("%w: restore: %w", domain.ErrPersistence, err)}
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
