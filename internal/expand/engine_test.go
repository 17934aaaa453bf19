package expand

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"expandable/internal/infra/persistence/memory"
	"expandable/internal/observability"
	"expandable/pkg/domain"
)

var usersSchema = domain.StaticSchema{
	Schemas:      map[string]domain.KeySet{"users": domain.NewKeySet("id", "name")},
	Associations: map[string]domain.KeySet{"users": domain.NewKeySet("Profile")},
}

func newUsersEngine(t *testing.T, store domain.RowStore, v domain.RowValidator, opts ...Option) *Engine {
	t.Helper()
	cfg := domain.NewEncodingConfig(domain.EncodingOptions{
		RestrictedKeys: []string{"password"},
		CSVKeys:        []string{"states"},
		DateKeys:       map[string]string{"birthday": "%m/%d"},
	})
	e, err := NewEngine("users", cfg, Deps{Schema: usersSchema, Store: store, Validator: v}, append([]Option{WithClock(fixedNow)}, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngineSaveThenLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := memory.NewStore()
	e := newUsersEngine(t, store, &stubValidator{}, WithMetrics(metrics))

	record := domain.NewHostRecord("users", "u1",
		domain.Attribute{Key: "name", Value: "Ada"},
		domain.Attribute{Key: "password", Value: "secret"},
		domain.Attribute{Key: "Profile", Value: map[string]any{"id": "p1"}},
		domain.Attribute{Key: "prefs", Value: map[string]any{"theme": "dark"}},
		domain.Attribute{Key: "states", Value: []any{"CA", "NY"}},
		domain.Attribute{Key: "birthday", Value: map[string]any{"month": "1", "day": "2"}},
		domain.Attribute{Key: "admin", Value: false},
	)
	ok, err := e.Save(context.Background(), record, nil, nil)
	if err != nil || !ok {
		t.Fatalf("Save: ok=%v err=%v", ok, err)
	}
	if store.Len() != 4 {
		t.Fatalf("expected four rows, got %d", store.Len())
	}

	loaded := domain.NewHostRecord("users", "u1", domain.Attribute{Key: "name", Value: "Ada"}, domain.Attribute{Key: "admin", Value: "stale"})
	if err := e.Load(context.Background(), loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := map[string]any{"states": "CA,NY", "birthday": "01/02", "admin": false}
	for key, value := range want {
		if got, _ := loaded.Attributes.Get(key); got != value {
			t.Fatalf("%s: got %#v want %#v", key, got, value)
		}
	}
	if prefs, _ := loaded.Attributes.Get("prefs"); prefs.(map[string]any)["theme"] != "dark" {
		t.Fatalf("expected decoded prefs, got %#v", prefs)
	}
	if loaded.Attributes.Has("password") {
		t.Fatalf("restricted attribute must never be stored")
	}

	if got := testutil.ToFloat64(metrics.rowsPersisted.WithLabelValues("users")); got != 4 {
		t.Fatalf("expected 4 rows persisted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.operationsTotal.WithLabelValues("users", "load", "success")); got != 1 {
		t.Fatalf("expected one load, got %v", got)
	}
}

func TestEngineSaveIsAllOrNothing(t *testing.T) {
	store := memory.NewStore()
	core, logs := observer.New(zap.InfoLevel)
	v := &stubValidator{errs: map[string][]string{"bio": {"is too long"}}}
	e := newUsersEngine(t, store, v, WithLogger(observability.FromZap(zap.New(core))))

	hostWrites := 0
	write := func(context.Context, *domain.HostRecord) error { hostWrites++; return nil }
	record := domain.NewHostRecord("users", "u1", domain.Attribute{Key: "bio", Value: "x"}, domain.Attribute{Key: "nick", Value: "y"})
	hostErrs := domain.ValidationErrors{}
	ok, err := e.Save(context.Background(), record, hostErrs, write)
	if err != nil || ok {
		t.Fatalf("expected rejection, ok=%v err=%v", ok, err)
	}
	if hostWrites != 0 || store.Len() != 0 {
		t.Fatalf("expected nothing written, host=%d rows=%d", hostWrites, store.Len())
	}
	if hostErrs["bio"][0] != "is too long" {
		t.Fatalf("expected errors merged into host errors, got %v", hostErrs)
	}
	if logs.FilterMessage("attribute write rejected").Len() != 1 {
		t.Fatalf("expected rejection log entry")
	}
}

func TestEngineUnencodableValueIsAValidationError(t *testing.T) {
	cfg := domain.NewEncodingConfig(domain.EncodingOptions{JSONEncoding: domain.Bool(false)})
	store := memory.NewStore()
	e, err := NewEngine("users", cfg, Deps{Schema: usersSchema, Store: store})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	hostErrs := domain.ValidationErrors{}
	record := domain.NewHostRecord("users", "u1", domain.Attribute{Key: "prefs", Value: map[string]any{"a": 1}}, domain.Attribute{Key: "flag", Value: true})
	ok, err := e.Save(context.Background(), record, hostErrs, nil)
	if err != nil || ok {
		t.Fatalf("expected rejection, ok=%v err=%v", ok, err)
	}
	if len(hostErrs["prefs"]) != 1 || store.Len() != 0 {
		t.Fatalf("unexpected outcome errs=%v rows=%d", hostErrs, store.Len())
	}

	record.Attributes.Delete("prefs")
	if ok, err := e.Save(context.Background(), record, nil, nil); err != nil || !ok {
		t.Fatalf("Save: ok=%v err=%v", ok, err)
	}
	rows, _ := store.FindRowsByOwner(context.Background(), "u1")
	if len(rows) != 1 || rows[0].Value != "1" {
		t.Fatalf("expected boolean coerced to \"1\", got %+v", rows)
	}
}

func TestEngineBlankKeyIsReportedOnceUnderSystemKey(t *testing.T) {
	cfg := domain.NewEncodingConfig(domain.EncodingOptions{JSONEncoding: domain.Bool(false)})
	store := memory.NewStore()
	e, err := NewEngine("users", cfg, Deps{Schema: usersSchema, Store: store})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for _, value := range []any{map[string]any{"a": 1}, "plain"} {
		hostErrs := domain.ValidationErrors{}
		record := domain.NewHostRecord("users", "u1", domain.Attribute{Key: " ", Value: value}, domain.Attribute{Key: "nick", Value: "ada"})
		ok, err := e.Save(context.Background(), record, hostErrs, nil)
		if err != nil || ok {
			t.Fatalf("expected rejection, ok=%v err=%v", ok, err)
		}
		if fields := hostErrs.Fields(); len(fields) != 1 || fields[0] != domain.SystemErrorKey {
			t.Fatalf("expected only the system key, got %#v", hostErrs)
		}
		if got := hostErrs[domain.SystemErrorKey]; len(got) != 1 || got[0] != "attribute names must not be blank" {
			t.Fatalf("unexpected system errors %v", got)
		}
		if store.Len() != 0 {
			t.Fatalf("expected nothing written, got %d rows", store.Len())
		}
	}
}

func TestEngineHostWriteAssignsOwner(t *testing.T) {
	store := memory.NewStore()
	e := newUsersEngine(t, store, nil)
	record := domain.NewHostRecord("users", "", domain.Attribute{Key: "nick", Value: "ada"})
	ok, err := e.Save(context.Background(), record, nil, func(_ context.Context, r *domain.HostRecord) error {
		r.ID = "generated"
		return nil
	})
	if err != nil || !ok {
		t.Fatalf("Save: ok=%v err=%v", ok, err)
	}
	if _, found, _ := store.FindAttributeRow(context.Background(), "generated", "nick"); !found {
		t.Fatalf("expected row owned by the id assigned during the host write")
	}

	boom := errors.New("unique violation")
	if _, err := e.Save(context.Background(), record, nil, func(context.Context, *domain.HostRecord) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected host write error, got %v", err)
	}
}

func TestEngineSkipsHostTypesWithoutSchema(t *testing.T) {
	store := memory.NewStore()
	e, err := NewEngine("posts", domain.DefaultEncodingConfig(), Deps{Schema: usersSchema, Store: store})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ok, err := e.Save(context.Background(), domain.NewHostRecord("posts", "p1", domain.Attribute{Key: "tag", Value: "x"}), nil, nil)
	if err != nil || !ok || store.Len() != 0 {
		t.Fatalf("expected a no-op save, ok=%v err=%v rows=%d", ok, err, store.Len())
	}
}

func TestEngineLoadErrors(t *testing.T) {
	e := newUsersEngine(t, memory.NewStore(), nil)
	if err := e.Load(context.Background(), domain.NewHostRecord("users", "")); !errors.Is(err, domain.ErrEmptyOwner) {
		t.Fatalf("expected ErrEmptyOwner, got %v", err)
	}
	if err := e.Load(context.Background(), nil); err != nil {
		t.Fatalf("expected nil record to be ignored, got %v", err)
	}
	if _, err := NewEngine("", domain.DefaultEncodingConfig(), Deps{}); err == nil {
		t.Fatalf("expected host type error")
	}
	if _, err := NewEngine("users", domain.DefaultEncodingConfig(), Deps{Schema: usersSchema}); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestMergeOverwritesAndSkipsForeignRows(t *testing.T) {
	p := NewPipeline(domain.DefaultEncodingConfig(), nil)
	record := &domain.HostRecord{Type: "users", ID: "u1"}
	Merge(record, []domain.AttributeRow{
		{OwnerID: "u1", Key: "admin", Value: "true"},
		{OwnerID: "u2", Key: "nick", Value: "other"},
		{Key: "bio", Value: "hi"},
	}, p)
	if v, _ := record.Attributes.Get("admin"); v != true {
		t.Fatalf("expected decoded admin, got %#v", v)
	}
	if record.Attributes.Has("nick") || !record.Attributes.Has("bio") {
		t.Fatalf("unexpected merge result %v", record.Attributes.Keys())
	}
	if Merge(nil, nil, p) != nil {
		t.Fatalf("expected nil record passthrough")
	}
}
