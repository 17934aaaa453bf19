package expand

import (
	"context"
	"errors"
	"slices"
	"testing"

	"expandable/pkg/domain"
)

type stubValidator struct {
	errs  map[string][]string
	err   error
	calls int
	seen  []domain.AttributeRow
}

func (v *stubValidator) ValidateRows(_ context.Context, rows []domain.AttributeRow) (map[string][]string, error) {
	v.calls++
	v.seen = rows
	return v.errs, v.err
}

func TestAggregateMergesErrorsUnderAttributeNames(t *testing.T) {
	v := &stubValidator{errs: map[string][]string{"bio": {"is too long"}}}
	hostErrs := domain.ValidationErrors{}
	hostErrs.Add("bio", "host says no")
	rows := []domain.AttributeRow{{Key: "bio", Value: "x"}, {Key: "nick", Value: "y"}}
	ok, err := Aggregate(context.Background(), hostErrs, rows, v)
	if err != nil || ok {
		t.Fatalf("expected failing batch, ok=%v err=%v", ok, err)
	}
	if v.calls != 1 || len(v.seen) != 2 {
		t.Fatalf("expected one bulk validation call over every row, calls=%d rows=%d", v.calls, len(v.seen))
	}
	if got := hostErrs["bio"]; !slices.Equal(got, []string{"host says no", "is too long"}) {
		t.Fatalf("unexpected bio errors %v", got)
	}
	if _, ok := hostErrs["nick"]; ok {
		t.Fatalf("expected no entry for a passing key")
	}
}

func TestAggregateSystemKeyRecordedOnce(t *testing.T) {
	v := &stubValidator{errs: map[string][]string{"": {"blank"}, "ghost": {"unknown"}}}
	hostErrs := domain.ValidationErrors{}
	rows := []domain.AttributeRow{{Key: " "}, {Key: ""}, {Key: "nick"}}
	ok, err := Aggregate(context.Background(), hostErrs, rows, v)
	if err != nil || ok {
		t.Fatalf("expected failing batch, ok=%v err=%v", ok, err)
	}
	if got := hostErrs[domain.SystemErrorKey]; len(got) != 1 || got[0] != UnmappableKeyMessage {
		t.Fatalf("expected exactly one system error, got %v", got)
	}
	if fields := hostErrs.Fields(); !slices.Equal(fields, []string{domain.SystemErrorKey}) {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestAggregatePassesAndPropagatesErrors(t *testing.T) {
	ok, err := Aggregate(context.Background(), domain.ValidationErrors{}, []domain.AttributeRow{{Key: "bio"}}, &stubValidator{})
	if err != nil || !ok {
		t.Fatalf("expected passing batch, ok=%v err=%v", ok, err)
	}
	ok, err = Aggregate(context.Background(), domain.ValidationErrors{}, nil, nil)
	if err != nil || !ok {
		t.Fatalf("expected empty batch to pass, ok=%v err=%v", ok, err)
	}
	hostErrs := domain.ValidationErrors{}
	hostErrs.Add("name", "can't be blank")
	if ok, _ := Aggregate(context.Background(), hostErrs, nil, nil); ok {
		t.Fatalf("expected host errors to fail the batch")
	}
	boom := errors.New("rules offline")
	if _, err := Aggregate(context.Background(), domain.ValidationErrors{}, []domain.AttributeRow{{Key: "bio"}}, &stubValidator{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected validator error, got %v", err)
	}
}
