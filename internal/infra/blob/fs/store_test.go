package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"expandable/internal/blob/core"
)

func TestStoreRoundTripWithSidecar(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	info, err := s.Put(ctx, "users/u1.json.gz", strings.NewReader("payload"), core.PutOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		Metadata:        map[string]string{"rows": "3"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || len(info.ETag) != 16 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "users", "u1.json.gz.meta")); err != nil {
		t.Fatalf("expected sidecar: %v", err)
	}

	got, rc, err := s.Get(ctx, "users/u1.json.gz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "payload" || got.Metadata["rows"] != "3" || got.ContentEncoding != "gzip" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	replaced, err := s.Put(ctx, "users/u1.json.gz", strings.NewReader("other"), core.PutOptions{})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if replaced.ETag == info.ETag {
		t.Fatalf("expected etag to change with content")
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"", "  ", "/abs", "../escape", "a/../../b", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}

func TestStoreListHeadDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"users/b", "users/a", "orgs/a"} {
		if _, err := s.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := s.List(ctx, "users/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "users/a" || list[1].Key != "users/b" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if _, err := s.Head(ctx, "users/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, err := s.Delete(ctx, "users/a"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "users/a"); ok {
		t.Fatalf("expected missing blob on second delete")
	}
	if _, _, err := s.Get(ctx, "users/a"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
