package blob

import (
	"context"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, Config{})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("expected memory default, got %v err=%v", mem, err)
	}
	fsStore, err := Open(ctx, Config{Driver: DriverFilesystem, FSRoot: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected fs store, got %v err=%v", fsStore, err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestConfigFromEnvOverlays(t *testing.T) {
	t.Setenv("EXPANDABLE_EXPORT_DRIVER", "s3")
	t.Setenv("EXPANDABLE_EXPORT_S3_BUCKET", "snapshots")
	t.Setenv("EXPANDABLE_EXPORT_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("EXPANDABLE_EXPORT_S3_PATH_STYLE", "TRUE")
	cfg := ConfigFromEnv(Config{Driver: DriverMemory, S3: S3Config{Region: "eu-west-1"}})
	if cfg.Driver != DriverS3 || cfg.S3.Bucket != "snapshots" || !cfg.S3.PathStyle {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.S3.Region != "eu-west-1" || cfg.S3.Endpoint != "http://minio:9000" {
		t.Fatalf("expected region kept and endpoint set: %+v", cfg.S3)
	}
}
