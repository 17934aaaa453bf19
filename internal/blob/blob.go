// Package blob selects the object store snapshot exports are written to and
// re-exports the core abstractions for callers outside the infra tree.
package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"expandable/internal/blob/core"
	"expandable/internal/infra/blob/fs"
	"expandable/internal/infra/blob/memory"
	infraS3 "expandable/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrNotFound is returned for missing blobs.
var ErrNotFound = core.ErrNotFound

// Config selects and configures a blob driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the configured store. An empty driver selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// ConfigFromEnv overlays environment variables onto base:
//
//	EXPANDABLE_EXPORT_DRIVER: memory|fs|s3
//	EXPANDABLE_EXPORT_FS_ROOT: directory root when driver=fs
//	EXPANDABLE_EXPORT_S3_BUCKET, EXPANDABLE_EXPORT_S3_REGION,
//	EXPANDABLE_EXPORT_S3_ENDPOINT, EXPANDABLE_EXPORT_S3_PATH_STYLE=true|false
func ConfigFromEnv(base Config) Config {
	if v := os.Getenv("EXPANDABLE_EXPORT_DRIVER"); v != "" {
		base.Driver = Driver(v)
	}
	if v := os.Getenv("EXPANDABLE_EXPORT_FS_ROOT"); v != "" {
		base.FSRoot = v
	}
	if v := os.Getenv("EXPANDABLE_EXPORT_S3_BUCKET"); v != "" {
		base.S3.Bucket = v
	}
	if v := os.Getenv("EXPANDABLE_EXPORT_S3_REGION"); v != "" {
		base.S3.Region = v
	}
	if v := os.Getenv("EXPANDABLE_EXPORT_S3_ENDPOINT"); v != "" {
		base.S3.Endpoint = v
	}
	if v := os.Getenv("EXPANDABLE_EXPORT_S3_PATH_STYLE"); v != "" {
		base.S3.PathStyle = strings.EqualFold(v, "true")
	}
	return base
}
