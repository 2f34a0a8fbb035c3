package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects a store from explicit parameters. dsn is the filesystem
// root for the fs driver; the s3 driver configures itself from the
// environment.
func Open(ctx context.Context, driver Driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFilesystem:
		return NewFilesystemStore(dsn)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", driver)
	}
}

// OpenFromEnv selects a store using environment variables:
//
//	TELIC_BLOB_DRIVER   memory|fs|s3 (default fs)
//	TELIC_BLOB_FS_ROOT  directory root when driver=fs (default ./blobdata)
func OpenFromEnv(ctx context.Context) (Store, error) {
	driver := Driver(os.Getenv("TELIC_BLOB_DRIVER"))
	if driver == "" {
		driver = DriverFilesystem
	}
	dsn := os.Getenv("TELIC_BLOB_FS_ROOT")
	if dsn == "" {
		dsn = "./blobdata"
	}
	return Open(ctx, driver, dsn)
}
