package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Config selects and configures a driver.
type Config struct {
	Driver Driver   `toml:"driver"`
	FSRoot string   `toml:"fs_root"`
	S3     S3Config `toml:"s3"`
}

// ConfigFromEnv reads a driver configuration from the environment:
//
//	BLENDCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	BLENDCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	BLENDCORE_BLOB_S3_BUCKET, _REGION, _ENDPOINT, _PATH_STYLE: s3 settings
func ConfigFromEnv() Config {
	return ApplyEnv(Config{}, os.Getenv)
}

// ApplyEnv overlays BLENDCORE_BLOB_* variables that are set onto cfg.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if v := getenv("BLENDCORE_BLOB_DRIVER"); v != "" {
		cfg.Driver = Driver(strings.ToLower(v))
	}
	if v := getenv("BLENDCORE_BLOB_FS_ROOT"); v != "" {
		cfg.FSRoot = v
	}
	if v := getenv("BLENDCORE_BLOB_S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := getenv("BLENDCORE_BLOB_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := getenv("BLENDCORE_BLOB_S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := getenv("BLENDCORE_BLOB_S3_PATH_STYLE"); v != "" {
		cfg.S3.PathStyle = strings.EqualFold(v, "true")
	}
	return cfg
}

// Open constructs the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
