package config

import (
	"fmt"

	"github.com/lewisedginton/chat_memory/internal/storage_manager"
)

// StorageConfig is where exports are written.
type StorageConfig struct {
	Backend    string `env:"STORAGE_BACKEND" yaml:"backend" default:"local"` // "local" or "s3"
	LocalDir   string `env:"STORAGE_LOCAL_DIR" yaml:"local_dir" default:"./data/exports"`
	S3Bucket   string `env:"STORAGE_S3_BUCKET" yaml:"s3_bucket"`
	S3Prefix   string `env:"STORAGE_S3_PREFIX" yaml:"s3_prefix"`
	S3Region   string `env:"STORAGE_S3_REGION" yaml:"s3_region"`
	S3Profile  string `env:"STORAGE_S3_PROFILE" yaml:"s3_profile"`
	S3Endpoint string `env:"STORAGE_S3_ENDPOINT" yaml:"s3_endpoint"` // for MinIO and other S3 compatible stores
}

func (s StorageConfig) Validate() error {
	switch storage_manager.BackendType(s.Backend) {
	case storage_manager.BackendLocal:
		if s.LocalDir == "" {
			return fmt.Errorf("local_dir is required for the local backend")
		}
	case storage_manager.BackendS3:
		if s.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("backend must be local or s3, got %q", s.Backend)
	}
	return nil
}

// StorageManagerConfig converts the section for storage_manager.New.
func (s StorageConfig) StorageManagerConfig() storage_manager.Config {
	return storage_manager.Config{
		Backend:     storage_manager.BackendType(s.Backend),
		LocalConfig: &storage_manager.LocalConfig{BaseDir: s.LocalDir},
		S3Config: &storage_manager.S3Config{
			Bucket:   s.S3Bucket,
			Prefix:   s.S3Prefix,
			Region:   s.S3Region,
			Profile:  s.S3Profile,
			Endpoint: s.S3Endpoint,
		},
	}
}
