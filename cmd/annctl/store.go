package main

import (
	"context"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/annexec/blobstore"
	miniostore "github.com/hupe1980/annexec/blobstore/minio"
	s3store "github.com/hupe1980/annexec/blobstore/s3"
	"github.com/hupe1980/annexec/blobstore/sqlite"
)

// StoreConfig selects and configures a blob store.
type StoreConfig struct {
	// Kind is one of memory, local, sqlite, minio or s3.
	Kind string `yaml:"kind"`
	// Path is the directory (local) or database file (sqlite).
	Path string `yaml:"path"`

	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// openStore opens the configured store. The returned close func releases
// it.
func openStore(ctx context.Context, sc StoreConfig) (blobstore.BlobStore, func() error, error) {
	noop := func() error { return nil }

	switch sc.Kind {
	case "", "memory":
		return blobstore.NewMemoryStore(), noop, nil

	case "local":
		if sc.Path == "" {
			return nil, nil, fmt.Errorf("store: local requires path")
		}
		if err := os.MkdirAll(sc.Path, 0o755); err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return blobstore.NewLocalStore(sc.Path), noop, nil

	case "sqlite":
		if sc.Path == "" {
			return nil, nil, fmt.Errorf("store: sqlite requires path")
		}
		s, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return s, s.Close, nil

	case "minio":
		if sc.Endpoint == "" || sc.Bucket == "" {
			return nil, nil, fmt.Errorf("store: minio requires endpoint and bucket")
		}
		accessKey := firstNonEmpty(sc.AccessKey, os.Getenv("MINIO_ACCESS_KEY"))
		secretKey := firstNonEmpty(sc.SecretKey, os.Getenv("MINIO_SECRET_KEY"))
		client, err := minio.New(sc.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: sc.UseSSL,
			Region: sc.Region,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return miniostore.NewStore(client, sc.Bucket, sc.Prefix), noop, nil

	case "s3":
		if sc.Bucket == "" {
			return nil, nil, fmt.Errorf("store: s3 requires bucket")
		}
		opts := []func(*s3store.Options){s3store.WithPrefix(sc.Prefix)}
		if sc.Region != "" {
			opts = append(opts, s3store.WithRegion(sc.Region))
		}
		if sc.Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(sc.Endpoint))
		}
		s, err := s3store.New(ctx, sc.Bucket, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return s, noop, nil
	}
	return nil, nil, fmt.Errorf("store: unknown kind %q", sc.Kind)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
