// Package storage provides the object store the splitter reads from and the
// reassembler writes to. Two backends exist: any S3 compatible endpoint
// (AWS, MinIO) and Azure Blob Storage. Keys are file identities; buckets map
// to S3 buckets or Azure containers.
package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/Log-Tools/linepipe/internal/config"
)

// New creates the object store selected by cfg.Backend
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "s3":
		log.Printf("🪣 Using S3 object store at %s", cfg.S3.Endpoint)
		return NewS3Store(ctx, cfg.S3)
	case "azure":
		log.Printf("🪣 Using Azure object store for account %s", cfg.Azure.AccountName)
		return NewAzureStore(cfg.Azure)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// RequireBucket fails unless bucket exists. Used at startup, where a missing
// bucket is unrecoverable.
func RequireBucket(ctx context.Context, store ObjectStore, bucket string) error {
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist, please create it first: %w", bucket, ErrNotFound)
	}
	return nil
}
