package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the requested object or bucket does not exist
var ErrNotFound = errors.New("object not found")

// ContentTypeText is the content type of every reassembled object
const ContentTypeText = "text/plain"

// ObjectStore abstracts the blob store holding input and output objects.
// A bucket is an S3 bucket or an Azure container.
type ObjectStore interface {
	// Get opens the object for reading. The caller closes the returned reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Put writes the whole object, replacing any previous version.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error

	// BucketExists reports whether the bucket is present
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// List returns every object whose key starts with prefix, in key order
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// ObjectInfo describes a listed object
type ObjectInfo struct {
	Key  string
	Size int64
}
