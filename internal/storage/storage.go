// Package storage provides object storage abstractions for reading ETL input
// and writing table output.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage is the connector interface the engine reads input from and
// writes tables to. Implementations exist for S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// UploadMultipart uploads a file, in parts when it is larger than the
	// configured part size, and returns the object's ETag.
	UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies objectPath to localPath, creating parent directories.
	// A missing object yields ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// DeleteObjects removes every listed object, batching where the backend
	// allows it. Missing objects are ignored.
	DeleteObjects(ctx context.Context, objectPaths []string) error

	// ListObjects returns every object path under prefix in lexical order.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
	// Concurrency is the number of concurrent part uploads (default: 5).
	Concurrency int
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize:    5 * 1024 * 1024, // 5MB
		Concurrency: 5,
	}
}

var (
	_ ObjectStorage = (*S3Storage)(nil)
	_ ObjectStorage = (*LocalStorage)(nil)
)
